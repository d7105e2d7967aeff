// Package realtime implements the client side of the relay protocol: a single
// logical websocket connection with bounded fixed-delay retry, an event
// dispatcher over the inbound stream, and the uniform outbound envelope.
package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaychat/relaychat/pkg/protocol"
)

// Retry defaults. A fixed delay and a fixed bound are deliberate: the client
// has a human operator who can reconnect explicitly once retries run out.
const (
	DefaultRetryDelay = 3 * time.Second
	DefaultMaxRetries = 5
)

var (
	// ErrMissingToken is returned by Connect when no credential is given.
	// This is a precondition violation, not a retryable failure.
	ErrMissingToken = errors.New("realtime: missing credential")

	// ErrNotConnected is returned by Send when the connection is not open.
	// The message is dropped, never queued.
	ErrNotConnected = errors.New("realtime: not connected")
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	// URL is the relay endpoint, e.g. "ws://host:8001/ws". The credential
	// is appended as a query parameter on every dial.
	URL string

	RetryDelay time.Duration
	MaxRetries int

	Dialer Dialer
	Logger *zap.Logger
}

// Client owns one logical connection to the relay server. All methods are
// safe for concurrent use.
type Client struct {
	opts       Options
	log        *zap.Logger
	dispatcher *Dispatcher

	mu       sync.Mutex
	state    State
	conn     Conn
	token    string
	attempts int
	retry    *time.Timer

	// gen invalidates stale read pumps and retry timers. It advances on
	// every explicit Connect and Disconnect so callbacks from a previous
	// transport cannot touch the current one.
	gen uint64
}

// NewClient creates a Client in StateIdle. No connection is made until
// Connect is called.
func NewClient(opts Options) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("realtime")
	return &Client{
		opts:       opts,
		log:        log,
		dispatcher: NewDispatcher(opts.Logger),
		state:      StateIdle,
	}
}

// Dispatcher returns the client's event dispatcher.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// On registers a handler for eventType. See Dispatcher.On.
func (c *Client) On(eventType protocol.EventType, handler Handler) HandlerID {
	return c.dispatcher.On(eventType, handler)
}

// Off removes the registration identified by id. See Dispatcher.Off.
func (c *Client) Off(eventType protocol.EventType, id HandlerID) {
	c.dispatcher.Off(eventType, id)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the connection using token as the credential. An empty
// token fails fast without dialing. A dial failure is returned to the caller
// and also starts the automatic retry cycle.
func (c *Client) Connect(token string) error {
	if token == "" {
		c.log.Warn("connect called without credential")
		return ErrMissingToken
	}

	c.mu.Lock()
	c.cancelRetryLocked()
	if c.conn != nil {
		// At most one live transport per client.
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
	gen := c.gen
	c.token = token
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dial(gen)
}

// Disconnect closes the transport, cancels any pending retry and returns the
// client to StateIdle. A transport-close callback arriving afterwards will
// not schedule a reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
	c.attempts = 0
	c.mu.Unlock()

	c.log.Info("disconnected by caller")
}

// Send wraps data in an outbound envelope and transmits it as one frame.
// When the connection is not open the message is dropped with a warning;
// nothing is buffered for later.
func (c *Client) Send(eventType protocol.EventType, data any) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		c.log.Warn("dropping send while not connected",
			zap.String("event_type", string(eventType)),
			zap.String("state", state.String()))
		return ErrNotConnected
	}

	frame, err := protocol.EncodeOutgoing(protocol.NewOutgoing(eventType, data))
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("encode envelope: %w", err)
	}

	err = c.conn.WriteMessage(frame)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) dial(gen uint64) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	endpoint := c.opts.URL + "?token=" + url.QueryEscape(token)
	conn, err := c.opts.Dialer.Dial(endpoint)

	c.mu.Lock()
	if gen != c.gen {
		// Superseded by an explicit Connect or Disconnect mid-dial.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("dial failed", zap.Error(err))
		c.connectionLost(gen)
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.log.Info("connected", zap.String("url", c.opts.URL))
	c.dispatcher.Emit(protocol.Envelope{Type: protocol.EventConnected})

	go c.readPump(conn, gen)
	return nil
}

// readPump delivers inbound envelopes in arrival order. Dispatch is
// synchronous so handlers observe events in the order the transport
// delivered them.
func (c *Client) readPump(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen)
			return
		}

		envelopes, malformed := protocol.DecodeFrames(data)
		if malformed > 0 {
			c.log.Warn("skipped malformed frames", zap.Int("count", malformed))
		}
		for _, env := range envelopes {
			c.dispatcher.Emit(env)
		}
	}
}

// connectionLost handles a transport error or close for generation gen:
// transition to StateClosed, emit disconnected, and either schedule a retry
// or, with retries exhausted, emit the terminal failed status.
func (c *Client) connectionLost(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed

	exhausted := c.attempts >= c.opts.MaxRetries
	if !exhausted {
		c.attempts++
		attempt := c.attempts
		c.retry = time.AfterFunc(c.opts.RetryDelay, func() { c.retryConnect(gen) })
		c.log.Info("connection lost, reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Int("max", c.opts.MaxRetries),
			zap.Duration("delay", c.opts.RetryDelay))
	}
	c.mu.Unlock()

	c.dispatcher.Emit(protocol.Envelope{Type: protocol.EventDisconnected})
	if exhausted {
		c.log.Error("reconnect attempts exhausted, giving up")
		c.dispatcher.Emit(protocol.Envelope{Type: protocol.EventFailed})
	}
}

func (c *Client) retryConnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = StateConnecting
	c.mu.Unlock()

	_ = c.dial(gen)
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
