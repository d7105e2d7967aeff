package realtime_test

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relaychat/internal/realtime"
	"github.com/relaychat/relaychat/pkg/protocol"
)

// fakeConn is a scripted transport. ReadMessage blocks on the inbound channel
// until the conn is closed.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer replays a script of dial outcomes; once the script is spent it
// keeps returning the last outcome.
type fakeDialer struct {
	mu     sync.Mutex
	script []func() (realtime.Conn, error)
	dials  int
	urls   []string
}

func (d *fakeDialer) Dial(url string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	idx := d.dials - 1
	if idx >= len(d.script) {
		idx = len(d.script) - 1
	}
	return d.script[idx]()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) dialedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func alwaysFail() func() (realtime.Conn, error) {
	return func() (realtime.Conn, error) { return nil, errors.New("connection refused") }
}

func succeedWith(conn *fakeConn) func() (realtime.Conn, error) {
	return func() (realtime.Conn, error) { return conn, nil }
}

// eventRecorder collects emitted event types in order.
type eventRecorder struct {
	mu    sync.Mutex
	types []protocol.EventType
}

func (r *eventRecorder) record(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, env.Type)
}

func (r *eventRecorder) count(t protocol.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, et := range r.types {
		if et == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) all() []protocol.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.EventType(nil), r.types...)
}

func newTestClient(dialer realtime.Dialer) (*realtime.Client, *eventRecorder) {
	c := realtime.NewClient(realtime.Options{
		URL:        "ws://relay.test/ws",
		RetryDelay: 10 * time.Millisecond,
		MaxRetries: 5,
		Dialer:     dialer,
	})
	rec := &eventRecorder{}
	for _, et := range []protocol.EventType{
		protocol.EventConnected, protocol.EventDisconnected, protocol.EventFailed,
	} {
		c.On(et, rec.record)
	}
	return c, rec
}

func TestClient_ConnectWithoutCredential(t *testing.T) {
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){alwaysFail()}}
	c, _ := newTestClient(dialer)

	err := c.Connect("")

	assert.ErrorIs(t, err, realtime.ErrMissingToken)
	assert.Equal(t, realtime.StateIdle, c.State())
	assert.Equal(t, 0, dialer.dialCount(), "precondition violation must not dial")
}

func TestClient_ConnectAppendsTokenAsQueryParam(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){succeedWith(conn)}}
	c, _ := newTestClient(dialer)
	defer c.Disconnect()

	require.NoError(t, c.Connect("abc def"))

	urls := dialer.dialedURLs()
	require.Len(t, urls, 1)
	assert.Equal(t, "ws://relay.test/ws?token=abc+def", urls[0])
}

func TestClient_ConnectSuccess(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){succeedWith(conn)}}
	c, rec := newTestClient(dialer)
	defer c.Disconnect()

	require.NoError(t, c.Connect("abc"))

	assert.Equal(t, realtime.StateOpen, c.State())
	assert.Equal(t, 1, rec.count(protocol.EventConnected))
}

func TestClient_InboundFramesDispatchedInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){succeedWith(conn)}}
	c, _ := newTestClient(dialer)
	defer c.Disconnect()

	var mu sync.Mutex
	var contents []string
	c.On(protocol.EventGroupMessage, func(env protocol.Envelope) {
		var msg protocol.GroupMessage
		require.NoError(t, protocol.DecodePayload(env, &msg))
		mu.Lock()
		contents = append(contents, msg.Content)
		mu.Unlock()
	})

	require.NoError(t, c.Connect("abc"))

	// One delivery with a malformed line between two good ones.
	conn.inbound <- []byte(`{"type":"group_message","data":{"content":"one"}}` + "\n" +
		`broken json` + "\n" +
		`{"type":"group_message","data":{"content":"two"}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(contents) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"one", "two"}, contents)
	mu.Unlock()
}

func TestClient_SendWhileDisconnectedIsDropped(t *testing.T) {
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){alwaysFail()}}
	c, _ := newTestClient(dialer)

	err := c.Send(protocol.EventTyping, protocol.TypingRequest{GroupID: "g1", IsTyping: true})

	assert.ErrorIs(t, err, realtime.ErrNotConnected)
}

func TestClient_SendWritesOneEnvelopeFrame(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){succeedWith(conn)}}
	c, _ := newTestClient(dialer)
	defer c.Disconnect()

	require.NoError(t, c.Connect("abc"))
	require.NoError(t, c.SendGroupTyping("g1", true))

	frames := conn.sentFrames()
	require.Len(t, frames, 1)
	assert.False(t, strings.Contains(string(frames[0]), "\n"))

	var out struct {
		Type      string                 `json:"type"`
		Data      map[string]any         `json:"data"`
		Timestamp string                 `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &out))
	assert.Equal(t, "typing", out.Type)
	assert.Equal(t, "g1", out.Data["group_id"])
	assert.Equal(t, true, out.Data["is_typing"])
	assert.NotEmpty(t, out.Timestamp)
}

func TestClient_RetriesAreBoundedAndFailedEmittedOnce(t *testing.T) {
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){alwaysFail()}}
	c, rec := newTestClient(dialer)

	err := c.Connect("abc")
	require.Error(t, err)

	// 1 explicit dial + 5 automatic retries, then the terminal failure.
	require.Eventually(t, func() bool {
		return rec.count(protocol.EventFailed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 6, dialer.dialCount())
	assert.Equal(t, realtime.StateClosed, c.State())
	assert.Equal(t, 6, rec.count(protocol.EventDisconnected))

	// No further automatic attempts after the terminal failure.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, dialer.dialCount())
	assert.Equal(t, 1, rec.count(protocol.EventFailed))
}

func TestClient_LostConnectionScenario(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){
		succeedWith(conn),
		alwaysFail(),
	}}
	c, rec := newTestClient(dialer)

	require.NoError(t, c.Connect("abc"))
	assert.Equal(t, 1, rec.count(protocol.EventConnected))

	// Server drops the transport; dials keep failing until exhaustion.
	conn.Close()

	require.Eventually(t, func() bool {
		return rec.count(protocol.EventFailed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Initial dial + 5 automatic retries after the close.
	assert.Equal(t, 6, dialer.dialCount())
	assert.Equal(t, realtime.StateClosed, c.State())
}

func TestClient_RetryCounterResetsOnSuccessfulOpen(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){
		alwaysFail(),        // explicit connect fails
		succeedWith(conn1),  // first retry succeeds, counter resets
		alwaysFail(),        // after conn1 drops: retries get a full budget again
		alwaysFail(),
		alwaysFail(),
		alwaysFail(),
		succeedWith(conn2),  // fifth retry of the second cycle
	}}
	c, rec := newTestClient(dialer)
	defer c.Disconnect()

	_ = c.Connect("abc")

	require.Eventually(t, func() bool {
		return rec.count(protocol.EventConnected) == 1
	}, 2*time.Second, 5*time.Millisecond)

	conn1.Close()

	require.Eventually(t, func() bool {
		return rec.count(protocol.EventConnected) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, rec.count(protocol.EventFailed))
	assert.Equal(t, realtime.StateOpen, c.State())
}

func TestClient_ExplicitDisconnectSuppressesRetry(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){succeedWith(conn)}}
	c, rec := newTestClient(dialer)

	require.NoError(t, c.Connect("abc"))
	c.Disconnect()

	assert.Equal(t, realtime.StateIdle, c.State())

	// The transport close that follows Disconnect must not reconnect.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 0, rec.count(protocol.EventFailed))
}

func TestClient_DisconnectCancelsPendingRetry(t *testing.T) {
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){alwaysFail()}}
	c, _ := newTestClient(dialer)

	_ = c.Connect("abc")
	require.Equal(t, 1, dialer.dialCount())

	c.Disconnect()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount(), "retry timer must be cancelled")
	assert.Equal(t, realtime.StateIdle, c.State())
}

func TestClient_ReconnectReusesLastCredential(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{script: []func() (realtime.Conn, error){
		alwaysFail(),
		succeedWith(conn),
	}}
	c, rec := newTestClient(dialer)
	defer c.Disconnect()

	_ = c.Connect("tok-123")

	require.Eventually(t, func() bool {
		return rec.count(protocol.EventConnected) == 1
	}, 2*time.Second, 5*time.Millisecond)

	urls := dialer.dialedURLs()
	require.Len(t, urls, 2)
	assert.Equal(t, urls[0], urls[1])
	assert.True(t, strings.HasSuffix(urls[1], "token=tok-123"))
}
