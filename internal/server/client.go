package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaychat/relaychat/pkg/protocol"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 512 * 1024

	sendBuffer = 256
)

// Client is one connected user. ID distinguishes successive connections of
// the same user in logs.
type Client struct {
	ID       string
	UserID   string
	Username string

	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps an upgraded connection for the given user.
func NewClient(hub *Hub, conn *websocket.Conn, userID, username string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		hub:      hub,
		conn:     conn,
		log: logger.Named("client").With(
			zap.String("conn_id", id),
			zap.String("user_id", userID)),
		send: make(chan []byte, sendBuffer),
	}
}

// Run starts the pumps and blocks until the connection is gone.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// Close tears the connection down; the read pump then unregisters.
func (c *Client) Close() {
	c.conn.Close()
}

// enqueue queues one frame for delivery. A slow client with a full buffer
// loses the frame rather than blocking the sender.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping frame")
	}
}

// closeSend closes the send channel exactly once, ending the write pump.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads client envelopes until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", zap.Error(err))
			}
			return
		}
		c.handleFrame(data)
	}
}

// writePump drains the send channel. Frames queued behind the first are
// coalesced into one websocket message joined by newlines; the client splits
// them back apart.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame processes one client-originated envelope. A malformed frame is
// logged and skipped; it does not affect the connection.
func (c *Client) handleFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("malformed envelope", zap.Error(err))
		return
	}

	switch env.Type {
	case protocol.EventSubscribeGroup:
		var req protocol.SubscribeRequest
		if err := protocol.DecodePayload(env, &req); err != nil {
			c.log.Warn("bad subscribe payload", zap.Error(err))
			return
		}
		c.hub.SubscribeGroup(c, req.GroupID)

	case protocol.EventUnsubscribeGroup:
		var req protocol.SubscribeRequest
		if err := protocol.DecodePayload(env, &req); err != nil {
			c.log.Warn("bad unsubscribe payload", zap.Error(err))
			return
		}
		c.hub.UnsubscribeGroup(c, req.GroupID)

	case protocol.EventTyping:
		c.handleTyping(env)

	case protocol.EventGetOnlineUsers:
		frame, err := EncodeEvent(protocol.EventOnlineUsersList, protocol.OnlineUsersList{
			Users: c.hub.OnlineUsers(),
		})
		if err == nil {
			c.enqueue(frame)
		}

	case protocol.EventPing:
		if frame, err := EncodeEvent(protocol.EventPong, nil); err == nil {
			c.enqueue(frame)
		}

	default:
		c.log.Debug("unhandled envelope", zap.String("type", string(env.Type)))
	}
}

// handleTyping fans a typing signal out to the group (sender excluded) or to
// the private peer.
func (c *Client) handleTyping(env protocol.Envelope) {
	var req protocol.TypingRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.log.Warn("bad typing payload", zap.Error(err))
		return
	}

	indicator := protocol.TypingIndicator{
		UserID:      c.UserID,
		Username:    c.Username,
		GroupID:     req.GroupID,
		RecipientID: req.RecipientID,
		IsTyping:    req.IsTyping,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	frame, err := EncodeEvent(protocol.EventTypingIndicator, indicator)
	if err != nil {
		return
	}

	switch {
	case req.GroupID != "":
		c.hub.BroadcastToGroup(req.GroupID, frame, c.UserID)
	case req.RecipientID != "":
		c.hub.SendToUser(req.RecipientID, frame)
	}
}
