package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaychat/relaychat/pkg/protocol"
)

// EventChannel is the redis channel the backend publishes messaging events on.
const EventChannel = "messaging_events"

// Bridge subscribes to the backend's redis channel and routes each event to
// the connected clients it concerns.
type Bridge struct {
	rdb *redis.Client
	hub *Hub
	log *zap.Logger
}

// NewBridge connects to redis at redisURL and verifies the connection.
func NewBridge(redisURL string, hub *Hub, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Bridge{rdb: rdb, hub: hub, log: logger.Named("bridge")}, nil
}

// Run consumes events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, EventChannel)
	defer pubsub.Close()

	b.log.Info("subscribed", zap.String("channel", EventChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.Route([]byte(msg.Payload))
		}
	}
}

// Close closes the redis connection.
func (b *Bridge) Close() error {
	return b.rdb.Close()
}

// backendEvent is the shape the backend publishes: a type tag plus a loosely
// typed data object it fully controls.
type backendEvent struct {
	Type protocol.EventType `json:"type"`
	Data map[string]any     `json:"data"`
}

// Route re-envelopes one backend event with a fresh timestamp and delivers it
// to the group or the involved users. Unroutable events are logged and
// dropped.
func (b *Bridge) Route(payload []byte) {
	var event backendEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.log.Warn("malformed backend event", zap.Error(err))
		return
	}
	if event.Type == "" {
		b.log.Warn("backend event without type")
		return
	}

	frame, err := EncodeEvent(event.Type, event.Data)
	if err != nil {
		b.log.Warn("encode backend event", zap.Error(err))
		return
	}

	switch event.Type {
	case protocol.EventGroupMessage,
		protocol.EventUserJoined,
		protocol.EventUserLeft,
		protocol.EventUserRemoved,
		protocol.EventMemberPromoted,
		protocol.EventMessageDeleted:
		groupID := stringField(event.Data, "group_id")
		if groupID == "" {
			b.log.Warn("group event without group_id", zap.String("type", string(event.Type)))
			return
		}
		b.hub.BroadcastToGroup(groupID, frame)

	case protocol.EventPrivateMessage:
		b.hub.SendToUser(stringField(event.Data, "sender_id"), frame)
		b.hub.SendToUser(stringField(event.Data, "recipient_id"), frame)

	case protocol.EventMessageRead:
		// The read receipt goes back to whoever sent the messages.
		if senderID := stringField(event.Data, "sender_id"); senderID != "" {
			b.hub.SendToUser(senderID, frame)
		} else if groupID := stringField(event.Data, "group_id"); groupID != "" {
			b.hub.BroadcastToGroup(groupID, frame)
		}

	case protocol.EventUnreadCountUpdate:
		b.hub.SendToUser(stringField(event.Data, "user_id"), frame)

	default:
		b.log.Debug("unrouted backend event", zap.String("type", string(event.Type)))
	}
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
