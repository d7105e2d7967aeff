package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relaychat/pkg/protocol"
)

func newTestClient(hub *Hub, userID, username string) *Client {
	return NewClient(hub, nil, userID, username, nil)
}

// drainFrames collects the frames currently queued for c without blocking.
func drainFrames(c *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func frameTypes(t *testing.T, frames [][]byte) []protocol.EventType {
	t.Helper()
	types := make([]protocol.EventType, 0, len(frames))
	for _, frame := range frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		types = append(types, env.Type)
	}
	return types
}

func TestHub_RegisterBroadcastsOnline(t *testing.T) {
	hub := NewHub(nil)
	alice := newTestClient(hub, "u1", "alice")
	hub.Register(alice)

	bob := newTestClient(hub, "u2", "bob")
	hub.Register(bob)

	types := frameTypes(t, drainFrames(alice))
	require.Len(t, types, 1)
	assert.Equal(t, protocol.EventUserStatus, types[0])

	// The joining user does not receive their own status change.
	assert.Empty(t, drainFrames(bob))
}

func TestHub_ReplacementClosesPrevious(t *testing.T) {
	hub := NewHub(nil)
	first := newTestClient(hub, "u1", "alice")
	hub.Register(first)

	second := newTestClient(hub, "u1", "alice")
	hub.Register(second)

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	assert.True(t, closed, "previous connection should be closed")
	assert.Equal(t, 1, hub.ClientCount())

	// A replacement is not a fresh online transition.
	assert.Empty(t, drainFrames(second))
}

func TestHub_StaleUnregisterIgnored(t *testing.T) {
	hub := NewHub(nil)
	first := newTestClient(hub, "u1", "alice")
	hub.Register(first)
	second := newTestClient(hub, "u1", "alice")
	hub.Register(second)

	// The old read pump unregisters after the replacement landed.
	hub.Unregister(first)

	assert.Equal(t, 1, hub.ClientCount())
	second.mu.Lock()
	closed := second.closed
	second.mu.Unlock()
	assert.False(t, closed)
}

func TestHub_UnregisterBroadcastsOfflineAndCleansGroups(t *testing.T) {
	hub := NewHub(nil)
	alice := newTestClient(hub, "u1", "alice")
	bob := newTestClient(hub, "u2", "bob")
	hub.Register(alice)
	hub.Register(bob)
	hub.SubscribeGroup(bob, "g1")
	drainFrames(alice)

	hub.Unregister(bob)

	types := frameTypes(t, drainFrames(alice))
	require.Len(t, types, 1)
	assert.Equal(t, protocol.EventUserStatus, types[0])

	// bob's membership is gone; nothing reaches his old client.
	frame, err := EncodeEvent(protocol.EventGroupMessage, map[string]any{"group_id": "g1"})
	require.NoError(t, err)
	hub.BroadcastToGroup("g1", frame)
	assert.Empty(t, drainFrames(bob))
}

func TestHub_BroadcastToGroupRespectsMembershipAndExcept(t *testing.T) {
	hub := NewHub(nil)
	alice := newTestClient(hub, "u1", "alice")
	bob := newTestClient(hub, "u2", "bob")
	carol := newTestClient(hub, "u3", "carol")
	hub.Register(alice)
	hub.Register(bob)
	hub.Register(carol)
	hub.SubscribeGroup(alice, "g1")
	hub.SubscribeGroup(bob, "g1")
	drainFrames(alice)
	drainFrames(bob)
	drainFrames(carol)

	frame, err := EncodeEvent(protocol.EventTypingIndicator, protocol.TypingIndicator{
		UserID:  "u1",
		GroupID: "g1",
	})
	require.NoError(t, err)
	hub.BroadcastToGroup("g1", frame, "u1")

	assert.Empty(t, drainFrames(alice), "excepted sender should not receive")
	assert.Len(t, drainFrames(bob), 1)
	assert.Empty(t, drainFrames(carol), "non-member should not receive")
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	alice := newTestClient(hub, "u1", "alice")
	hub.Register(alice)
	hub.SubscribeGroup(alice, "g1")
	hub.UnsubscribeGroup(alice, "g1")

	frame, err := EncodeEvent(protocol.EventGroupMessage, map[string]any{"group_id": "g1"})
	require.NoError(t, err)
	hub.BroadcastToGroup("g1", frame)

	assert.Empty(t, drainFrames(alice))
}

func TestHub_SendToUser(t *testing.T) {
	hub := NewHub(nil)
	alice := newTestClient(hub, "u1", "alice")
	hub.Register(alice)

	frame, err := EncodeEvent(protocol.EventPrivateMessage, map[string]any{"content": "hi"})
	require.NoError(t, err)

	hub.SendToUser("u1", frame)
	assert.Len(t, drainFrames(alice), 1)

	// Unknown users are a no-op.
	hub.SendToUser("u9", frame)
}

func TestHub_OnlineUsersSortedByUsername(t *testing.T) {
	hub := NewHub(nil)
	hub.Register(newTestClient(hub, "u3", "carol"))
	hub.Register(newTestClient(hub, "u1", "alice"))
	hub.Register(newTestClient(hub, "u2", "bob"))

	users := hub.OnlineUsers()
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "carol", users[2].Username)
	for _, u := range users {
		assert.True(t, u.Online)
	}
}
