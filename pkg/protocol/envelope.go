// Package protocol defines the wire format shared by the relay server and the
// real-time client: JSON envelopes tagged by event type, delivered as text
// frames that may carry several newline-joined envelopes at once.
package protocol

import (
	"encoding/json"
	"time"
)

// EventType tags every envelope on the wire.
type EventType string

// Server-to-client event kinds.
const (
	EventConnected         EventType = "connected"
	EventDisconnected      EventType = "disconnected"
	EventError             EventType = "error"
	EventFailed            EventType = "failed"
	EventGroupMessage      EventType = "group_message"
	EventPrivateMessage    EventType = "private_message"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventUserRemoved       EventType = "user_removed"
	EventMemberPromoted    EventType = "member_promoted"
	EventTypingIndicator   EventType = "typing_indicator"
	EventMessageDeleted    EventType = "message_deleted"
	EventMessageRead       EventType = "message_read"
	EventUnreadCountUpdate EventType = "unread_count_update"
	EventOnlineUsersList   EventType = "online_users_list"
	EventUserStatus        EventType = "user_status"
)

// Client-to-server event kinds.
const (
	EventSubscribeGroup   EventType = "subscribe_group"
	EventUnsubscribeGroup EventType = "unsubscribe_group"
	EventTyping           EventType = "typing"
	EventGetOnlineUsers   EventType = "get_online_users"
	EventPing             EventType = "ping"
	EventPong             EventType = "pong"
)

// Envelope is one inbound message. Data is kept raw so each consumer decodes
// only the payloads it cares about; an unknown Type is still routable by tag.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outgoing is one client-to-server message. Built fresh per send, never stored.
type Outgoing struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// NewOutgoing wraps an application event in the uniform outbound envelope.
// It does not validate the payload shape; the server is the source of truth
// for acceptance.
func NewOutgoing(eventType EventType, data any) Outgoing {
	return Outgoing{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// GroupMessage is the payload of a group_message event.
type GroupMessage struct {
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	GroupID        string `json:"group_id"`
	GroupName      string `json:"group_name"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	MessageType    string `json:"message_type"`
}

// PrivateMessage is the payload of a private_message event.
type PrivateMessage struct {
	MessageID         string `json:"message_id"`
	SenderID          string `json:"sender_id"`
	SenderUsername    string `json:"sender_username"`
	RecipientID       string `json:"recipient_id"`
	RecipientUsername string `json:"recipient_username"`
	Content           string `json:"content"`
	Timestamp         string `json:"timestamp"`
	MessageType       string `json:"message_type"`
}

// UserEvent is the payload of user_joined, user_left, user_removed and
// member_promoted events.
type UserEvent struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
}

// TypingIndicator is the payload of a typing_indicator event. Either GroupID
// or RecipientID is set depending on where the user is typing.
type TypingIndicator struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	GroupID     string `json:"group_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	IsTyping    bool   `json:"is_typing"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// MessageDeleted is the payload of a message_deleted event.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
	GroupID   string `json:"group_id,omitempty"`
	DeletedBy string `json:"deleted_by"`
}

// MessageRead is the payload of a message_read event.
type MessageRead struct {
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id"`
	ChatID     string   `json:"chat_id,omitempty"`
}

// UnreadCountUpdate is the payload of an unread_count_update event.
type UnreadCountUpdate struct {
	ChatID string `json:"chat_id"`
	Count  int    `json:"count"`
}

// UserStatus is the payload of a user_status event.
type UserStatus struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// OnlineUsersList is the payload of an online_users_list event.
type OnlineUsersList struct {
	Users []UserStatus `json:"users"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
