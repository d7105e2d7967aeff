package realtime

import (
	"github.com/relaychat/relaychat/pkg/protocol"
)

// SubscribeGroup asks the relay to route the group's events to this
// connection.
func (c *Client) SubscribeGroup(groupID string) error {
	return c.Send(protocol.EventSubscribeGroup, protocol.SubscribeRequest{GroupID: groupID})
}

// UnsubscribeGroup stops routing of the group's events to this connection.
func (c *Client) UnsubscribeGroup(groupID string) error {
	return c.Send(protocol.EventUnsubscribeGroup, protocol.SubscribeRequest{GroupID: groupID})
}

// SendGroupTyping reports the user's typing state in a group.
func (c *Client) SendGroupTyping(groupID string, isTyping bool) error {
	return c.Send(protocol.EventTyping, protocol.TypingRequest{GroupID: groupID, IsTyping: isTyping})
}

// SendPrivateTyping reports the user's typing state in a private chat.
func (c *Client) SendPrivateTyping(recipientID string, isTyping bool) error {
	return c.Send(protocol.EventTyping, protocol.TypingRequest{RecipientID: recipientID, IsTyping: isTyping})
}

// RequestOnlineUsers asks the relay for the current online_users_list.
func (c *Client) RequestOnlineUsers() error {
	return c.Send(protocol.EventGetOnlineUsers, nil)
}
