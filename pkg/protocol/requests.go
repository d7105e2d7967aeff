package protocol

// SubscribeRequest is the data of subscribe_group and unsubscribe_group.
type SubscribeRequest struct {
	GroupID string `json:"group_id"`
}

// TypingRequest is the data of a client-originated typing event. Exactly one
// of GroupID or RecipientID is set, depending on where the user is typing.
type TypingRequest struct {
	GroupID     string `json:"group_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	IsTyping    bool   `json:"is_typing"`
}
