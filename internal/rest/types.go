package rest

// User is a chat participant as returned by the backend.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Tokens is the JWT pair issued at login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginResult is the login response body.
type LoginResult struct {
	Message string `json:"message"`
	User    User   `json:"user"`
	Tokens  Tokens `json:"tokens"`
}

// Group is a chat group.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
}

// Member is a group member with its role flag.
type Member struct {
	User    User `json:"user"`
	IsAdmin bool `json:"is_admin"`
}

// Message is one chat message, group or private.
type Message struct {
	ID          string `json:"id"`
	Sender      User   `json:"sender"`
	GroupID     string `json:"group,omitempty"`
	RecipientID string `json:"recipient,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	CreatedAt   string `json:"created_at"`
}

// SendMessageRequest creates a message in a group or a private chat.
// Exactly one of GroupID or RecipientID should be set.
type SendMessageRequest struct {
	GroupID     string `json:"group,omitempty"`
	RecipientID string `json:"recipient,omitempty"`
	Content     string `json:"content"`
}

// ChatPreview is one entry of the aggregated chats view.
type ChatPreview struct {
	ChatID      string `json:"chat_id"`
	Kind        string `json:"kind"` // "group" or "private"
	Title       string `json:"title"`
	LastMessage string `json:"last_message"`
	LastTime    string `json:"last_time"`
	Unread      int    `json:"unread"`
}

// UnreadSummary is the unread-count response body.
type UnreadSummary struct {
	UnreadCount int `json:"unread_count"`
}
