// Package rest is the client for the messaging backend's REST API: auth,
// groups, users, messages, read receipts and unread summaries. Requests carry
// bearer-token auth; a 401 triggers one token-refresh-and-retry cycle.
package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenSink receives refreshed tokens so the caller can persist them.
type TokenSink func(access, refresh string)

// Client talks to the messaging backend. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	onToken TokenSink

	mu      sync.Mutex
	access  string
	refresh string
}

// NewClient creates a Client for baseURL (no trailing slash needed).
// httpClient may be nil; onToken may be nil.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger, onToken TokenSink) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger.Named("rest"),
		onToken: onToken,
	}
}

// SetTokens installs an existing token pair, e.g. one loaded from the session
// store at startup.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = access
	c.refresh = refresh
}

// AccessToken returns the current access token.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

// Login authenticates and installs the returned token pair.
func (c *Client) Login(username, password string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(http.MethodPost, "/api/auth/login/", map[string]string{
		"username": username,
		"password": password,
	}, &result, false)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.access = result.Tokens.Access
	c.refresh = result.Tokens.Refresh
	c.mu.Unlock()
	if c.onToken != nil {
		c.onToken(result.Tokens.Access, result.Tokens.Refresh)
	}
	return &result, nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh() error {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()
	if refresh == "" {
		return fmt.Errorf("refresh: no refresh token")
	}

	var result struct {
		Access string `json:"access"`
	}
	err := c.do(http.MethodPost, "/api/auth/token/refresh/", map[string]string{
		"refresh": refresh,
	}, &result, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.access = result.Access
	c.mu.Unlock()
	if c.onToken != nil {
		c.onToken(result.Access, refresh)
	}
	return nil
}

// Logout invalidates the refresh token and clears the pair.
func (c *Client) Logout() error {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()

	err := c.do(http.MethodPost, "/api/auth/logout/", map[string]string{
		"refresh": refresh,
	}, nil, true)

	c.mu.Lock()
	c.access = ""
	c.refresh = ""
	c.mu.Unlock()
	return err
}

// ListGroups returns the caller's groups.
func (c *Client) ListGroups() ([]Group, error) {
	var groups []Group
	return groups, c.do(http.MethodGet, "/api/groups/", nil, &groups, true)
}

// CreateGroup creates a group owned by the caller.
func (c *Client) CreateGroup(name, description string) (*Group, error) {
	var group Group
	err := c.do(http.MethodPost, "/api/groups/", map[string]string{
		"name":        name,
		"description": description,
	}, &group, true)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// DeleteGroup deletes a group the caller owns.
func (c *Client) DeleteGroup(groupID string) error {
	return c.do(http.MethodDelete, "/api/groups/"+groupID+"/", nil, nil, true)
}

// JoinGroup adds the caller to a group.
func (c *Client) JoinGroup(groupID string) error {
	return c.do(http.MethodPost, "/api/groups/"+groupID+"/join/", nil, nil, true)
}

// LeaveGroup removes the caller from a group.
func (c *Client) LeaveGroup(groupID string) error {
	return c.do(http.MethodPost, "/api/groups/"+groupID+"/leave/", nil, nil, true)
}

// GroupMembers lists a group's members.
func (c *Client) GroupMembers(groupID string) ([]Member, error) {
	var members []Member
	return members, c.do(http.MethodGet, "/api/groups/"+groupID+"/members/", nil, &members, true)
}

// PromoteMember grants admin to a member.
func (c *Client) PromoteMember(groupID, userID string) error {
	return c.do(http.MethodPost, "/api/groups/"+groupID+"/promote_member/"+userID+"/", nil, nil, true)
}

// RemoveMember removes a member from a group.
func (c *Client) RemoveMember(groupID, userID string) error {
	return c.do(http.MethodPost, "/api/groups/"+groupID+"/remove_member/"+userID+"/", nil, nil, true)
}

// ListUsers lists all users.
func (c *Client) ListUsers() ([]User, error) {
	var users []User
	return users, c.do(http.MethodGet, "/api/users/", nil, &users, true)
}

// GroupMessages lists messages of a group.
func (c *Client) GroupMessages(groupID string) ([]Message, error) {
	var msgs []Message
	return msgs, c.do(http.MethodGet, "/api/messages/?group="+groupID, nil, &msgs, true)
}

// PrivateMessages lists messages exchanged with a peer.
func (c *Client) PrivateMessages(userID string) ([]Message, error) {
	var msgs []Message
	return msgs, c.do(http.MethodGet, "/api/messages/?user="+userID, nil, &msgs, true)
}

// SendMessage creates a message.
func (c *Client) SendMessage(req SendMessageRequest) (*Message, error) {
	var msg Message
	if err := c.do(http.MethodPost, "/api/messages/", req, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage deletes a message the caller owns.
func (c *Client) DeleteMessage(messageID string) error {
	return c.do(http.MethodDelete, "/api/messages/"+messageID+"/", nil, nil, true)
}

// MarkRead marks a batch of messages as read.
func (c *Client) MarkRead(messageIDs []string) error {
	return c.do(http.MethodPost, "/api/messages/mark_read/", map[string]any{
		"message_ids": messageIDs,
	}, nil, true)
}

// UnreadCount returns the caller's unread summary.
func (c *Client) UnreadCount() (*UnreadSummary, error) {
	var summary UnreadSummary
	if err := c.do(http.MethodGet, "/api/messages/unread_count/", nil, &summary, true); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ChatList returns the aggregated per-chat previews.
func (c *Client) ChatList() ([]ChatPreview, error) {
	var chats []ChatPreview
	return chats, c.do(http.MethodGet, "/api/chats/", nil, &chats, true)
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: status %d: %s", e.StatusCode, e.Body)
}

// do issues one request. With auth set, a 401 response triggers a single
// refresh-and-retry cycle before the error is surfaced.
func (c *Client) do(method, path string, body, out any, auth bool) error {
	resp, err := c.once(method, path, body, auth)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && auth {
		resp.Body.Close()
		c.log.Debug("access token rejected, refreshing", zap.String("path", path))
		if err := c.Refresh(); err != nil {
			return fmt.Errorf("refresh after 401: %w", err)
		}
		if resp, err = c.once(method, path, body, auth); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) once(method, path string, body any, auth bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		c.mu.Lock()
		access := c.access
		c.mu.Unlock()
		if access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
