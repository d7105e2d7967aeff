// relaychat is the interactive terminal client: REST for auth and history,
// the relay websocket for live events, and a local session store so a
// sign-in survives restarts.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaychat/relaychat/internal/presence"
	"github.com/relaychat/relaychat/internal/readtrack"
	"github.com/relaychat/relaychat/internal/realtime"
	"github.com/relaychat/relaychat/internal/rest"
	"github.com/relaychat/relaychat/internal/session"
	"github.com/relaychat/relaychat/pkg/logger"
	"github.com/relaychat/relaychat/pkg/protocol"
)

func main() {
	var (
		apiURL     string
		wsURL      string
		sessionDir string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "relaychat",
		Short:        "RelayChat terminal client",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := &app{
				apiURL: apiURL,
				wsURL:  wsURL,
				log:    logger.New(logLevel, "console"),
			}
			return app.run(sessionDir)
		},
	}

	flags := root.Flags()
	flags.StringVar(&apiURL, "api", "http://localhost:8000", "backend REST base URL")
	flags.StringVar(&wsURL, "ws", "ws://localhost:8001/ws", "relay websocket URL")
	flags.StringVar(&sessionDir, "session-dir", defaultSessionDir(), "directory for the local session store")
	flags.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaychat"
	}
	return filepath.Join(home, ".relaychat")
}

// app holds the pieces of one interactive run.
type app struct {
	apiURL string
	wsURL  string
	log    *zap.Logger

	store *session.Store
	api   *rest.Client
	rt    *realtime.Client
	typed *presence.Tracker
	reads *readtrack.Tracker

	mu       sync.Mutex
	me       rest.User
	current  string // open chat: "g:<groupID>" or "u:<userID>"
	groupIDs map[string]string // group id -> name, for prompts
}

func (a *app) run(sessionDir string) error {
	store, err := session.Open(sessionDir)
	if err != nil {
		return err
	}
	a.store = store
	defer store.Close()

	a.api = rest.NewClient(a.apiURL, nil, a.log, a.persistTokens)
	a.groupIDs = make(map[string]string)

	if err := a.signIn(); err != nil {
		return err
	}

	a.typed = presence.NewTracker(0, func(key string, active bool) {
		if active {
			fmt.Printf("* %s is typing...\n", typistFromKey(key))
		}
	}, a.log)
	defer a.typed.Stop()

	a.reads = readtrack.NewTracker(0, func(ids []string) error {
		return a.api.MarkRead(ids)
	}, a.log)
	defer a.reads.Stop()

	a.rt = realtime.NewClient(realtime.Options{URL: a.wsURL, Logger: a.log})
	a.registerHandlers()

	if err := a.rt.Connect(a.api.AccessToken()); err != nil {
		fmt.Printf("relay connection failed: %v (retrying in background)\n", err)
	}
	defer a.rt.Disconnect()

	fmt.Println("Type /help for commands. Plain text goes to the open chat.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		a.handleLine(line)
	}
	return scanner.Err()
}

// signIn resumes the stored session or runs the login prompt.
func (a *app) signIn() error {
	if sess, err := a.store.Load(); err == nil {
		a.api.SetTokens(sess.AccessToken, sess.RefreshToken)
		a.mu.Lock()
		a.me = rest.User{ID: sess.UserID, Username: sess.Username}
		a.mu.Unlock()
		fmt.Printf("Resumed session as %s\n", sess.Username)
		return nil
	} else if !errors.Is(err, session.ErrNoSession) {
		return err
	}
	return a.login()
}

func (a *app) login() error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("Username: ")
	if !scanner.Scan() {
		return errors.New("no input")
	}
	username := strings.TrimSpace(scanner.Text())
	fmt.Print("Password: ")
	if !scanner.Scan() {
		return errors.New("no input")
	}
	password := strings.TrimSpace(scanner.Text())

	result, err := a.api.Login(username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	a.mu.Lock()
	a.me = result.User
	a.mu.Unlock()

	if err := a.store.Save(session.Session{
		AccessToken:  result.Tokens.Access,
		RefreshToken: result.Tokens.Refresh,
		UserID:       result.User.ID,
		Username:     result.User.Username,
	}); err != nil {
		a.log.Warn("persist session", zap.Error(err))
	}
	fmt.Printf("Signed in as %s\n", result.User.Username)
	return nil
}

// persistTokens keeps the session store in step with token refreshes.
func (a *app) persistTokens(access, refresh string) {
	a.mu.Lock()
	me := a.me
	a.mu.Unlock()
	err := a.store.Save(session.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       me.ID,
		Username:     me.Username,
	})
	if err != nil {
		a.log.Warn("persist session", zap.Error(err))
	}
}

func (a *app) registerHandlers() {
	a.rt.On(protocol.EventConnected, func(protocol.Envelope) {
		fmt.Println("[relay] connected")
	})
	a.rt.On(protocol.EventDisconnected, func(protocol.Envelope) {
		fmt.Println("[relay] connection lost")
	})
	a.rt.On(protocol.EventFailed, func(protocol.Envelope) {
		fmt.Println("[relay] gave up reconnecting; use /reconnect")
	})

	a.rt.On(protocol.EventGroupMessage, func(env protocol.Envelope) {
		var msg protocol.GroupMessage
		if protocol.DecodePayload(env, &msg) != nil {
			return
		}
		fmt.Printf("[%s] %s: %s\n", msg.GroupName, msg.SenderUsername, msg.Content)
		a.observeRead("g:"+msg.GroupID, msg.MessageID, msg.SenderID)
	})
	a.rt.On(protocol.EventPrivateMessage, func(env protocol.Envelope) {
		var msg protocol.PrivateMessage
		if protocol.DecodePayload(env, &msg) != nil {
			return
		}
		fmt.Printf("[pm] %s: %s\n", msg.SenderUsername, msg.Content)
		a.observeRead("u:"+msg.SenderID, msg.MessageID, msg.SenderID)
	})

	a.rt.On(protocol.EventTypingIndicator, func(env protocol.Envelope) {
		var ind protocol.TypingIndicator
		if protocol.DecodePayload(env, &ind) != nil {
			return
		}
		key := presence.TypingKey(ind.GroupID, ind.UserID) + "|" + ind.Username
		a.typed.Set(key, ind.IsTyping)
	})

	a.rt.On(protocol.EventUserStatus, func(env protocol.Envelope) {
		var status protocol.UserStatus
		if protocol.DecodePayload(env, &status) != nil {
			return
		}
		if status.Online {
			fmt.Printf("* %s is online\n", status.Username)
		} else {
			fmt.Printf("* %s went offline\n", status.Username)
		}
	})
	a.rt.On(protocol.EventOnlineUsersList, func(env protocol.Envelope) {
		var list protocol.OnlineUsersList
		if protocol.DecodePayload(env, &list) != nil {
			return
		}
		fmt.Printf("online (%d):", len(list.Users))
		for _, u := range list.Users {
			fmt.Printf(" %s", u.Username)
		}
		fmt.Println()
	})

	a.rt.On(protocol.EventUnreadCountUpdate, func(env protocol.Envelope) {
		var upd protocol.UnreadCountUpdate
		if protocol.DecodePayload(env, &upd) != nil {
			return
		}
		fmt.Printf("* unread in %s: %d\n", upd.ChatID, upd.Count)
	})

	a.rt.On(protocol.EventUserJoined, a.printUserEvent("joined"))
	a.rt.On(protocol.EventUserLeft, a.printUserEvent("left"))
	a.rt.On(protocol.EventUserRemoved, a.printUserEvent("was removed from"))
	a.rt.On(protocol.EventMemberPromoted, a.printUserEvent("is now an admin of"))
}

func (a *app) printUserEvent(verb string) realtime.Handler {
	return func(env protocol.Envelope) {
		var ev protocol.UserEvent
		if protocol.DecodePayload(env, &ev) != nil {
			return
		}
		fmt.Printf("* %s %s %s\n", ev.Username, verb, ev.GroupName)
	}
}

// observeRead feeds a visible message into the read tracker. Only messages
// from others in the open chat count.
func (a *app) observeRead(chatKey, messageID, senderID string) {
	a.mu.Lock()
	current := a.current
	meID := a.me.ID
	a.mu.Unlock()
	if chatKey != current || senderID == meID || messageID == "" {
		return
	}
	a.reads.Observe(chatKey, messageID)
}

func (a *app) handleLine(line string) {
	if !strings.HasPrefix(line, "/") {
		a.sendToOpenChat(line)
		return
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "help":
		printHelp()
	case "groups":
		err = a.listGroups()
	case "users":
		err = a.listUsers()
	case "chats":
		err = a.listChats()
	case "create":
		err = a.createGroup(arg)
	case "join":
		err = a.api.JoinGroup(arg)
	case "leave":
		err = a.leaveGroup(arg)
	case "members":
		err = a.listMembers(arg)
	case "open":
		err = a.openChat(arg)
	case "pm":
		err = a.privateMessage(arg)
	case "typing":
		err = a.sendTyping()
	case "who":
		err = a.rt.RequestOnlineUsers()
	case "unread":
		err = a.showUnread()
	case "reconnect":
		err = a.rt.Connect(a.api.AccessToken())
	case "logout":
		err = a.logout()
	default:
		fmt.Printf("unknown command /%s; try /help\n", cmd)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printHelp() {
	fmt.Print(`commands:
  /groups                 list your groups
  /users                  list users
  /chats                  list chats with unread counts
  /create <name>          create a group
  /join <group-id>        join a group
  /leave <group-id>       leave a group
  /members <group-id>     list group members
  /open g:<id> | u:<id>   open a group or private chat
  /pm <user-id> <text>    send a private message
  /typing                 signal typing in the open chat
  /who                    list online users
  /unread                 show total unread count
  /reconnect              reconnect to the relay
  /logout                 sign out and clear the session
  /quit                   exit
`)
}

func (a *app) listGroups() error {
	groups, err := a.api.ListGroups()
	if err != nil {
		return err
	}
	a.mu.Lock()
	for _, g := range groups {
		a.groupIDs[g.ID] = g.Name
	}
	a.mu.Unlock()
	for _, g := range groups {
		fmt.Printf("  %s  %s (%d members)\n", g.ID, g.Name, g.MemberCount)
	}
	return nil
}

func (a *app) listUsers() error {
	users, err := a.api.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("  %s  %s\n", u.ID, u.Username)
	}
	return nil
}

func (a *app) listChats() error {
	chats, err := a.api.ChatList()
	if err != nil {
		return err
	}
	for _, c := range chats {
		marker := ""
		if c.Unread > 0 {
			marker = fmt.Sprintf(" (%d unread)", c.Unread)
		}
		fmt.Printf("  %s:%s  %s%s — %s\n", c.Kind[:1], c.ChatID, c.Title, marker, c.LastMessage)
	}
	return nil
}

func (a *app) createGroup(name string) error {
	if name == "" {
		return errors.New("usage: /create <name>")
	}
	group, err := a.api.CreateGroup(name, "")
	if err != nil {
		return err
	}
	fmt.Printf("created group %s (%s)\n", group.Name, group.ID)
	return nil
}

func (a *app) leaveGroup(groupID string) error {
	if err := a.api.LeaveGroup(groupID); err != nil {
		return err
	}
	return a.rt.UnsubscribeGroup(groupID)
}

func (a *app) listMembers(groupID string) error {
	members, err := a.api.GroupMembers(groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		role := ""
		if m.IsAdmin {
			role = " (admin)"
		}
		fmt.Printf("  %s  %s%s\n", m.User.ID, m.User.Username, role)
	}
	return nil
}

// openChat switches the active chat, flushing pending read receipts for the
// previous one, loads recent history and subscribes when it is a group.
func (a *app) openChat(target string) error {
	kind, id, ok := strings.Cut(target, ":")
	if !ok || id == "" || (kind != "g" && kind != "u") {
		return errors.New("usage: /open g:<group-id> or /open u:<user-id>")
	}

	a.mu.Lock()
	a.current = target
	a.mu.Unlock()
	a.reads.SwitchChat(target)

	var (
		history []rest.Message
		err     error
	)
	if kind == "g" {
		if err = a.rt.SubscribeGroup(id); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
			return err
		}
		history, err = a.api.GroupMessages(id)
	} else {
		history, err = a.api.PrivateMessages(id)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	meID := a.me.ID
	a.mu.Unlock()
	for _, msg := range history {
		fmt.Printf("  %s: %s\n", msg.Sender.Username, msg.Content)
		if msg.Sender.ID != meID {
			a.reads.Observe(target, msg.ID)
		}
	}
	return nil
}

func (a *app) sendToOpenChat(text string) {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()

	kind, id, ok := strings.Cut(current, ":")
	if !ok {
		fmt.Println("no open chat; use /open first")
		return
	}

	req := rest.SendMessageRequest{Content: text}
	if kind == "g" {
		req.GroupID = id
	} else {
		req.RecipientID = id
	}
	if _, err := a.api.SendMessage(req); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (a *app) privateMessage(arg string) error {
	userID, text, ok := strings.Cut(arg, " ")
	if !ok || strings.TrimSpace(text) == "" {
		return errors.New("usage: /pm <user-id> <text>")
	}
	_, err := a.api.SendMessage(rest.SendMessageRequest{
		RecipientID: userID,
		Content:     strings.TrimSpace(text),
	})
	return err
}

func (a *app) sendTyping() error {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()

	kind, id, ok := strings.Cut(current, ":")
	if !ok {
		return errors.New("no open chat")
	}
	if kind == "g" {
		return a.rt.SendGroupTyping(id, true)
	}
	return a.rt.SendPrivateTyping(id, true)
}

func (a *app) showUnread() error {
	summary, err := a.api.UnreadCount()
	if err != nil {
		return err
	}
	fmt.Printf("unread messages: %d\n", summary.UnreadCount)
	return nil
}

func (a *app) logout() error {
	a.rt.Disconnect()
	if err := a.api.Logout(); err != nil {
		a.log.Warn("logout", zap.Error(err))
	}
	if err := a.store.Clear(); err != nil {
		return err
	}
	fmt.Println("signed out")
	return a.login()
}

// typistFromKey recovers the username suffix packed into the presence key.
func typistFromKey(key string) string {
	if i := strings.LastIndex(key, "|"); i >= 0 {
		return key[i+1:]
	}
	return key
}
