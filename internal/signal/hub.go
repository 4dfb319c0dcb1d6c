package signal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single websocket write.
	writeTimeout = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out at a fraction of this.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// sendQueueSize is the per-connection outbound buffer. A client that
	// cannot drain this fast enough gets disconnected rather than letting
	// one slow reader block the hub.
	sendQueueSize = 64

	maxMessageSize = 512 * 1024
)

// StoredMessage is a chat message handed to the message store.
type StoredMessage struct {
	ID           string
	SenderID     string
	RecipientID  string
	Body         string
	AttachmentID string
	SentAt       time.Time
}

// ChatStore persists chat messages. Call sessions are never persisted.
type ChatStore interface {
	SaveMessage(ctx context.Context, msg *StoredMessage) error
}

// Notifier wakes offline recipients through an out-of-band channel
// (push notifications). Implementations must not block the caller.
type Notifier interface {
	NotifyCall(userID, callerName, callID string)
	NotifyMessage(userID, fromName string)
}

// IdentityFunc extracts the authenticated user from an upgrade request.
// Identity always comes from the verified token, never from message
// payloads.
type IdentityFunc func(r *http.Request) (userID, displayName string, ok bool)

// Hub owns all live websocket connections and routes client actions to the
// presence registry, the chat store, and the call coordinator.
type Hub struct {
	presence    *Presence
	coordinator *Coordinator
	store       ChatStore
	contacts    ContactChecker // nil disables the contact check for chat
	notifier    Notifier       // nil disables push wake-ups
	identity    IdentityFunc
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHub creates a hub. allowAnyOrigin disables the same-origin check on
// websocket upgrades; leave it off outside development.
func NewHub(presence *Presence, coordinator *Coordinator, store ChatStore, contacts ContactChecker, notifier Notifier, identity IdentityFunc, allowAnyOrigin bool, logger *slog.Logger) *Hub {
	return &Hub{
		presence:    presence,
		coordinator: coordinator,
		store:       store,
		contacts:    contacts,
		notifier:    notifier,
		identity:    identity,
		logger:      logger.With("subsystem", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them;
					// they already presented a valid token.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// client is one live websocket connection. Its pointer identity doubles as
// the presence handle.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	name   string

	send chan any

	mu         sync.Mutex
	closed     bool
	registered bool
}

// Enqueue implements Handle. It never blocks; a saturated queue counts as
// delivery failure and the caller decides what that means. The mutex is
// held across the send so close cannot slip in between the flag check and
// the channel write.
func (c *client) Enqueue(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close marks the client closed and wakes the writer. Idempotent. The
// channel close happens under c.mu so it serializes against Enqueue.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// HandleWS upgrades the request and runs the connection until it drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, name, ok := h.identity(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		name:   name,
		send:   make(chan any, sendQueueSize),
	}

	h.logger.Debug("connection opened", "user_id", userID)

	writerDone := make(chan struct{})
	go c.writePump(writerDone)
	c.readPump()

	// Reader finished: retire the connection. Unregister is keyed by
	// handle identity, so a reconnect that already replaced this handle
	// does not produce a false offline.
	c.mu.Lock()
	wasRegistered := c.registered
	c.mu.Unlock()

	if wasRegistered {
		if h.presence.Unregister(userID, c) {
			h.broadcastExcept(c, PresenceEvent{Type: TypeUserOffline, UserID: userID})
			h.coordinator.HandleDisconnect(userID)
		}
	}

	c.close()
	<-writerDone
	conn.Close()
	h.logger.Debug("connection closed", "user_id", userID)
}

// writePump is the single writer for the connection. All outbound traffic
// funnels through the send queue; nothing else may write to conn.
func (c *client) writePump(done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
				c.conn.WriteMessage(websocket.CloseMessage, nil)      //nolint:errcheck
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses and dispatches inbound messages until the connection
// drops. Malformed payloads produce an error event and are otherwise
// ignored; they never tear down the connection.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := ParseClientMessage(data)
		if err != nil {
			c.Enqueue(ErrorEvent{Type: TypeErrorEvent, Code: "invalid_message", Detail: err.Error()})
			continue
		}
		c.hub.dispatch(c, parsed)
	}
}

// dispatch routes one parsed client message.
func (h *Hub) dispatch(c *client, msg any) {
	if _, ok := msg.(AddUser); !ok && !c.isRegistered() {
		c.Enqueue(ErrorEvent{Type: TypeErrorEvent, Code: "not_registered", Detail: "send add_user first"})
		return
	}

	switch m := msg.(type) {
	case AddUser:
		h.register(c)
	case ChatSend:
		h.handleChat(c, m)
	case CallInitiate:
		if err := h.coordinator.Initiate(context.Background(), c.userID, c.name, m.To, m.CallType); err != nil {
			if errors.Is(err, ErrOffline) && h.notifier != nil {
				// Best effort wake-up; the caller already got callFailed.
				h.notifier.NotifyCall(m.To, c.name, "")
			}
			h.logger.Debug("call initiate refused", "caller", c.userID, "callee", m.To, "error", err)
		}
	case CallAction:
		h.handleCallAction(c, m)
	case CallSignalMsg:
		if err := h.coordinator.Relay(m.CallID, c.userID, m.Payload); err != nil {
			h.logger.Debug("signal relay refused", "call_id", m.CallID, "user_id", c.userID, "error", err)
		}
	}
}

// handleCallAction maps accept/reject/cancel/end onto the coordinator.
// Stale call ids and invalid transitions are deliberate no-ops: the client
// only reacts to authoritative server events, so there is nothing to fix up.
func (h *Hub) handleCallAction(c *client, m CallAction) {
	var err error
	switch m.Type {
	case TypeCallAccept:
		err = h.coordinator.Accept(m.CallID, c.userID)
	case TypeCallReject:
		err = h.coordinator.Reject(m.CallID, c.userID)
	case TypeCallCancel:
		err = h.coordinator.Cancel(m.CallID, c.userID)
	case TypeCallEnd:
		err = h.coordinator.End(m.CallID, c.userID)
	}
	if err != nil {
		h.logger.Debug("call action refused",
			"action", m.Type,
			"call_id", m.CallID,
			"user_id", c.userID,
			"error", err,
		)
	}
}

// register enters the client into the presence registry. Last write wins:
// an older connection for the same user is disconnected, and no offline
// event fires for the handover.
func (h *Hub) register(c *client) {
	c.mu.Lock()
	if c.registered {
		c.mu.Unlock()
		// Idempotent per connection; just refresh the online view.
		c.Enqueue(OnlineUsers{Type: TypeOnlineUsers, Users: h.presence.Online()})
		return
	}
	c.registered = true
	c.mu.Unlock()

	prev, wentOnline := h.presence.Register(c.userID, c)
	if prev != nil {
		if old, ok := prev.(*client); ok {
			// Disconnect the superseded connection outright so its reader
			// does not linger until the idle deadline.
			old.close()
			old.conn.Close()
		}
	}

	c.Enqueue(OnlineUsers{Type: TypeOnlineUsers, Users: h.presence.Online()})
	if wentOnline {
		h.broadcastExcept(c, PresenceEvent{Type: TypeUserOnline, UserID: c.userID})
	}
	h.logger.Info("user registered", "user_id", c.userID, "reconnect", !wentOnline)
}

// handleChat persists a message, acks the author, and delivers it to the
// recipient's live connection or wakes them by push.
func (h *Hub) handleChat(c *client, m ChatSend) {
	ctx := context.Background()

	if h.contacts != nil {
		ok, err := h.contacts.AreContacts(ctx, c.userID, m.To)
		if err != nil {
			h.logger.Error("contact check failed", "from", c.userID, "to", m.To, "error", err)
			c.Enqueue(ErrorEvent{Type: TypeErrorEvent, Code: "delivery_failed"})
			return
		}
		if !ok {
			c.Enqueue(ErrorEvent{Type: TypeErrorEvent, Code: "not_contact", Detail: "recipient is not a contact"})
			return
		}
	}

	stored := &StoredMessage{
		ID:           uuid.NewString(),
		SenderID:     c.userID,
		RecipientID:  m.To,
		Body:         m.Body,
		AttachmentID: m.AttachmentID,
		SentAt:       time.Now().UTC(),
	}
	if err := h.store.SaveMessage(ctx, stored); err != nil {
		h.logger.Error("message persist failed", "from", c.userID, "to", m.To, "error", err)
		c.Enqueue(ErrorEvent{Type: TypeErrorEvent, Code: "delivery_failed"})
		return
	}

	c.Enqueue(ChatAck{Type: TypeChatAck, MessageID: stored.ID, SentAt: stored.SentAt.UnixMilli()})

	delivered := false
	if handle, ok := h.presence.Get(m.To); ok {
		delivered = handle.Enqueue(ChatMessage{
			Type:         TypeChatMessage,
			MessageID:    stored.ID,
			From:         c.userID,
			FromName:     c.name,
			Body:         m.Body,
			AttachmentID: m.AttachmentID,
			SentAt:       stored.SentAt.UnixMilli(),
		})
	}
	if !delivered && h.notifier != nil {
		h.notifier.NotifyMessage(m.To, c.name)
	}
}

// broadcastExcept queues msg on every online connection except skip.
func (h *Hub) broadcastExcept(skip Handle, msg any) {
	for _, handle := range h.presence.Snapshot() {
		if handle == skip {
			continue
		}
		handle.Enqueue(msg)
	}
}

func (c *client) isRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}
