// Package client implements a Go websocket client for the ChatFlow realtime
// protocol. It mirrors the server's call state locally so a caller always
// acts on the server-assigned call id, never on guesses.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/chatflow/chatflow/internal/signal"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrCallInFlight = errors.New("client: a call is already in flight")
	ErrNoCall       = errors.New("client: no call in flight")
	ErrAwaitingID   = errors.New("client: call id not assigned yet")
	ErrNoIncoming   = errors.New("client: no incoming call")
	ErrNotAccepted  = errors.New("client: call not accepted yet")
)

// CallState is the local projection of the in-flight call.
type CallState struct {
	CallID   string
	PeerID   string
	CallType signal.CallType
	// Outbound marks a call this client initiated.
	Outbound bool
	Accepted bool
}

// Controller connects to a ChatFlow server and tracks presence and call
// state from server events. All server events, after being applied to the
// local projections, are delivered on Events for the application to render.
type Controller struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	online   map[string]bool
	incoming *signal.IncomingCall
	active   *CallState
	// awaitingID is set between sending call_initiate and receiving
	// call_initiated. No call action is possible in that window.
	awaitingID  bool
	pendingPeer string
	pendingType signal.CallType

	events chan any
	done   chan struct{}
}

// New creates a Controller for the given websocket URL (ws:// or wss://)
// and bearer token. Connect must be called before any other method.
func New(url, token string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		url:    url,
		token:  token,
		dialer: websocket.DefaultDialer,
		logger: logger,
		online: make(map[string]bool),
		events: make(chan any, 64),
	}
}

// Connect dials the server, registers presence and starts the read loop.
// Reconnecting drops all prior call state: the server has forgotten any
// session that was alive on the old connection.
func (c *Controller) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("client: dialing %s (status %d): %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("client: dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.online = make(map[string]bool)
	c.incoming = nil
	c.active = nil
	c.awaitingID = false
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	if err := conn.WriteJSON(signal.AddUser{Type: signal.TypeAddUser}); err != nil {
		conn.Close()
		return fmt.Errorf("client: registering presence: %w", err)
	}

	go c.readLoop(conn, done)
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Events delivers parsed server messages after the controller has applied
// them to its local state. The channel is buffered; a slow consumer loses
// the oldest events rather than stalling the read loop.
func (c *Controller) Events() <-chan any {
	return c.events
}

// Done is closed when the current connection's read loop exits.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Online reports whether userID currently has a live connection, as seen
// from the most recent presence events.
func (c *Controller) Online(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID]
}

// IncomingCall returns a copy of the pending incoming call, if any.
func (c *Controller) IncomingCall() *signal.IncomingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return nil
	}
	cp := *c.incoming
	return &cp
}

// ActiveCall returns a copy of the in-flight call projection, if any.
func (c *Controller) ActiveCall() *CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	cp := *c.active
	return &cp
}

// SendChat sends a text message to another user.
func (c *Controller) SendChat(to, body, attachmentID string) error {
	return c.write(signal.ChatSend{
		Type:         signal.TypeChatSend,
		To:           to,
		Body:         body,
		AttachmentID: attachmentID,
	})
}

// Call starts a call to another user. The call id is unknown until the
// server answers with call_initiated; until then no other call action is
// permitted.
func (c *Controller) Call(to string, callType signal.CallType) error {
	c.mu.Lock()
	if c.active != nil || c.awaitingID {
		c.mu.Unlock()
		return ErrCallInFlight
	}
	c.awaitingID = true
	c.pendingPeer = to
	c.pendingType = callType
	c.mu.Unlock()

	err := c.write(signal.CallInitiate{
		Type:     signal.TypeCallInitiate,
		To:       to,
		CallType: callType,
	})
	if err != nil {
		c.mu.Lock()
		c.awaitingID = false
		c.mu.Unlock()
	}
	return err
}

// Accept answers the pending incoming call.
func (c *Controller) Accept() error {
	c.mu.Lock()
	if c.incoming == nil {
		c.mu.Unlock()
		return ErrNoIncoming
	}
	inc := c.incoming
	c.incoming = nil
	c.active = &CallState{
		CallID:   inc.CallID,
		PeerID:   inc.From,
		CallType: inc.CallType,
		Accepted: true,
	}
	c.mu.Unlock()

	return c.write(signal.CallAction{Type: signal.TypeCallAccept, CallID: inc.CallID})
}

// Reject declines the pending incoming call.
func (c *Controller) Reject() error {
	c.mu.Lock()
	if c.incoming == nil {
		c.mu.Unlock()
		return ErrNoIncoming
	}
	callID := c.incoming.CallID
	c.incoming = nil
	c.mu.Unlock()

	return c.write(signal.CallAction{Type: signal.TypeCallReject, CallID: callID})
}

// Cancel aborts an outbound call that has not been accepted. It requires
// the server-assigned call id, so a call still awaiting call_initiated
// cannot be cancelled yet.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.awaitingID {
		c.mu.Unlock()
		return ErrAwaitingID
	}
	if c.active == nil || !c.active.Outbound || c.active.Accepted {
		c.mu.Unlock()
		return ErrNoCall
	}
	callID := c.active.CallID
	c.active = nil
	c.mu.Unlock()

	return c.write(signal.CallAction{Type: signal.TypeCallCancel, CallID: callID})
}

// End hangs up an accepted call.
func (c *Controller) End() error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	if !c.active.Accepted {
		c.mu.Unlock()
		return ErrNotAccepted
	}
	callID := c.active.CallID
	c.active = nil
	c.mu.Unlock()

	return c.write(signal.CallAction{Type: signal.TypeCallEnd, CallID: callID})
}

// Signal relays an opaque WebRTC negotiation payload over the accepted
// call.
func (c *Controller) Signal(payload json.RawMessage) error {
	c.mu.Lock()
	if c.awaitingID {
		c.mu.Unlock()
		return ErrAwaitingID
	}
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	if !c.active.Accepted {
		c.mu.Unlock()
		return ErrNotAccepted
	}
	callID := c.active.CallID
	c.mu.Unlock()

	return c.write(signal.CallSignalMsg{
		Type:    signal.TypeCallSignal,
		CallID:  callID,
		Payload: payload,
	})
}

func (c *Controller) write(msg any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("client: writing message: %w", err)
	}
	return nil
}

// readLoop parses server events, applies them to the local projections
// and forwards them to the events channel.
func (c *Controller) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("client read loop closed", "error", err)
			return
		}

		msg, err := signal.ParseServerMessage(raw)
		if err != nil {
			c.logger.Warn("client: dropping unparseable server message", "error", err)
			continue
		}

		c.apply(msg)

		select {
		case c.events <- msg:
		default:
			// Drop the oldest event to make room.
			select {
			case <-c.events:
			default:
			}
			c.events <- msg
		}
	}
}

// apply updates the local projections from one authoritative server event.
func (c *Controller) apply(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case *signal.OnlineUsers:
		c.online = make(map[string]bool, len(m.Users))
		for _, u := range m.Users {
			c.online[u] = true
		}
	case *signal.PresenceEvent:
		if m.Type == signal.TypeUserOnline {
			c.online[m.UserID] = true
		} else {
			delete(c.online, m.UserID)
		}
	case *signal.CallInitiated:
		c.awaitingID = false
		c.active = &CallState{
			CallID:   m.CallID,
			PeerID:   c.pendingPeer,
			CallType: c.pendingType,
			Outbound: true,
		}
	case *signal.IncomingCall:
		// A second ringing call while one is pending is not representable
		// in the UI; keep the first.
		if c.incoming == nil && c.active == nil {
			cp := *m
			c.incoming = &cp
		}
	case *signal.CallEvent:
		switch m.Type {
		case signal.TypeCallAccepted:
			if c.active != nil && c.active.CallID == m.CallID {
				c.active.Accepted = true
			}
		case signal.TypeCallRejected, signal.TypeCallEnded:
			if c.active != nil && c.active.CallID == m.CallID {
				c.active = nil
			}
		case signal.TypeCallCancelled:
			if c.incoming != nil && c.incoming.CallID == m.CallID {
				c.incoming = nil
			}
			if c.active != nil && c.active.CallID == m.CallID {
				c.active = nil
			}
		}
	case *signal.CallFailed:
		c.awaitingID = false
		if c.active != nil && (m.CallID == "" || c.active.CallID == m.CallID) {
			c.active = nil
		}
	}
}
