package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatflow/chatflow/internal/signal"
)

// fakeServer accepts one websocket connection at a time and records every
// client message so tests can script server responses.
type fakeServer struct {
	t  *testing.T
	ts *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []map[string]any
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	fs.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				t.Errorf("server received invalid json: %v", err)
				continue
			}
			fs.mu.Lock()
			fs.received = append(fs.received, m)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.ts.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.ts.URL, "http") + "/ws"
}

// push sends a server event to the connected client.
func (fs *fakeServer) push(msg any) {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if conn == nil {
		fs.t.Fatal("no client connected")
	}
	if err := conn.WriteJSON(msg); err != nil {
		fs.t.Fatalf("server write: %v", err)
	}
}

// waitFor polls until the client has sent a message of the given type.
func (fs *fakeServer) waitFor(msgType string) map[string]any {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		for _, m := range fs.received {
			if m["type"] == msgType {
				fs.mu.Unlock()
				return m
			}
		}
		fs.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	fs.t.Fatalf("client never sent %q", msgType)
	return nil
}

func connect(t *testing.T, fs *fakeServer) *Controller {
	c := New(fs.url(), "test-token", nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	// Registration happens on connect.
	fs.waitFor("add_user")
	return c
}

// waitEvent drains the controller's event channel until a matching event
// arrives.
func waitEvent[T any](t *testing.T, c *Controller) T {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestConnectRegistersPresence(t *testing.T) {
	fs := newFakeServer(t)
	connect(t, fs)
}

func TestConnectDialError(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "tok", nil)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestPresenceProjection(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	fs.push(signal.OnlineUsers{Type: signal.TypeOnlineUsers, Users: []string{"alice", "bob"}})
	waitEvent[*signal.OnlineUsers](t, c)

	if !c.Online("alice") || !c.Online("bob") {
		t.Error("expected alice and bob online after hydration")
	}

	fs.push(signal.PresenceEvent{Type: signal.TypeUserOffline, UserID: "bob"})
	waitEvent[*signal.PresenceEvent](t, c)
	if c.Online("bob") {
		t.Error("expected bob offline")
	}

	fs.push(signal.PresenceEvent{Type: signal.TypeUserOnline, UserID: "carol"})
	waitEvent[*signal.PresenceEvent](t, c)
	if !c.Online("carol") {
		t.Error("expected carol online")
	}
}

func TestCallWaitsForServerAssignedID(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	if err := c.Call("bob", signal.CallTypeVideo); err != nil {
		t.Fatalf("call: %v", err)
	}
	fs.waitFor("call_initiate")

	// Until call_initiated arrives, the call id is unknown: no signal, no
	// cancel, no second call.
	if err := c.Signal(json.RawMessage(`{"sdp":"offer"}`)); err != ErrAwaitingID {
		t.Errorf("Signal before call_initiated: got %v, want ErrAwaitingID", err)
	}
	if err := c.Cancel(); err != ErrAwaitingID {
		t.Errorf("Cancel before call_initiated: got %v, want ErrAwaitingID", err)
	}
	if err := c.Call("carol", signal.CallTypeVoice); err != ErrCallInFlight {
		t.Errorf("second Call: got %v, want ErrCallInFlight", err)
	}

	fs.push(signal.CallInitiated{Type: signal.TypeCallInitiated, CallID: "call-1"})
	waitEvent[*signal.CallInitiated](t, c)

	active := c.ActiveCall()
	if active == nil {
		t.Fatal("expected active call after call_initiated")
	}
	if active.CallID != "call-1" || active.PeerID != "bob" || active.CallType != signal.CallTypeVideo {
		t.Errorf("unexpected active call %+v", active)
	}
	if !active.Outbound || active.Accepted {
		t.Errorf("expected outbound unaccepted call, got %+v", active)
	}
}

func TestOutboundCallAcceptedThenEnded(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	if err := c.Call("bob", signal.CallTypeVoice); err != nil {
		t.Fatalf("call: %v", err)
	}
	fs.push(signal.CallInitiated{Type: signal.TypeCallInitiated, CallID: "call-2"})
	waitEvent[*signal.CallInitiated](t, c)

	// Ending before the callee accepts is not allowed; cancel is.
	if err := c.End(); err != ErrNotAccepted {
		t.Errorf("End before accept: got %v, want ErrNotAccepted", err)
	}

	fs.push(signal.CallEvent{Type: signal.TypeCallAccepted, CallID: "call-2"})
	waitEvent[*signal.CallEvent](t, c)

	if active := c.ActiveCall(); active == nil || !active.Accepted {
		t.Fatalf("expected accepted call, got %+v", active)
	}

	// Signals relay once accepted.
	if err := c.Signal(json.RawMessage(`{"candidate":"x"}`)); err != nil {
		t.Fatalf("signal: %v", err)
	}
	sig := fs.waitFor("call_signal")
	if sig["call_id"] != "call-2" {
		t.Errorf("expected signal for call-2, got %v", sig["call_id"])
	}

	if err := c.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	fs.waitFor("call_end")
	if c.ActiveCall() != nil {
		t.Error("expected call state cleared after End")
	}
}

func TestOutboundCallRejectedClearsState(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	if err := c.Call("bob", signal.CallTypeVoice); err != nil {
		t.Fatalf("call: %v", err)
	}
	fs.push(signal.CallInitiated{Type: signal.TypeCallInitiated, CallID: "call-3"})
	waitEvent[*signal.CallInitiated](t, c)

	fs.push(signal.CallEvent{Type: signal.TypeCallRejected, CallID: "call-3"})
	waitEvent[*signal.CallEvent](t, c)

	if c.ActiveCall() != nil {
		t.Error("expected call cleared after call_rejected")
	}
	// A fresh call is possible again.
	if err := c.Call("carol", signal.CallTypeVoice); err != nil {
		t.Errorf("new call after rejection: %v", err)
	}
}

func TestCallFailedClearsPendingCall(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	if err := c.Call("bob", signal.CallTypeVoice); err != nil {
		t.Fatalf("call: %v", err)
	}
	fs.waitFor("call_initiate")

	// Callee offline: failure arrives instead of call_initiated.
	fs.push(signal.CallFailed{Type: signal.TypeCallFailed, Reason: signal.ReasonOffline})
	waitEvent[*signal.CallFailed](t, c)

	if c.ActiveCall() != nil {
		t.Error("expected no active call after failure")
	}
	if err := c.Call("carol", signal.CallTypeVoice); err != nil {
		t.Errorf("new call after failure: %v", err)
	}
}

func TestIncomingCallAccept(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	fs.push(signal.IncomingCall{
		Type:     signal.TypeIncomingCall,
		CallID:   "call-4",
		From:     "alice",
		FromName: "Alice",
		CallType: signal.CallTypeVideo,
	})
	waitEvent[*signal.IncomingCall](t, c)

	inc := c.IncomingCall()
	if inc == nil || inc.CallID != "call-4" || inc.FromName != "Alice" {
		t.Fatalf("unexpected incoming call %+v", inc)
	}

	if err := c.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	acc := fs.waitFor("call_accept")
	if acc["call_id"] != "call-4" {
		t.Errorf("expected accept for call-4, got %v", acc["call_id"])
	}

	if c.IncomingCall() != nil {
		t.Error("expected incoming projection cleared after accept")
	}
	active := c.ActiveCall()
	if active == nil || !active.Accepted || active.PeerID != "alice" || active.Outbound {
		t.Fatalf("unexpected active call %+v", active)
	}
}

func TestIncomingCallReject(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	fs.push(signal.IncomingCall{Type: signal.TypeIncomingCall, CallID: "call-5", From: "alice", CallType: signal.CallTypeVoice})
	waitEvent[*signal.IncomingCall](t, c)

	if err := c.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	rej := fs.waitFor("call_reject")
	if rej["call_id"] != "call-5" {
		t.Errorf("expected reject for call-5, got %v", rej["call_id"])
	}
	if c.IncomingCall() != nil || c.ActiveCall() != nil {
		t.Error("expected all call state cleared after reject")
	}
	if err := c.Reject(); err != ErrNoIncoming {
		t.Errorf("second reject: got %v, want ErrNoIncoming", err)
	}
}

func TestIncomingCallCancelledByCaller(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	fs.push(signal.IncomingCall{Type: signal.TypeIncomingCall, CallID: "call-6", From: "alice", CallType: signal.CallTypeVoice})
	waitEvent[*signal.IncomingCall](t, c)

	fs.push(signal.CallEvent{Type: signal.TypeCallCancelled, CallID: "call-6"})
	waitEvent[*signal.CallEvent](t, c)

	if c.IncomingCall() != nil {
		t.Error("expected incoming cleared after caller cancelled")
	}
	if err := c.Accept(); err != ErrNoIncoming {
		t.Errorf("accept after cancel: got %v, want ErrNoIncoming", err)
	}
}

func TestSecondIncomingCallIgnoredWhileBusy(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	fs.push(signal.IncomingCall{Type: signal.TypeIncomingCall, CallID: "call-7", From: "alice", CallType: signal.CallTypeVoice})
	waitEvent[*signal.IncomingCall](t, c)
	fs.push(signal.IncomingCall{Type: signal.TypeIncomingCall, CallID: "call-8", From: "bob", CallType: signal.CallTypeVoice})
	waitEvent[*signal.IncomingCall](t, c)

	if inc := c.IncomingCall(); inc == nil || inc.CallID != "call-7" {
		t.Errorf("expected first ringing call kept, got %+v", inc)
	}
}

func TestReconnectDropsStaleCallState(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	fs.push(signal.IncomingCall{Type: signal.TypeIncomingCall, CallID: "call-9", From: "alice", CallType: signal.CallTypeVoice})
	waitEvent[*signal.IncomingCall](t, c)
	fs.push(signal.OnlineUsers{Type: signal.TypeOnlineUsers, Users: []string{"alice"}})
	waitEvent[*signal.OnlineUsers](t, c)

	// The server has no memory of the old connection's calls.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if c.IncomingCall() != nil || c.ActiveCall() != nil {
		t.Error("expected call projections cleared on reconnect")
	}
	if c.Online("alice") {
		t.Error("expected presence view cleared on reconnect")
	}
}

func TestSendChat(t *testing.T) {
	fs := newFakeServer(t)
	c := connect(t, fs)

	if err := c.SendChat("bob", "hello", ""); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	m := fs.waitFor("chat_send")
	if m["to"] != "bob" || m["body"] != "hello" {
		t.Errorf("unexpected chat payload %v", m)
	}
}

func TestActionsWithoutConnection(t *testing.T) {
	c := New("ws://example.invalid/ws", "tok", nil)
	if err := c.SendChat("bob", "hi", ""); err != ErrNotConnected {
		t.Errorf("SendChat: got %v, want ErrNotConnected", err)
	}
	if err := c.Call("bob", signal.CallTypeVoice); err != ErrNotConnected {
		t.Errorf("Call: got %v, want ErrNotConnected", err)
	}
}
