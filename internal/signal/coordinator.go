package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrOffline        = errors.New("callee is offline")
	ErrNotContact     = errors.New("callee is not a contact")
	ErrNotParticipant = errors.New("user is not a participant of this call")
)

// ContactChecker reports whether two users are mutual contacts. The hub
// injects the database-backed contact store; tests inject fakes.
type ContactChecker interface {
	AreContacts(ctx context.Context, userID, otherID string) (bool, error)
}

// Coordinator validates call actions against session state, applies
// transitions, and emits the correct notification to each side. All call
// mutations pass through one coordinator, which serializes them; events for
// a single call id are therefore causally ordered.
type Coordinator struct {
	presence *Presence
	table    *SessionTable
	contacts ContactChecker // nil disables the contact check
	logger   *slog.Logger

	ringTimeout time.Duration // 0 disables ring expiry

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewCoordinator creates a coordinator over the given presence registry and
// session table. A zero ringTimeout lets unanswered calls ring until
// explicitly cancelled or rejected.
func NewCoordinator(presence *Presence, table *SessionTable, contacts ContactChecker, ringTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		presence:    presence,
		table:       table,
		contacts:    contacts,
		ringTimeout: ringTimeout,
		logger:      logger.With("subsystem", "calls"),
		timers:      make(map[string]*time.Timer),
	}
}

// emit queues msg on userID's live connection. Returns false if the user
// has no connection or the connection could not accept the message.
func (c *Coordinator) emit(userID string, msg any) bool {
	h, ok := c.presence.Get(userID)
	if !ok {
		return false
	}
	return h.Enqueue(msg)
}

// Initiate places a call from callerID to calleeID. The call id is
// generated here and returned to the caller via callInitiated; the caller
// never supplies it. If the callee is offline or not a contact, the caller
// receives exactly one callFailed and no session is created.
func (c *Coordinator) Initiate(ctx context.Context, callerID, callerName, calleeID string, callType CallType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.contacts != nil {
		ok, err := c.contacts.AreContacts(ctx, callerID, calleeID)
		if err != nil {
			c.logger.Error("contact check failed", "caller", callerID, "callee", calleeID, "error", err)
			c.emit(callerID, CallFailed{Type: TypeCallFailed, Reason: ReasonUnreachable})
			return err
		}
		if !ok {
			c.emit(callerID, CallFailed{Type: TypeCallFailed, Reason: ReasonNotContact})
			return ErrNotContact
		}
	}

	if !c.presence.IsOnline(calleeID) {
		c.emit(callerID, CallFailed{Type: TypeCallFailed, Reason: ReasonOffline})
		return ErrOffline
	}

	s := c.table.Create(callerID, calleeID, callType)

	// The caller learns the real call id before the callee is notified;
	// it cannot act on the call until then.
	c.emit(callerID, CallInitiated{Type: TypeCallInitiated, CallID: s.CallID})

	if _, err := c.table.Transition(s.CallID, EventDeliver); err != nil {
		// Cannot happen for a freshly created session; guard anyway.
		c.table.Remove(s.CallID)
		return err
	}

	delivered := c.emit(calleeID, IncomingCall{
		Type:     TypeIncomingCall,
		CallID:   s.CallID,
		From:     callerID,
		FromName: callerName,
		CallType: callType,
	})
	if !delivered {
		// The callee's connection went away between the presence check and
		// delivery. Fail the call rather than leave it ringing nowhere.
		c.reap(s.CallID, EventTimeout)
		c.emit(callerID, CallFailed{Type: TypeCallFailed, CallID: s.CallID, Reason: ReasonUnreachable})
		return ErrOffline
	}

	c.armRingTimer(s.CallID)

	c.logger.Info("call initiated",
		"call_id", s.CallID,
		"caller", callerID,
		"callee", calleeID,
		"call_type", callType,
	)
	return nil
}

// Accept moves a ringing call to accepted. Only the session's callee may
// accept; anyone else is rejected without any emission.
func (c *Coordinator) Accept(callID, fromUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.Get(callID)
	if err != nil {
		return err
	}
	if fromUserID != s.CalleeID {
		c.logger.Warn("accept by non-callee rejected", "call_id", callID, "user_id", fromUserID)
		return ErrNotParticipant
	}

	if _, err := c.table.Transition(callID, EventAccept); err != nil {
		return err
	}
	c.disarmRingTimer(callID)

	c.emit(s.CallerID, CallEvent{Type: TypeCallAccepted, CallID: callID})
	c.logger.Info("call accepted", "call_id", callID)
	return nil
}

// Reject declines a ringing call. Callee only; the session is removed and
// the caller notified.
func (c *Coordinator) Reject(callID, fromUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.Get(callID)
	if err != nil {
		return err
	}
	if fromUserID != s.CalleeID {
		c.logger.Warn("reject by non-callee rejected", "call_id", callID, "user_id", fromUserID)
		return ErrNotParticipant
	}

	status, err := c.table.Transition(callID, EventReject)
	if err != nil {
		return err
	}
	c.disarmRingTimer(callID)
	if status.Terminal() {
		c.table.Remove(callID)
	}

	c.emit(s.CallerID, CallEvent{Type: TypeCallRejected, CallID: callID})
	c.logger.Info("call rejected", "call_id", callID)
	return nil
}

// Cancel aborts a not-yet-answered call. Only the original caller may
// cancel, and only while the call is pending or ringing.
func (c *Coordinator) Cancel(callID, fromUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.Get(callID)
	if err != nil {
		return err
	}
	if fromUserID != s.CallerID {
		c.logger.Warn("cancel by non-caller rejected", "call_id", callID, "user_id", fromUserID)
		return ErrNotParticipant
	}

	status, err := c.table.Transition(callID, EventCancel)
	if err != nil {
		return err
	}
	c.disarmRingTimer(callID)
	if status.Terminal() {
		c.table.Remove(callID)
	}

	c.emit(s.CalleeID, CallEvent{Type: TypeCallCancelled, CallID: callID})
	c.logger.Info("call cancelled", "call_id", callID)
	return nil
}

// End terminates an accepted or active call. Either party may end it; both
// parties are notified so neither UI hangs in an in-call state.
func (c *Coordinator) End(callID, fromUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.Get(callID)
	if err != nil {
		return err
	}
	if !s.Participant(fromUserID) {
		c.logger.Warn("end by non-participant rejected", "call_id", callID, "user_id", fromUserID)
		return ErrNotParticipant
	}

	status, err := c.table.Transition(callID, EventEnd)
	if err != nil {
		return err
	}
	if status.Terminal() {
		c.table.Remove(callID)
	}

	c.emit(s.CallerID, CallEvent{Type: TypeCallEnded, CallID: callID})
	c.emit(s.CalleeID, CallEvent{Type: TypeCallEnded, CallID: callID})
	c.logger.Info("call ended", "call_id", callID, "by", fromUserID)
	return nil
}

// Relay forwards an opaque WebRTC negotiation payload to the other party of
// callID. The payload is never interpreted. Relay requires an accepted or
// active session and a participating sender; the first relayed signal marks
// the session active.
func (c *Coordinator) Relay(callID, fromUserID string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.Get(callID)
	if err != nil {
		return err
	}
	if !s.Participant(fromUserID) {
		c.logger.Warn("relay by non-participant rejected", "call_id", callID, "user_id", fromUserID)
		return ErrNotParticipant
	}
	if s.Status != StatusAccepted && s.Status != StatusActive {
		return ErrInvalidTransition
	}

	if s.Status == StatusAccepted {
		c.table.Transition(callID, EventActivate) //nolint:errcheck
	}

	c.emit(s.Peer(fromUserID), ReceiveSignal{
		Type:    TypeReceiveSignal,
		CallID:  callID,
		Payload: payload,
	})
	return nil
}

// HandleDisconnect tears down every call involving a user whose connection
// went away for good (not superseded by a reconnect). Ringing calls they
// placed are cancelled toward the callee; ringing calls they were receiving
// fail back to the caller; established calls end toward the peer.
func (c *Coordinator) HandleDisconnect(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.table.SessionsFor(userID) {
		switch s.Status {
		case StatusPending, StatusRinging:
			if userID == s.CallerID {
				c.reap(s.CallID, EventCancel)
				c.emit(s.CalleeID, CallEvent{Type: TypeCallCancelled, CallID: s.CallID})
			} else {
				c.reap(s.CallID, EventTimeout)
				c.emit(s.CallerID, CallFailed{Type: TypeCallFailed, CallID: s.CallID, Reason: ReasonUnreachable})
			}
		case StatusAccepted, StatusActive:
			c.reap(s.CallID, EventEnd)
			c.emit(s.Peer(userID), CallEvent{Type: TypeCallEnded, CallID: s.CallID})
		}
		c.disarmRingTimer(s.CallID)
		c.logger.Info("call torn down on disconnect", "call_id", s.CallID, "user_id", userID)
	}
}

// reap applies event and drops the session once it lands in a terminal
// status. Transition failures leave the session alone; the caller treats
// them as already handled.
func (c *Coordinator) reap(callID string, event Event) {
	status, err := c.table.Transition(callID, event)
	if err == nil && status.Terminal() {
		c.table.Remove(callID)
	}
}

// ActiveCalls returns the number of live call sessions.
func (c *Coordinator) ActiveCalls() int {
	return c.table.Count()
}

// armRingTimer schedules ring expiry for callID. Callers hold c.mu.
func (c *Coordinator) armRingTimer(callID string) {
	if c.ringTimeout <= 0 {
		return
	}
	c.timers[callID] = time.AfterFunc(c.ringTimeout, func() {
		c.expire(callID)
	})
}

// disarmRingTimer stops a pending ring timer, if any. Callers hold c.mu.
func (c *Coordinator) disarmRingTimer(callID string) {
	if t, ok := c.timers[callID]; ok {
		t.Stop()
		delete(c.timers, callID)
	}
}

// expire fails a call that rang past the timeout without an answer.
func (c *Coordinator) expire(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.timers, callID)

	s, err := c.table.Get(callID)
	if err != nil {
		return // already terminal and removed
	}
	status, err := c.table.Transition(callID, EventTimeout)
	if err != nil {
		return
	}
	if status.Terminal() {
		c.table.Remove(callID)
	}

	c.emit(s.CallerID, CallFailed{Type: TypeCallFailed, CallID: callID, Reason: ReasonNoAnswer})
	c.emit(s.CalleeID, CallEvent{Type: TypeCallCancelled, CallID: callID})
	c.logger.Info("call timed out unanswered", "call_id", callID)
}
