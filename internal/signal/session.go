package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes audio-only from audio+video calls.
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Status is the lifecycle state of a call session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRinging   Status = "ringing"
	StatusAccepted  Status = "accepted"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Event is a state machine input applied to a call session.
type Event string

const (
	EventDeliver Event = "deliver" // callee has been notified
	EventAccept  Event = "accept"
	EventReject  Event = "reject"
	EventCancel  Event = "cancel"
	EventEnd     Event = "end"
	EventTimeout Event = "timeout" // unanswered or callee unreachable

	// EventActivate promotes an accepted call once media negotiation
	// begins; the coordinator applies it on the first relayed signal.
	EventActivate Event = "activate"
)

var (
	ErrNotFound          = errors.New("call session not found")
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// transitions maps each event to its allowed source states and result.
var transitions = map[Event]struct {
	from   []Status
	result Status
}{
	EventDeliver:  {from: []Status{StatusPending}, result: StatusRinging},
	EventAccept:   {from: []Status{StatusRinging, StatusPending}, result: StatusAccepted},
	EventReject:   {from: []Status{StatusPending, StatusRinging}, result: StatusRejected},
	EventCancel:   {from: []Status{StatusPending, StatusRinging}, result: StatusCancelled},
	EventEnd:      {from: []Status{StatusAccepted, StatusActive}, result: StatusEnded},
	EventTimeout:  {from: []Status{StatusPending, StatusRinging}, result: StatusFailed},
	EventActivate: {from: []Status{StatusAccepted}, result: StatusActive},
}

// Terminal reports whether s is a terminal status. Terminal sessions are
// removed from the table; calls are not stored history.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Session is one in-flight or active call. The table owns all sessions;
// accessors hand out copies so callers never mutate shared state.
type Session struct {
	CallID    string
	CallerID  string
	CalleeID  string
	CallType  CallType
	Status    Status
	CreatedAt time.Time
}

// Participant reports whether userID is the caller or callee of s.
func (s *Session) Participant(userID string) bool {
	return userID == s.CallerID || userID == s.CalleeID
}

// Peer returns the other party of the session relative to userID.
func (s *Session) Peer(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// SessionTable is the authoritative store of in-flight and active calls,
// keyed by server-generated call id.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionTable creates an empty call session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*Session)}
}

// Create allocates a fresh call id and inserts a session in pending state.
// The id is always generated server-side so a client can never collide with
// or hijack another call's identifier.
func (t *SessionTable) Create(callerID, calleeID string, callType CallType) *Session {
	s := &Session{
		CallID:    uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		CallType:  callType,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.sessions[s.CallID] = s
	t.mu.Unlock()
	return clone(s)
}

// Get returns a copy of the session for callID.
func (t *SessionTable) Get(callID string) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Transition applies event to the session for callID. Events applied to a
// session not in a valid source state fail with ErrInvalidTransition and
// leave the session unchanged.
func (t *SessionTable) Transition(callID string, event Event) (Status, error) {
	rule, ok := transitions[event]
	if !ok {
		return "", ErrInvalidTransition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.sessions[callID]
	if !found {
		return "", ErrNotFound
	}

	for _, from := range rule.from {
		if s.Status == from {
			s.Status = rule.result
			return rule.result, nil
		}
	}
	return s.Status, ErrInvalidTransition
}

// Remove drops a session. The coordinator calls it when a session reaches
// a terminal status, or to discard one that could not be delivered.
func (t *SessionTable) Remove(callID string) {
	t.mu.Lock()
	delete(t.sessions, callID)
	t.mu.Unlock()
}

// SessionsFor returns copies of all sessions userID participates in.
// Used to tear down calls when a user disconnects.
func (t *SessionTable) SessionsFor(userID string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Session
	for _, s := range t.sessions {
		if s.Participant(userID) {
			out = append(out, clone(s))
		}
	}
	return out
}

// Count returns the number of live sessions.
func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
