package signal

import (
	"log/slog"
	"sync"
)

// Handle is one live connection's outbound side. Implementations must be
// comparable (pointers are); the registry keys removal on handle identity,
// so removal by a superseded handle never evicts the connection that
// replaced it.
type Handle interface {
	// Enqueue queues one message for delivery on this connection.
	// It returns false if the connection is closed or its queue is full.
	Enqueue(msg any) bool
}

// Presence maps each online user to exactly one live connection handle.
// Reconnects are last-write-wins: registering a new handle for a user
// supersedes the old one without an offline transition.
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]Handle
	logger *slog.Logger
}

// NewPresence creates an empty presence registry.
func NewPresence(logger *slog.Logger) *Presence {
	return &Presence{
		byUser: make(map[string]Handle),
		logger: logger.With("subsystem", "presence"),
	}
}

// Register records h as the live handle for userID, replacing any previous
// handle. It returns the superseded handle (nil if none) and whether the
// user transitioned from offline to online.
func (p *Presence) Register(userID string, h Handle) (prev Handle, wentOnline bool) {
	p.mu.Lock()
	prev = p.byUser[userID]
	p.byUser[userID] = h
	p.mu.Unlock()

	if prev == nil {
		p.logger.Debug("user online", "user_id", userID)
		return nil, true
	}
	p.logger.Debug("connection superseded", "user_id", userID)
	return prev, false
}

// Unregister removes the mapping owned by h. If the user reconnected on a
// different handle before this one's disconnect fired, the call is a no-op:
// removal is keyed by handle identity, not by user id, so a fresh connection
// never produces a false offline.
func (p *Presence) Unregister(userID string, h Handle) (wentOffline bool) {
	p.mu.Lock()
	cur, ok := p.byUser[userID]
	if ok && cur == h {
		delete(p.byUser, userID)
		wentOffline = true
	}
	p.mu.Unlock()

	if wentOffline {
		p.logger.Debug("user offline", "user_id", userID)
	}
	return wentOffline
}

// Get returns the live handle for userID, if any.
func (p *Presence) Get(userID string) (Handle, bool) {
	p.mu.RLock()
	h, ok := p.byUser[userID]
	p.mu.RUnlock()
	return h, ok
}

// IsOnline reports whether userID has a live connection.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	_, ok := p.byUser[userID]
	p.mu.RUnlock()
	return ok
}

// Online returns a snapshot of all online user ids. Used to hydrate a newly
// connecting client's presence view.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]string, 0, len(p.byUser))
	for id := range p.byUser {
		users = append(users, id)
	}
	return users
}

// Snapshot returns a copy of the userID to handle mapping, safe to iterate
// without holding the registry lock. Used for broadcasts.
func (p *Presence) Snapshot() map[string]Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Handle, len(p.byUser))
	for id, h := range p.byUser {
		out[id] = h
	}
	return out
}

// Count returns the number of online users.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}
