package signal

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
)

// fakeHandle records every message queued on it.
type fakeHandle struct {
	mu   sync.Mutex
	msgs []any
	full bool
}

func (f *fakeHandle) Enqueue(msg any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeHandle) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeHandle) count(t MessageType) int {
	n := 0
	for _, m := range f.messages() {
		switch v := m.(type) {
		case CallEvent:
			if v.Type == t {
				n++
			}
		case CallFailed:
			if t == TypeCallFailed {
				n++
			}
		case CallInitiated:
			if t == TypeCallInitiated {
				n++
			}
		case IncomingCall:
			if t == TypeIncomingCall {
				n++
			}
		case ReceiveSignal:
			if t == TypeReceiveSignal {
				n++
			}
		case PresenceEvent:
			if v.Type == t {
				n++
			}
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresenceRegisterAndLookup(t *testing.T) {
	p := NewPresence(testLogger())
	h := &fakeHandle{}

	prev, wentOnline := p.Register("alice", h)
	if prev != nil {
		t.Fatalf("expected no previous handle, got %v", prev)
	}
	if !wentOnline {
		t.Fatal("expected first registration to report online transition")
	}
	if !p.IsOnline("alice") {
		t.Fatal("alice should be online")
	}
	if got, ok := p.Get("alice"); !ok || got != Handle(h) {
		t.Fatal("Get should return the registered handle")
	}
	if p.Count() != 1 {
		t.Fatalf("Count = %d, want 1", p.Count())
	}
}

func TestPresenceLastWriteWins(t *testing.T) {
	p := NewPresence(testLogger())
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}

	p.Register("alice", h1)
	prev, wentOnline := p.Register("alice", h2)

	if prev != Handle(h1) {
		t.Fatal("expected the superseded handle to be returned")
	}
	if wentOnline {
		t.Fatal("a reconnect must not report a fresh online transition")
	}

	// The stale handle's disconnect fires after the reconnect. It must
	// not knock the user offline.
	if p.Unregister("alice", h1) {
		t.Fatal("unregistering a superseded handle must be a no-op")
	}
	if !p.IsOnline("alice") {
		t.Fatal("alice must still be online after the stale disconnect")
	}

	// The live handle going away does take the user offline.
	if !p.Unregister("alice", h2) {
		t.Fatal("unregistering the live handle should report offline")
	}
	if p.IsOnline("alice") {
		t.Fatal("alice should be offline")
	}
}

func TestPresenceOnlineSnapshot(t *testing.T) {
	p := NewPresence(testLogger())
	p.Register("alice", &fakeHandle{})
	p.Register("bob", &fakeHandle{})

	users := p.Online()
	sort.Strings(users)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("Online() = %v, want [alice bob]", users)
	}

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d entries, want 2", len(snap))
	}
}
