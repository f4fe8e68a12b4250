package proactive

import (
	"sync"
	"time"
)

// Tracker remembers when each user last said something, so the engine can
// avoid barging into an ongoing conversation. Purely in-memory: after a
// restart everyone conservatively counts as "not active".
type Tracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{last: map[string]time.Time{}}
}

// Touch records an inbound message from the user.
func (t *Tracker) Touch(userID string, at time.Time) {
	t.mu.Lock()
	if prev, ok := t.last[userID]; !ok || at.After(prev) {
		t.last[userID] = at
	}
	t.mu.Unlock()
}

// LastActivity returns the most recent inbound-message time.
func (t *Tracker) LastActivity(userID string) (time.Time, bool) {
	t.mu.Lock()
	at, ok := t.last[userID]
	t.mu.Unlock()
	return at, ok
}

// Active reports whether the user wrote within window before now.
func (t *Tracker) Active(userID string, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	at, ok := t.LastActivity(userID)
	return ok && now.Sub(at) < window
}

// Forget drops the user's entry (used on unregister).
func (t *Tracker) Forget(userID string) {
	t.mu.Lock()
	delete(t.last, userID)
	t.mu.Unlock()
}

// Sweep evicts entries older than maxAge and reports how many were removed.
func (t *Tracker) Sweep(now time.Time, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, at := range t.last {
		if now.Sub(at) >= maxAge {
			delete(t.last, id)
			n++
		}
	}
	return n
}
