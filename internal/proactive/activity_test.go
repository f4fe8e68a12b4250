package proactive

import (
	"testing"
	"time"
)

func TestTrackerActive(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if tr.Active("u1", now, 10*time.Minute) {
		t.Fatal("unknown user reported active")
	}

	tr.Touch("u1", now.Add(-5*time.Minute))
	if !tr.Active("u1", now, 10*time.Minute) {
		t.Fatal("recent message not reported active")
	}
	if tr.Active("u1", now, 2*time.Minute) {
		t.Fatal("stale message reported active")
	}

	// Touch keeps the newest timestamp even out of order.
	tr.Touch("u1", now.Add(-30*time.Minute))
	if at, _ := tr.LastActivity("u1"); !at.Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("LastActivity = %v, want the newer touch", at)
	}

	tr.Forget("u1")
	if _, ok := tr.LastActivity("u1"); ok {
		t.Fatal("entry survived Forget")
	}
}

func TestTrackerSweep(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr.Touch("old", now.Add(-48*time.Hour))
	tr.Touch("fresh", now.Add(-time.Hour))

	if n := tr.Sweep(now, 24*time.Hour); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, ok := tr.LastActivity("fresh"); !ok {
		t.Fatal("fresh entry swept")
	}
}
