package proactive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lenabot/internal/personality"
	kit "lenabot/internal/transport"
	logx "lenabot/pkg/logx"
)

type fakeGen struct{}

func (fakeGen) Generate(_ context.Context, _ string, occasion string, _ []string) (string, error) {
	return "hello (" + occasion + ")", nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(_ context.Context, _ kit.ChatTarget, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestEngine(store *fakeStore, sender Sender, now time.Time) *Engine {
	return newTestEngineCfg(store, sender, now, Settings{Enabled: true})
}

func newTestEngineCfg(store *fakeStore, sender Sender, now time.Time, cfg Settings) *Engine {
	reg := NewRegistry(store, logx.Nop())
	prof := NewProfile(store, logx.Nop())
	e := NewEngine(cfg, reg, prof, NewTracker(), fakeGen{}, sender, personality.Default(), logx.Nop())
	e.now = func() time.Time { return now }
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineRegisterPersistsAndReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	e := newTestEngine(store, &fakeSender{}, time.Now().UTC())

	e.Register(ctx, "u1", 100)
	e.Register(ctx, "u1", 200)

	users := e.Users()
	if len(users) != 1 || users[0].ChatID != 200 {
		t.Fatalf("Users = %+v, want one entry with chat 200", users)
	}
	persisted := e.registry.LoadAll(ctx, 100)
	if len(persisted) != 1 || persisted[0].ChatID != 200 {
		t.Fatalf("persisted = %+v, want one record with chat 200", persisted)
	}
}

func TestEngineCheckUserSendsAndRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	sender := &fakeSender{}
	// 10:00 UTC, comfortably past any jittered morning slot time.
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	e := newTestEngine(store, sender, now)

	e.Register(ctx, "u1", 100)
	e.checkUser(ctx, "u1", "test")

	if sender.count() != 1 {
		t.Fatalf("sent %d messages, want 1", sender.count())
	}
	if !strings.Contains(sender.sent[0], string(MorningCheck)) {
		t.Fatalf("sent %q, want a morning message", sender.sent[0])
	}
	mt, at := e.profile.LastSent(ctx, "u1")
	if mt != MorningCheck || !at.Equal(now) {
		t.Fatalf("LastSent = (%v, %v), want (%v, %v)", mt, at, MorningCheck, now)
	}
	if !e.profile.SentToday(ctx, "u1", MorningCheck, "2026-03-10") {
		t.Fatal("daily marker missing after send")
	}

	// Same instant again: the slot is spent and the floor holds.
	e.checkUser(ctx, "u1", "test")
	if sender.count() != 1 {
		t.Fatalf("second check sent another message (%d total)", sender.count())
	}
}

func TestEngineTickSendsMorningSlotBeforePreferredTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	sender := &fakeSender{}
	// 13:00 UTC in January is 08:00 in New York, half an hour before the
	// persona's preferred 08:30. The periodic tick goes by the hour window
	// alone, so the morning slot must still qualify.
	now := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)
	e := newTestEngine(store, sender, now)

	e.Register(ctx, "u1", 100)
	if err := e.profile.SetTimezone(ctx, "u1", "America/New_York"); err != nil {
		t.Fatalf("SetTimezone: %v", err)
	}
	e.checkUser(ctx, "u1", "tick")

	if sender.count() != 1 {
		t.Fatalf("tick at local 08:00 sent %d messages, want 1", sender.count())
	}
	if !strings.Contains(sender.sent[0], string(MorningCheck)) {
		t.Fatalf("sent %q, want a morning message", sender.sent[0])
	}
}

func TestEngineExplicitZeroSpontaneity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sender := &fakeSender{}
	zero := 0.0
	// 22:30 is inside waking hours but outside every daily slot window, so
	// only a spontaneous candidate could fire here.
	now := time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)
	e := newTestEngineCfg(&fakeStore{}, sender, now, Settings{Enabled: true, SpontaneityFactor: &zero})

	e.Register(ctx, "u1", 100)
	if f := e.spontaneity(); f != 0 {
		t.Fatalf("effective spontaneity = %v, want 0 for an explicit zero", f)
	}
	for i := 0; i < 25; i++ {
		e.checkUser(ctx, "u1", "tick")
	}
	if sender.count() != 0 {
		t.Fatalf("sent %d spontaneous messages with factor 0, want 0", sender.count())
	}
}

func TestEngineCheckUserRespectsNightHours(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sender := &fakeSender{}
	// 03:00 UTC with the default UTC zone.
	e := newTestEngine(&fakeStore{}, sender, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC))

	e.Register(ctx, "u1", 100)
	e.checkUser(ctx, "u1", "test")

	if sender.count() != 0 {
		t.Fatalf("sent %d messages at night, want 0", sender.count())
	}
}

func TestEngineBlockedUserUnregisters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sender := &fakeSender{err: errors.New("telegram: Forbidden: bot was blocked by the user (403)")}
	e := newTestEngine(&fakeStore{}, sender, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))

	e.Register(ctx, "u1", 100)
	e.checkUser(ctx, "u1", "test")

	waitFor(t, "user removal", func() bool { return e.user("u1") == nil })
	waitFor(t, "registration removal", func() bool {
		return len(e.registry.LoadAll(ctx, 100)) == 0
	})
}

func TestEngineTransientSendFailureKeepsUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sender := &fakeSender{err: errors.New("telegram: Bad Gateway (502)")}
	e := newTestEngine(&fakeStore{}, sender, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))

	e.Register(ctx, "u1", 100)
	e.checkUser(ctx, "u1", "test")

	if e.user("u1") == nil {
		t.Fatal("transient failure unregistered the user")
	}
	// Nothing recorded either, so the next pass retries.
	if mt, _ := e.profile.LastSent(ctx, "u1"); mt != "" {
		t.Fatalf("LastSent = %v after a failed send", mt)
	}
}

func TestEngineFollowUpSettlesIgnoreStreak(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	e := newTestEngine(store, &fakeSender{}, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	e.Register(ctx, "u1", 100)

	sentAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	// Silence: the streak grows.
	e.followUpCheck("u1", sentAt)
	if n := e.profile.IgnoreCount(ctx, "u1"); n != 1 {
		t.Fatalf("count = %d after silence, want 1", n)
	}
	e.followUpCheck("u1", sentAt)
	if n := e.profile.IgnoreCount(ctx, "u1"); n != 2 {
		t.Fatalf("count = %d after more silence, want 2", n)
	}

	// A reply after the send clears it.
	e.tracker.Touch("u1", sentAt.Add(time.Minute))
	e.followUpCheck("u1", sentAt)
	if n := e.profile.IgnoreCount(ctx, "u1"); n != 0 {
		t.Fatalf("count = %d after reply, want 0", n)
	}
}

func TestEngineOnUserMessageClearsIgnoreStreak(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(&fakeStore{}, &fakeSender{}, time.Now().UTC())
	e.Register(ctx, "u1", 100)
	e.profile.SetIgnoreCount(ctx, "u1", 3)

	e.OnUserMessage(ctx, "u1", time.Now().UTC())

	if n := e.profile.IgnoreCount(ctx, "u1"); n != 0 {
		t.Fatalf("count = %d after inbound message, want 0", n)
	}
	if !e.tracker.Active("u1", time.Now().UTC(), time.Minute) {
		t.Fatal("inbound message not tracked as activity")
	}
}

func TestEngineIgnoredUsersGetCheckIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	sender := &fakeSender{}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	e := newTestEngine(store, sender, now)

	e.Register(ctx, "u1", 100)
	e.profile.SetIgnoreCount(ctx, "u1", 2)
	// Last send long enough ago to clear even the check-in floor.
	e.profile.RecordSend(ctx, "u1", EveningReflection, now.Add(-13*time.Hour), "2026-03-09")

	e.checkUser(ctx, "u1", "test")

	if sender.count() != 1 {
		t.Fatalf("sent %d messages, want 1", sender.count())
	}
	if !strings.Contains(sender.sent[0], string(CheckInAfterSilence)) {
		t.Fatalf("sent %q, want a check-in", sender.sent[0])
	}
}

func TestEngineRestorePopulatesWithoutRewriting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	at := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	seed := NewRegistry(store, logx.Nop())
	for _, id := range []string{"a", "b"} {
		if err := seed.Save(ctx, Registration{UserID: id, ChatID: 10, RegisteredAt: at}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	e := newTestEngine(store, &fakeSender{}, at.Add(24*time.Hour))
	e.restore(ctx)

	if got := len(e.Users()); got != 2 {
		t.Fatalf("restored %d users, want 2", got)
	}
	if n := store.count(systemScope); n != 2 {
		t.Fatalf("restore rewrote the store: %d records, want 2", n)
	}
}

func TestEngineRestoreDefersSlotTimers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	at := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	seed := NewRegistry(store, logx.Nop())
	if err := seed.Save(ctx, Registration{UserID: "a", ChatID: 10, RegisteredAt: at}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e := newTestEngine(store, &fakeSender{}, at.Add(24*time.Hour))
	e.restore(ctx)

	st := e.user("a")
	if st == nil {
		t.Fatal("user not restored")
	}
	st.tmu.Lock()
	_, hasInitial := st.timers["initial"]
	slots := 0
	for name := range st.timers {
		if strings.HasPrefix(name, "slot:") {
			slots++
		}
	}
	st.tmu.Unlock()

	if !hasInitial {
		t.Fatal("initial check timer missing after restore")
	}
	if slots != 0 {
		t.Fatalf("%d slot timers armed before the deferred initial check, want 0", slots)
	}
}

func TestEngineUnregisterIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(&fakeStore{}, &fakeSender{}, time.Now().UTC())
	e.Register(ctx, "u1", 100)

	e.Unregister(ctx, "u1")
	e.Unregister(ctx, "u1")

	if len(e.Users()) != 0 {
		t.Fatal("user survived unregister")
	}
	if got := e.registry.LoadAll(ctx, 100); len(got) != 0 {
		t.Fatalf("persisted registrations after unregister: %+v", got)
	}
}

func TestUntilLocalMinute(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if d := untilLocalMinute(now, 11*60); d != time.Hour {
		t.Fatalf("ahead today: got %v, want 1h", d)
	}
	if d := untilLocalMinute(now, 9*60); d != 23*time.Hour {
		t.Fatalf("already past: got %v, want 23h", d)
	}
}

func TestUserJitterStableAndBounded(t *testing.T) {
	t.Parallel()

	a := userJitter("u1", "morning_check")
	if b := userJitter("u1", "morning_check"); a != b {
		t.Fatalf("jitter not stable: %d vs %d", a, b)
	}
	for _, id := range []string{"u1", "u2", "alice", "bob", "977"} {
		if j := userJitter(id, "evening_reflection"); j < -30 || j > 30 {
			t.Fatalf("jitter %d out of range for %q", j, id)
		}
	}
}
