package proactive

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lenabot/internal/delivery"
	"lenabot/internal/generate"
	"lenabot/internal/personality"
	rtsup "lenabot/internal/runtime/supervisor"
	kit "lenabot/internal/transport"
	logx "lenabot/pkg/logx"
)

// Sender delivers a finished message to a chat.
type Sender interface {
	Send(ctx context.Context, to kit.ChatTarget, text string) error
}

// Engine owns the timers and the active-user set. One instance owns all
// proactive scheduling for the process.
//
// Locking: the engine mutex guards the user map and settings; every user has
// a private mutex serializing that user's decision+write path. Timers sit
// behind a separate per-user lock so unregistering can cancel them without
// touching the decision path. Ticks for different users run concurrently.
type Engine struct {
	mu      sync.Mutex
	cfg     Settings
	users   map[string]*userState
	cron    *cron.Cron
	sup     *rtsup.Supervisor
	running bool

	log      logx.Logger
	registry *Registry
	profile  *Profile
	tracker  *Tracker
	eval     *Evaluator
	gen      generate.Generator
	sender   Sender
	persona  *personality.Personality

	rngMu sync.Mutex
	rng   *rand.Rand

	// now is swappable for tests.
	now func() time.Time
}

type userState struct {
	userID string

	// mu serializes this user's decision+write path.
	mu           sync.Mutex
	chatID       int64
	registeredAt time.Time
	gone         bool

	// tmu guards pending timers, separately from mu so cancellation never
	// waits on an in-flight evaluation.
	tmu    sync.Mutex
	timers map[string]*time.Timer
}

// setTimer replaces the named pending timer. A zero or negative delay
// cancels without rescheduling.
func (st *userState) setTimer(name string, d time.Duration, fn func()) {
	st.tmu.Lock()
	defer st.tmu.Unlock()
	if prev, ok := st.timers[name]; ok {
		prev.Stop()
		delete(st.timers, name)
	}
	if d <= 0 || fn == nil {
		return
	}
	st.timers[name] = time.AfterFunc(d, fn)
}

// cancelTimers stops every pending timer. Idempotent; stopping an
// already-fired timer is a no-op.
func (st *userState) cancelTimers() {
	st.tmu.Lock()
	defer st.tmu.Unlock()
	for name, t := range st.timers {
		t.Stop()
		delete(st.timers, name)
	}
}

func NewEngine(cfg Settings, registry *Registry, profile *Profile, tracker *Tracker, gen generate.Generator, sender Sender, persona *personality.Personality, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if persona == nil {
		persona = personality.Default()
	}
	cfg = cfg.WithDefaults()
	return &Engine{
		cfg:      cfg,
		users:    map[string]*userState{},
		log:      log,
		registry: registry,
		profile:  profile,
		tracker:  tracker,
		eval:     NewEvaluator(cfg),
		gen:      gen,
		sender:   sender,
		persona:  persona,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	en := e.cfg.Enabled
	e.mu.Unlock()
	return en
}

func (e *Engine) settings() Settings {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	return cfg
}

// Start launches the periodic tick and restores persisted registrations.
// Restored users get their first check after the restore delay so a restart
// never turns into a burst of messages.
func (e *Engine) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.running || !e.cfg.Enabled {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(e.log.With(logx.String("comp", "proactive"))),
		// one bad user/tick must never take down the app
		rtsup.WithCancelOnError(false),
	)
	sup := e.sup
	e.startCronLocked()
	e.mu.Unlock()

	sup.Go0("restore", func(c context.Context) { e.restore(c) })

	sup.Go0("activity.sweep", func(c context.Context) {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := e.tracker.Sweep(e.now(), 24*time.Hour); n > 0 {
					e.log.Debug("swept stale activity entries", logx.Int("count", n))
				}
			}
		}
	})

	e.log.Info("proactive engine started", logx.Duration("tick", e.settings().TickInterval))
}

// startCronLocked (re)creates the periodic tick. Call with e.mu held.
func (e *Engine) startCronLocked() {
	if e.cron != nil {
		e.cron.Stop()
	}
	e.cron = cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.TickInterval)
	if _, err := e.cron.AddFunc(spec, e.onTick); err != nil {
		e.log.Error("tick schedule rejected", logx.String("spec", spec), logx.Err(err))
		return
	}
	e.cron.Start()
}

func (e *Engine) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	c := e.cron
	e.cron = nil
	sup := e.sup
	e.sup = nil
	states := make([]*userState, 0, len(e.users))
	for _, st := range e.users {
		states = append(states, st)
	}
	e.mu.Unlock()

	if c != nil {
		stopped := c.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	for _, st := range states {
		st.cancelTimers()
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	e.log.Info("proactive engine stopped")
}

// Apply updates settings at runtime. A changed tick interval restarts the
// periodic schedule in place.
func (e *Engine) Apply(cfg Settings) {
	cfg = cfg.WithDefaults()
	e.mu.Lock()
	prevTick := e.cfg.TickInterval
	e.cfg = cfg
	e.eval.Apply(cfg)
	if e.running && cfg.TickInterval != prevTick {
		e.startCronLocked()
	}
	e.mu.Unlock()
}

// SetPersona swaps the persona used for slot times and prompts.
func (e *Engine) SetPersona(p *personality.Personality) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.persona = p
	states := make([]*userState, 0, len(e.users))
	for _, st := range e.users {
		states = append(states, st)
	}
	e.mu.Unlock()
	for _, st := range states {
		e.scheduleSlotTimers(context.Background(), st)
	}
}

// Register adds (or re-adds) a user. Registering twice replaces the chat
// mapping; the newest registration always wins. A store failure is logged
// and the in-memory registration kept, so the user is still served until
// the next restart.
func (e *Engine) Register(ctx context.Context, userID string, chatID int64) {
	now := e.now()
	st, fresh := e.addUser(Registration{UserID: userID, ChatID: chatID, RegisteredAt: now})

	if err := e.registry.Save(ctx, Registration{UserID: userID, ChatID: chatID, RegisteredAt: now}); err != nil {
		e.log.Warn("registration persist failed; keeping in-memory", logx.String("user", userID), logx.Err(err))
	}
	e.scheduleSlotTimers(ctx, st)
	if fresh {
		e.log.Info("user registered", logx.String("user", userID), logx.Int64("chat", chatID))
	} else {
		e.log.Info("user re-registered", logx.String("user", userID), logx.Int64("chat", chatID))
	}
}

// Unregister removes a user and cancels all pending timers for them.
// Idempotent: unknown users are a no-op apart from the store cleanup.
func (e *Engine) Unregister(ctx context.Context, userID string) {
	e.mu.Lock()
	st := e.users[userID]
	delete(e.users, userID)
	e.mu.Unlock()

	if st != nil {
		st.mu.Lock()
		st.gone = true
		st.mu.Unlock()
		st.cancelTimers()
	}
	e.tracker.Forget(userID)

	if err := e.registry.Remove(ctx, userID); err != nil {
		e.log.Warn("registration removal persist failed", logx.String("user", userID), logx.Err(err))
	}
	e.log.Info("user unregistered", logx.String("user", userID))
}

// OnUserMessage feeds an inbound message into the activity tracker and
// clears any ignore streak: a reply, whenever it arrives, means the user is
// still with us.
func (e *Engine) OnUserMessage(ctx context.Context, userID string, at time.Time) {
	e.tracker.Touch(userID, at)

	st := e.user(userID)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return
	}
	if n := e.profile.IgnoreCount(ctx, userID); n > 0 {
		e.profile.SetIgnoreCount(ctx, userID, 0)
		e.log.Debug("ignore streak cleared by reply", logx.String("user", userID), logx.Int("was", n))
	}
}

// SetUserTimezone stores the zone and re-anchors the user's slot timers.
func (e *Engine) SetUserTimezone(ctx context.Context, userID, zone string) error {
	if err := e.profile.SetTimezone(ctx, userID, zone); err != nil {
		return err
	}
	if st := e.user(userID); st != nil {
		e.scheduleSlotTimers(ctx, st)
	}
	return nil
}

// Users returns a snapshot of the active registrations.
func (e *Engine) Users() []Registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Registration, 0, len(e.users))
	for _, st := range e.users {
		st.mu.Lock()
		out = append(out, Registration{UserID: st.userID, ChatID: st.chatID, RegisteredAt: st.registeredAt})
		st.mu.Unlock()
	}
	return out
}

func (e *Engine) addUser(reg Registration) (st *userState, fresh bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.users[reg.UserID]
	if !ok {
		st = &userState{userID: reg.UserID, timers: map[string]*time.Timer{}}
		e.users[reg.UserID] = st
	}
	st.mu.Lock()
	st.chatID = reg.ChatID
	st.registeredAt = reg.RegisteredAt
	st.gone = false
	st.mu.Unlock()
	return st, !ok
}

func (e *Engine) user(userID string) *userState {
	e.mu.Lock()
	st := e.users[userID]
	e.mu.Unlock()
	return st
}

// restore repopulates the active set from the store without re-persisting.
func (e *Engine) restore(ctx context.Context) {
	cfg := e.settings()
	lctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	regs := e.registry.LoadAll(lctx, cfg.RestoreLimit)
	cancel()

	for _, reg := range regs {
		reg := reg
		st, _ := e.addUser(reg)
		// Slot timers are armed only after the deferred initial check, so a
		// restart close to a preferred slot time can't turn into a burst.
		st.setTimer("initial", cfg.RestoreDelay, func() {
			e.checkUser(context.Background(), reg.UserID, "initial")
			if cur := e.user(reg.UserID); cur != nil {
				e.scheduleSlotTimers(context.Background(), cur)
			}
		})
	}
	e.log.Info("registrations restored", logx.Int("count", len(regs)), logx.Duration("first_check_in", cfg.RestoreDelay))
}

// onTick fans the periodic evaluation out, one goroutine per user, so one
// slow store call or send can't stall everyone else's check.
func (e *Engine) onTick() {
	e.mu.Lock()
	sup := e.sup
	ids := make([]string, 0, len(e.users))
	for id := range e.users {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	if sup == nil {
		return
	}

	for _, id := range ids {
		id := id
		sup.Go0("check."+id, func(c context.Context) {
			e.checkUser(c, id, "tick")
		})
	}
}

// checkUser runs one full eligibility pass for one user. All profile
// mutations happen inside the user's critical section; a failure here is
// isolated to this user and this pass.
func (e *Engine) checkUser(ctx context.Context, userID, trigger string) {
	if ctx == nil {
		ctx = context.Background()
	}
	st := e.user(userID)
	if st == nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return
	}

	cfg := e.settings()
	nowUTC := e.now()
	loc := e.profile.Timezone(cctx, userID, cfg.DefaultLocation())
	local := nowUTC.In(loc)
	localDate := local.Format(dailyDateLayout)

	_, lastAt := e.profile.LastSent(cctx, userID)
	ec := EvalContext{
		NowUTC:      nowUTC,
		Location:    loc,
		LastSent:    lastAt,
		SentToday:   e.profile.SentTypesToday(cctx, userID, localDate),
		IgnoreCount: e.profile.IgnoreCount(cctx, userID),
		Active:      e.tracker.Active(userID, nowUTC, cfg.ActivityWindow),
	}

	for _, cand := range e.candidates(local) {
		d := e.eval.ShouldSend(ec, cand)
		switch d.Verdict {
		case VerdictApprove:
			e.sendProactive(cctx, st, d.Type, nowUTC, localDate)
			return
		case VerdictDeny:
			e.log.Debug("proactive denied",
				logx.String("user", userID), logx.String("trigger", trigger),
				logx.String("type", string(d.Type)), logx.String("reason", d.Reason))
			if d.Reason == ReasonOutsideWindow {
				return
			}
			// already_sent_type_today: a later candidate may still qualify.
		case VerdictDefer:
			e.log.Debug("proactive deferred",
				logx.String("user", userID), logx.String("trigger", trigger),
				logx.String("type", string(d.Type)), logx.String("reason", d.Reason))
			return
		}
	}
}

// candidates lists message types worth evaluating right now: the current
// daily slot first (slots always outrank spontaneous), then a probabilistic
// spontaneous candidate.
func (e *Engine) candidates(local time.Time) []MessageType {
	var out []MessageType
	if slot, ok := SlotCandidate(local); ok {
		out = append(out, slot)
	}

	e.rngMu.Lock()
	roll := e.rng.Float64()
	e.rngMu.Unlock()
	if roll < e.spontaneity() {
		out = append(out, Spontaneous)
	}
	return out
}

// spontaneity resolves the effective factor. An explicitly configured value
// wins (including zero, which turns spontaneous messages off); otherwise
// the persona decides.
func (e *Engine) spontaneity() float64 {
	e.mu.Lock()
	p := e.persona
	f := e.cfg.SpontaneityFactor
	e.mu.Unlock()
	if f != nil {
		return *f
	}
	if p != nil {
		return p.Spontaneity()
	}
	return 0.4
}

// sendProactive generates, delivers and records one message. Called with
// st.mu held; sends for one user are infrequent enough that holding the
// section across the network call is acceptable.
func (e *Engine) sendProactive(ctx context.Context, st *userState, t MessageType, sentAt time.Time, localDate string) {
	userID := st.userID
	cfg := e.settings()

	text, err := e.gen.Generate(ctx, userID, string(t), nil)
	if err != nil || text == "" {
		e.log.Warn("generation failed; skipping send", logx.String("user", userID), logx.String("type", string(t)), logx.Err(err))
		return
	}

	if err := e.sender.Send(ctx, kit.ChatTarget{ChatID: st.chatID}, text); err != nil {
		if delivery.PermanentlyUnreachable(err) {
			e.log.Info("chat unreachable; unregistering", logx.String("user", userID), logx.Err(err))
			st.gone = true
			go e.Unregister(context.Background(), userID)
			return
		}
		e.log.Warn("proactive send failed", logx.String("user", userID), logx.String("type", string(t)), logx.Err(err))
		return
	}

	e.profile.RecordSend(ctx, userID, t, sentAt, localDate)
	e.log.Info("proactive message sent", logx.String("user", userID), logx.String("type", string(t)))

	st.setTimer("followup", cfg.FollowUpDelay, func() {
		e.followUpCheck(userID, sentAt)
	})
}

// followUpCheck settles the ignore counter once the follow-up window has
// passed: any reply after the send clears the streak, silence extends it.
func (e *Engine) followUpCheck(userID string, sentAt time.Time) {
	st := e.user(userID)
	if st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return
	}

	if at, ok := e.tracker.LastActivity(userID); ok && at.After(sentAt) {
		e.profile.SetIgnoreCount(ctx, userID, 0)
		return
	}
	n := e.profile.IgnoreCount(ctx, userID) + 1
	e.profile.SetIgnoreCount(ctx, userID, n)
	e.log.Debug("proactive message ignored", logx.String("user", userID), logx.Int("streak", n))
}

// scheduleSlotTimers anchors one timer per daily slot at the user's
// preferred local moment, so the main slots don't wait for the next
// periodic tick. Each timer reschedules itself for the following day.
func (e *Engine) scheduleSlotTimers(ctx context.Context, st *userState) {
	cfg := e.settings()
	userID := st.userID
	loc := e.profile.Timezone(ctx, userID, cfg.DefaultLocation())
	now := e.now().In(loc)

	for _, t := range SlotTypes {
		pm, ok := e.preferredMinute(userID, t)
		if !ok {
			continue
		}
		t := t
		d := untilLocalMinute(now, pm)
		st.setTimer("slot:"+string(t), d, func() {
			e.checkUser(context.Background(), userID, "slot:"+string(t))
			if cur := e.user(userID); cur != nil {
				e.scheduleSlotTimers(context.Background(), cur)
			}
		})
	}
}

// preferredMinute returns the persona's minute-of-day for a slot, shifted
// by a stable per-user jitter of up to half an hour either way so everyone
// doesn't hear from the bot at the exact same moment.
func (e *Engine) preferredMinute(userID string, t MessageType) (int, bool) {
	e.mu.Lock()
	persona := e.persona
	e.mu.Unlock()

	h, m, ok := persona.PreferredTime(string(t))
	if !ok {
		return 0, false
	}
	pm := h*60 + m
	if userID != "" {
		pm += userJitter(userID, string(t))
	}
	if pm < 0 {
		pm = 0
	}
	if pm > 23*60+59 {
		pm = 23*60 + 59
	}
	return pm, true
}

// userJitter derives a deterministic offset in [-30,30] minutes.
func userJitter(userID, salt string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(salt))
	return int(h.Sum32()%61) - 30
}

// untilLocalMinute computes the wait until the next occurrence of the given
// minute-of-day in now's location (today if still ahead, else tomorrow).
func untilLocalMinute(now time.Time, minuteOfDay int) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Sub(now)
}
