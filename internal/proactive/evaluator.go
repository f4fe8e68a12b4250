package proactive

import (
	"sync"
	"time"
)

// EvalContext is everything the evaluator needs to decide on one candidate.
// The engine assembles it inside the user's critical section, so the
// evaluator itself stays a pure function.
type EvalContext struct {
	// NowUTC is the evaluation instant.
	NowUTC time.Time

	// Location is the user's resolved zone; nil falls back to the
	// configured default zone.
	Location *time.Location

	// LastSent is the previous proactive send (zero if never).
	LastSent time.Time

	// SentToday holds the occasions already sent this local day.
	SentToday map[MessageType]bool

	IgnoreCount int

	// Active is the conversation tracker's verdict for this instant.
	Active bool
}

// Evaluator applies the eligibility rules. Decisions, in order:
//
//  1. resolve zone (fallback to default)
//  2. outside [DNDStartHour, DNDEndHour) local → deny
//  3. mid-conversation → defer
//  4. two or more ignored messages → the candidate becomes a gentle
//     check-in with its own (longer) floor
//  5. occasion already sent this local day → deny
//  6. too soon since the previous send → defer
//  7. approve
type Evaluator struct {
	// mu guards cfg: Apply runs from the config hot-reload path while
	// ShouldSend runs from tick goroutines.
	mu  sync.Mutex
	cfg Settings
}

func NewEvaluator(cfg Settings) *Evaluator {
	return &Evaluator{cfg: cfg.WithDefaults()}
}

// Apply swaps the settings (config hot reload).
func (e *Evaluator) Apply(cfg Settings) {
	e.mu.Lock()
	e.cfg = cfg.WithDefaults()
	e.mu.Unlock()
}

func (e *Evaluator) ShouldSend(c EvalContext, candidate MessageType) Decision {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	loc := c.Location
	if loc == nil {
		loc = cfg.DefaultLocation()
	}
	local := c.NowUTC.In(loc)

	hour := local.Hour()
	if hour < cfg.DNDStartHour || hour >= cfg.DNDEndHour {
		return deny(candidate, ReasonOutsideWindow)
	}

	if c.Active {
		return deferred(candidate, ReasonActiveConversation)
	}

	floor := cfg.FrequencyFloor
	if c.IgnoreCount >= 2 {
		candidate = CheckInAfterSilence
		floor = cfg.CheckInFloor
	}

	if c.SentToday[candidate] {
		return deny(candidate, ReasonAlreadySentToday)
	}

	if !c.LastSent.IsZero() && c.NowUTC.Sub(c.LastSent) < floor {
		return deferred(candidate, ReasonFrequencyFloor)
	}

	return approve(candidate)
}

// SlotCandidate picks the daily slot whose local window contains the given
// time. The hour window alone decides; persona preferred times only steer
// the dedicated per-slot timers, never gate the periodic tick.
func SlotCandidate(local time.Time) (MessageType, bool) {
	hour := local.Hour()
	for _, t := range SlotTypes {
		start, end, _ := slotWindow(t)
		if hour >= start && hour < end {
			return t, true
		}
	}
	return "", false
}
