package proactive

import (
	"time"
)

// MessageType is the occasion of a proactive message.
type MessageType string

const (
	MorningCheck      MessageType = "morning_check"
	AfternoonThought  MessageType = "afternoon_thought"
	EveningReflection MessageType = "evening_reflection"
	Spontaneous       MessageType = "spontaneous"

	// CheckInAfterSilence replaces the normal occasions once the user has
	// ignored several messages in a row.
	CheckInAfterSilence MessageType = "check_in_after_silence"
)

// SlotTypes are the occasions with a fixed daily slot, in priority order.
var SlotTypes = []MessageType{MorningCheck, AfternoonThought, EveningReflection}

func (t MessageType) Valid() bool {
	switch t {
	case MorningCheck, AfternoonThought, EveningReflection, Spontaneous, CheckInAfterSilence:
		return true
	}
	return false
}

// slotWindow returns the local-hour window [start, end) in which a slot
// occasion makes sense.
func slotWindow(t MessageType) (startHour, endHour int, ok bool) {
	switch t {
	case MorningCheck:
		return 7, 12, true
	case AfternoonThought:
		return 12, 17, true
	case EveningReflection:
		return 17, 22, true
	}
	return 0, 0, false
}

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictDefer   Verdict = "defer"
	VerdictDeny    Verdict = "deny"
)

// Decision reasons (defer/deny only).
const (
	ReasonOutsideWindow      = "outside_window"
	ReasonActiveConversation = "active_conversation"
	ReasonAlreadySentToday   = "already_sent_type_today"
	ReasonFrequencyFloor     = "frequency_floor"
)

type Decision struct {
	Verdict Verdict
	Type    MessageType
	Reason  string
}

func approve(t MessageType) Decision { return Decision{Verdict: VerdictApprove, Type: t} }
func deny(t MessageType, reason string) Decision {
	return Decision{Verdict: VerdictDeny, Type: t, Reason: reason}
}
func deferred(t MessageType, reason string) Decision {
	return Decision{Verdict: VerdictDefer, Type: t, Reason: reason}
}

// Registration is one user the bot may message proactively.
type Registration struct {
	UserID       string
	ChatID       int64
	RegisteredAt time.Time
}

// maxTrackedIgnores caps ignore_count so it can't grow without bound.
const maxTrackedIgnores = 5

// Settings is the effective proactive configuration.
type Settings struct {
	Enabled bool

	TickInterval   time.Duration
	ActivityWindow time.Duration

	FrequencyFloor time.Duration
	CheckInFloor   time.Duration

	// May message in local hours [DNDStartHour, DNDEndHour).
	DNDStartHour int
	DNDEndHour   int

	FollowUpDelay time.Duration
	RestoreDelay  time.Duration
	RestoreLimit  int

	DefaultTimezone string

	// SpontaneityFactor in [0,1]. Nil means "not configured": the persona's
	// factor applies. An explicit zero disables spontaneous messages.
	SpontaneityFactor *float64
}

// WithDefaults fills zero fields with the documented defaults.
func (s Settings) WithDefaults() Settings {
	if s.TickInterval <= 0 {
		s.TickInterval = 30 * time.Minute
	}
	if s.ActivityWindow <= 0 {
		s.ActivityWindow = 10 * time.Minute
	}
	if s.FrequencyFloor <= 0 {
		s.FrequencyFloor = 4 * time.Hour
	}
	if s.CheckInFloor <= 0 {
		s.CheckInFloor = 12 * time.Hour
	}
	if s.DNDStartHour <= 0 && s.DNDEndHour <= 0 {
		s.DNDStartHour, s.DNDEndHour = 7, 23
	}
	if s.FollowUpDelay <= 0 {
		s.FollowUpDelay = 2 * time.Hour
	}
	if s.RestoreDelay <= 0 {
		s.RestoreDelay = time.Hour
	}
	if s.RestoreLimit <= 0 {
		s.RestoreLimit = 100
	}
	if s.DefaultTimezone == "" {
		s.DefaultTimezone = "UTC"
	}
	if s.SpontaneityFactor != nil {
		f := *s.SpontaneityFactor
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		s.SpontaneityFactor = &f
	}
	return s
}

// DefaultLocation resolves the configured fallback zone (UTC on any error).
func (s Settings) DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(s.DefaultTimezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}
