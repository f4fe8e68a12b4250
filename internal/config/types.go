package config

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Memory      MemoryConfig      `json:"memory"`
	Personality PersonalityConfig `json:"personality,omitempty"`
	Delivery    DeliveryConfig    `json:"delivery,omitempty"`
	Proactive   ProactiveConfig   `json:"proactive"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MemoryConfig controls the durable memory store.
type MemoryConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// PersonalityConfig points at the persona definition file.
// If omitted, built-in defaults are used.
type PersonalityConfig struct {
	Path string `json:"path,omitempty"`
}

// DeliveryConfig controls the outbound send pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type DeliveryConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	// Paced controls human-like paragraph pacing (on by default).
	Paced *bool `json:"paced,omitempty"`
}

// ProactiveConfig controls when the bot may reach out on its own.
//
// All durations are Go duration strings. Hours are local to each user.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true (pointer distinguishes "omitted" from explicit false)
//   - tick_interval: "30m"
//   - activity_window: "10m"
//   - frequency_floor: "4h"
//   - check_in_floor: "12h"
//   - dnd_start_hour: 7, dnd_end_hour: 23 (may message in [7,23))
//   - follow_up_delay: "2h"
//   - restore_delay: "1h"
//   - restore_limit: 100
//   - default_timezone: "UTC"
//   - spontaneity_factor: 0.4
type ProactiveConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	TickInterval   string `json:"tick_interval,omitempty"`
	ActivityWindow string `json:"activity_window,omitempty"`

	FrequencyFloor string `json:"frequency_floor,omitempty"`
	CheckInFloor   string `json:"check_in_floor,omitempty"`

	DNDStartHour *int `json:"dnd_start_hour,omitempty"`
	DNDEndHour   *int `json:"dnd_end_hour,omitempty"`

	FollowUpDelay string `json:"follow_up_delay,omitempty"`
	RestoreDelay  string `json:"restore_delay,omitempty"`
	RestoreLimit  int    `json:"restore_limit,omitempty"`

	DefaultTimezone   string   `json:"default_timezone,omitempty"`
	SpontaneityFactor *float64 `json:"spontaneity_factor,omitempty"`
}
