package app

import (
	"fmt"
	"strings"
	"time"

	"lenabot/internal/delivery"
	"lenabot/internal/memory"
	"lenabot/internal/proactive"
)

func mapMemoryConfig(cfg *Config) (memory.Config, error) {
	path := strings.TrimSpace(cfg.Memory.Path)
	if path == "" {
		path = "./lenabot.db"
	}
	busy, err := parseDurationOrDefault("memory.busy_timeout", cfg.Memory.BusyTimeout, time.Second)
	if err != nil {
		return memory.Config{}, err
	}
	return memory.Config{Path: path, BusyTimeout: busy}, nil
}

func mapDeliveryConfig(cfg *Config) (delivery.Config, error) {
	d := cfg.Delivery
	if d.RatePerSec < 0 {
		return delivery.Config{}, fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	if d.RetryMax < 0 {
		return delivery.Config{}, fmt.Errorf("delivery.retry_max must be >= 0")
	}
	base, err := parseDurationOrDefault("delivery.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return delivery.Config{}, err
	}
	maxDelay, err := parseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	paced := true
	if d.Paced != nil {
		paced = *d.Paced
	}
	return delivery.Config{
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		Paced:         paced,
	}, nil
}

func mapProactiveSettings(cfg *Config) (proactive.Settings, error) {
	p := cfg.Proactive

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	tick, err := parseDurationOrDefault("proactive.tick_interval", p.TickInterval, 30*time.Minute)
	if err != nil {
		return proactive.Settings{}, err
	}
	activity, err := parseDurationOrDefault("proactive.activity_window", p.ActivityWindow, 10*time.Minute)
	if err != nil {
		return proactive.Settings{}, err
	}
	floor, err := parseDurationOrDefault("proactive.frequency_floor", p.FrequencyFloor, 4*time.Hour)
	if err != nil {
		return proactive.Settings{}, err
	}
	checkIn, err := parseDurationOrDefault("proactive.check_in_floor", p.CheckInFloor, 12*time.Hour)
	if err != nil {
		return proactive.Settings{}, err
	}
	followUp, err := parseDurationOrDefault("proactive.follow_up_delay", p.FollowUpDelay, 2*time.Hour)
	if err != nil {
		return proactive.Settings{}, err
	}
	restore, err := parseDurationOrDefault("proactive.restore_delay", p.RestoreDelay, time.Hour)
	if err != nil {
		return proactive.Settings{}, err
	}

	s := proactive.Settings{
		Enabled:        enabled,
		TickInterval:   tick,
		ActivityWindow: activity,
		FrequencyFloor: floor,
		CheckInFloor:   checkIn,
		FollowUpDelay:  followUp,
		RestoreDelay:   restore,
		RestoreLimit:   p.RestoreLimit,
	}

	if p.RestoreLimit < 0 {
		return proactive.Settings{}, fmt.Errorf("proactive.restore_limit must be >= 0")
	}

	if (p.DNDStartHour == nil) != (p.DNDEndHour == nil) {
		return proactive.Settings{}, fmt.Errorf("proactive.dnd_start_hour and dnd_end_hour must be set together")
	}
	if p.DNDStartHour != nil {
		start, end := *p.DNDStartHour, *p.DNDEndHour
		if start < 0 || end > 24 || start >= end {
			return proactive.Settings{}, fmt.Errorf("proactive dnd window %d..%d invalid (need 0 <= start < end <= 24)", start, end)
		}
		s.DNDStartHour, s.DNDEndHour = start, end
	}

	if tz := strings.TrimSpace(p.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return proactive.Settings{}, fmt.Errorf("proactive.default_timezone: invalid %q: %w", tz, err)
		}
		s.DefaultTimezone = tz
	}

	if p.SpontaneityFactor != nil {
		f := *p.SpontaneityFactor
		if f < 0 || f > 1 {
			return proactive.Settings{}, fmt.Errorf("proactive.spontaneity_factor must be in [0, 1]")
		}
		// Zero is a valid explicit choice (no spontaneous messages).
		s.SpontaneityFactor = &f
	}

	return s, nil
}
