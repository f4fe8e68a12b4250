package proactive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Durable record conventions. Registrations live in a reserved system scope;
// per-user scheduling metadata lives in each user's own scope. Records are
// plain text with a fixed marker prefix followed by key:value pairs, so a
// prefix search finds exactly the records a marker owns.
const (
	systemScope = "proactive:system"

	regMarker      = "PROACTIVE_REGISTRATION"
	tzMarker       = "USER_TIMEZONE"
	lastSentMarker = "PROACTIVE_LAST_SENT"
	dailyMarker    = "PROACTIVE_DAILY_SENT"
	ignoredMarker  = "PROACTIVE_IGNORED"

	dailyDateLayout = "2006-01-02"
)

// UserScope returns the memory scope holding a user's records.
func UserScope(userID string) string { return "user:" + userID }

func formatRegistration(r Registration) string {
	return fmt.Sprintf("%s v1 user_id:%s chat_id:%d registered_at:%s",
		regMarker, r.UserID, r.ChatID, r.RegisteredAt.UTC().Format(time.RFC3339))
}

// parseRegistration decodes a registration record. Any structural problem is
// an error; callers skip (and log) malformed records instead of failing.
func parseRegistration(text string) (Registration, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[0] != regMarker {
		return Registration{}, fmt.Errorf("not a registration record")
	}

	var r Registration
	for _, f := range fields[1:] {
		k, v, found := strings.Cut(f, ":")
		if !found {
			continue // version tag and future bare fields
		}
		switch k {
		case "user_id":
			r.UserID = v
		case "chat_id":
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Registration{}, fmt.Errorf("chat_id %q: %w", v, err)
			}
			r.ChatID = id
		case "registered_at":
			// RFC3339 contains ':'; Cut only split the first one.
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return Registration{}, fmt.Errorf("registered_at %q: %w", v, err)
			}
			r.RegisteredAt = t
		}
	}
	if r.UserID == "" {
		return Registration{}, fmt.Errorf("registration missing user_id")
	}
	if r.ChatID == 0 {
		return Registration{}, fmt.Errorf("registration missing chat_id")
	}
	return r, nil
}

func formatTimezone(zone string) string {
	return tzMarker + " " + zone
}

func parseTimezone(text string) (string, error) {
	rest, found := strings.CutPrefix(text, tzMarker+" ")
	if !found {
		return "", fmt.Errorf("not a timezone record")
	}
	zone := strings.TrimSpace(rest)
	if zone == "" {
		return "", fmt.Errorf("timezone record empty")
	}
	return zone, nil
}

func formatLastSent(t MessageType, at time.Time) string {
	return fmt.Sprintf("%s type:%s at:%s", lastSentMarker, t, at.UTC().Format(time.RFC3339))
}

func parseLastSent(text string) (MessageType, time.Time, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 || fields[0] != lastSentMarker {
		return "", time.Time{}, fmt.Errorf("not a last-sent record")
	}
	var (
		mt MessageType
		at time.Time
	)
	for _, f := range fields[1:] {
		k, v, found := strings.Cut(f, ":")
		if !found {
			continue
		}
		switch k {
		case "type":
			mt = MessageType(v)
		case "at":
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return "", time.Time{}, fmt.Errorf("at %q: %w", v, err)
			}
			at = t
		}
	}
	if !mt.Valid() || at.IsZero() {
		return "", time.Time{}, fmt.Errorf("last-sent record incomplete")
	}
	return mt, at, nil
}

func formatDailySent(t MessageType, localDate string) string {
	return fmt.Sprintf("%s type:%s date:%s", dailyMarker, t, localDate)
}

func dailySentQuery(t MessageType, localDate string) string {
	return formatDailySent(t, localDate)
}

func formatIgnored(count int) string {
	return fmt.Sprintf("%s count:%d", ignoredMarker, count)
}

func parseIgnored(text string) (int, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 || fields[0] != ignoredMarker {
		return 0, fmt.Errorf("not an ignored record")
	}
	v, found := strings.CutPrefix(fields[1], "count:")
	if !found {
		return 0, fmt.Errorf("ignored record missing count")
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("ignored count %q invalid", v)
	}
	return n, nil
}
