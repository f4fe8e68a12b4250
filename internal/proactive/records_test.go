package proactive

import (
	"testing"
	"time"
)

func TestRegistrationRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)
	in := Registration{UserID: "42", ChatID: -100123, RegisteredAt: at}

	out, err := parseRegistration(formatRegistration(in))
	if err != nil {
		t.Fatalf("parseRegistration: %v", err)
	}
	if out.UserID != in.UserID || out.ChatID != in.ChatID || !out.RegisteredAt.Equal(at) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestParseRegistrationMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"wrong marker", "USER_TIMEZONE Europe/Berlin"},
		{"missing user", "PROACTIVE_REGISTRATION v1 chat_id:5 registered_at:2026-02-03T10:30:00Z"},
		{"missing chat", "PROACTIVE_REGISTRATION v1 user_id:42 registered_at:2026-02-03T10:30:00Z"},
		{"bad chat id", "PROACTIVE_REGISTRATION v1 user_id:42 chat_id:nope"},
		{"bad timestamp", "PROACTIVE_REGISTRATION v1 user_id:42 chat_id:5 registered_at:yesterday"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseRegistration(tt.text); err == nil {
				t.Fatalf("parseRegistration(%q): expected error", tt.text)
			}
		})
	}
}

func TestLastSentRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 3, 18, 45, 12, 0, time.UTC)
	mt, got, err := parseLastSent(formatLastSent(EveningReflection, at))
	if err != nil {
		t.Fatalf("parseLastSent: %v", err)
	}
	if mt != EveningReflection || !got.Equal(at) {
		t.Fatalf("got %v at %v, want %v at %v", mt, got, EveningReflection, at)
	}

	if _, _, err := parseLastSent("PROACTIVE_LAST_SENT type:bogus at:2026-02-03T18:45:12Z"); err == nil {
		t.Fatal("invalid type accepted")
	}
}

func TestIgnoredRoundTrip(t *testing.T) {
	t.Parallel()

	n, err := parseIgnored(formatIgnored(3))
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v), want (3, nil)", n, err)
	}
	if _, err := parseIgnored("PROACTIVE_IGNORED count:-1"); err == nil {
		t.Fatal("negative count accepted")
	}
}

func TestTimezoneRoundTrip(t *testing.T) {
	t.Parallel()

	zone, err := parseTimezone(formatTimezone("America/New_York"))
	if err != nil || zone != "America/New_York" {
		t.Fatalf("got (%q, %v)", zone, err)
	}
	if _, err := parseTimezone("USER_TIMEZONE "); err == nil {
		t.Fatal("empty zone accepted")
	}
}
