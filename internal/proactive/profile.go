package proactive

import (
	"context"
	"strings"
	"time"

	"lenabot/internal/memory"
	logx "lenabot/pkg/logx"
)

// Profile reads and writes one user's scheduling metadata in the memory
// store. Every accessor is fail-soft: a store problem is logged and the
// zero value returned, so a flaky store degrades scheduling instead of
// breaking it.
type Profile struct {
	store memory.Store
	log   logx.Logger
}

func NewProfile(store memory.Store, log logx.Logger) *Profile {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Profile{store: store, log: log}
}

// Timezone resolves the user's zone, falling back to def when the record is
// missing or names an unknown zone.
func (p *Profile) Timezone(ctx context.Context, userID string, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	if p.store == nil {
		return def
	}
	recs, err := p.store.Search(ctx, UserScope(userID), tzMarker, 1)
	if err != nil || len(recs) == 0 {
		return def
	}
	zone, err := parseTimezone(recs[0].Text)
	if err != nil {
		return def
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		p.log.Debug("unknown timezone; using default", logx.String("user", userID), logx.String("zone", zone))
		return def
	}
	return loc
}

func (p *Profile) SetTimezone(ctx context.Context, userID, zone string) error {
	if p.store == nil {
		return memory.ErrDisabled
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return err
	}
	scope := UserScope(userID)
	if _, err := p.store.Delete(ctx, scope, tzMarker); err != nil {
		return err
	}
	return p.store.Append(ctx, scope, formatTimezone(zone))
}

// LastSent returns when the last proactive message went out (zero if never).
func (p *Profile) LastSent(ctx context.Context, userID string) (MessageType, time.Time) {
	if p.store == nil {
		return "", time.Time{}
	}
	recs, err := p.store.Search(ctx, UserScope(userID), lastSentMarker, 1)
	if err != nil || len(recs) == 0 {
		return "", time.Time{}
	}
	mt, at, err := parseLastSent(recs[0].Text)
	if err != nil {
		return "", time.Time{}
	}
	return mt, at
}

// RecordSend persists a confirmed send: the overall last-sent timestamp
// (replace) plus the per-day occasion marker (append).
func (p *Profile) RecordSend(ctx context.Context, userID string, t MessageType, at time.Time, localDate string) {
	if p.store == nil {
		return
	}
	scope := UserScope(userID)
	if _, err := p.store.Delete(ctx, scope, lastSentMarker); err != nil {
		p.log.Warn("last-sent replace failed", logx.String("user", userID), logx.Err(err))
	}
	if err := p.store.Append(ctx, scope, formatLastSent(t, at)); err != nil {
		p.log.Warn("last-sent write failed", logx.String("user", userID), logx.Err(err))
	}
	if err := p.store.Append(ctx, scope, formatDailySent(t, localDate)); err != nil {
		p.log.Warn("daily marker write failed", logx.String("user", userID), logx.Err(err))
	}
}

// SentToday reports whether occasion t already went out on localDate.
func (p *Profile) SentToday(ctx context.Context, userID string, t MessageType, localDate string) bool {
	if p.store == nil {
		return false
	}
	recs, err := p.store.Search(ctx, UserScope(userID), dailySentQuery(t, localDate), 1)
	if err != nil {
		return false
	}
	return len(recs) > 0
}

// SentTypesToday returns the per-occasion sent set for localDate.
func (p *Profile) SentTypesToday(ctx context.Context, userID, localDate string) map[MessageType]bool {
	out := map[MessageType]bool{}
	if p.store == nil {
		return out
	}
	recs, err := p.store.Search(ctx, UserScope(userID), dailyMarker, 50)
	if err != nil {
		return out
	}
	suffix := " date:" + localDate
	for _, rec := range recs {
		if !strings.HasSuffix(rec.Text, suffix) {
			continue
		}
		for _, t := range []MessageType{MorningCheck, AfternoonThought, EveningReflection, Spontaneous, CheckInAfterSilence} {
			if rec.Text == formatDailySent(t, localDate) {
				out[t] = true
			}
		}
	}
	return out
}

func (p *Profile) IgnoreCount(ctx context.Context, userID string) int {
	if p.store == nil {
		return 0
	}
	recs, err := p.store.Search(ctx, UserScope(userID), ignoredMarker, 1)
	if err != nil || len(recs) == 0 {
		return 0
	}
	n, err := parseIgnored(recs[0].Text)
	if err != nil {
		return 0
	}
	return n
}

// SetIgnoreCount replaces the counter; zero clears the record entirely.
func (p *Profile) SetIgnoreCount(ctx context.Context, userID string, n int) {
	if p.store == nil {
		return
	}
	if n > maxTrackedIgnores {
		n = maxTrackedIgnores
	}
	scope := UserScope(userID)
	if _, err := p.store.Delete(ctx, scope, ignoredMarker); err != nil {
		p.log.Warn("ignore counter replace failed", logx.String("user", userID), logx.Err(err))
		return
	}
	if n <= 0 {
		return
	}
	if err := p.store.Append(ctx, scope, formatIgnored(n)); err != nil {
		p.log.Warn("ignore counter write failed", logx.String("user", userID), logx.Err(err))
	}
}
