package proactive

import (
	"context"
	"fmt"

	"lenabot/internal/memory"
	logx "lenabot/pkg/logx"
)

// Registry persists registrations in the memory store's system scope.
// One record per user; Save replaces any previous record for that user.
type Registry struct {
	store memory.Store
	log   logx.Logger
}

func NewRegistry(store memory.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log}
}

func (r *Registry) Save(ctx context.Context, reg Registration) error {
	if r.store == nil {
		return memory.ErrDisabled
	}
	// Replace semantics: drop the old record first, then append.
	if _, err := r.store.Delete(ctx, systemScope, regUserQuery(reg.UserID)); err != nil {
		return fmt.Errorf("registry delete: %w", err)
	}
	if err := r.store.Append(ctx, systemScope, formatRegistration(reg)); err != nil {
		return fmt.Errorf("registry append: %w", err)
	}
	return nil
}

func (r *Registry) Remove(ctx context.Context, userID string) error {
	if r.store == nil {
		return memory.ErrDisabled
	}
	if _, err := r.store.Delete(ctx, systemScope, regUserQuery(userID)); err != nil {
		return fmt.Errorf("registry remove: %w", err)
	}
	return nil
}

// LoadAll returns every valid registration, up to limit records scanned.
// Malformed records are logged and skipped; a store failure degrades to an
// empty result so callers can start with nothing rather than not at all.
func (r *Registry) LoadAll(ctx context.Context, limit int) []Registration {
	if r.store == nil {
		return nil
	}
	if limit <= 0 {
		limit = 100
	}
	recs, err := r.store.Search(ctx, systemScope, regMarker, limit)
	if err != nil {
		r.log.Warn("registration restore failed; starting empty", logx.Err(err))
		return nil
	}

	out := make([]Registration, 0, len(recs))
	seen := map[string]bool{}
	for _, rec := range recs {
		reg, err := parseRegistration(rec.Text)
		if err != nil {
			r.log.Warn("skipping malformed registration record", logx.Int64("record_id", rec.ID), logx.Err(err))
			continue
		}
		// Search returns newest first; keep only the latest per user.
		if seen[reg.UserID] {
			continue
		}
		seen[reg.UserID] = true
		out = append(out, reg)
	}
	return out
}

// regUserQuery matches exactly one user's registration record.
func regUserQuery(userID string) string {
	return regMarker + " v1 user_id:" + userID + " "
}
