package proactive

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "lenabot/pkg/logx"
)

func TestRegistrySaveReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	reg := NewRegistry(store, logx.Nop())

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	if err := reg.Save(ctx, Registration{UserID: "7", ChatID: 100, RegisteredAt: at}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := reg.Save(ctx, Registration{UserID: "7", ChatID: 200, RegisteredAt: at.Add(time.Hour)}); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	got := reg.LoadAll(ctx, 100)
	if len(got) != 1 {
		t.Fatalf("LoadAll returned %d registrations, want 1", len(got))
	}
	if got[0].ChatID != 200 {
		t.Fatalf("chat_id = %d, want the newer 200", got[0].ChatID)
	}
	if store.count(systemScope) != 1 {
		t.Fatalf("system scope holds %d records, want 1", store.count(systemScope))
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	reg := NewRegistry(store, logx.Nop())

	at := time.Now().UTC()
	for _, id := range []string{"1", "2"} {
		if err := reg.Save(ctx, Registration{UserID: id, ChatID: 10, RegisteredAt: at}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := reg.Remove(ctx, "1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	got := reg.LoadAll(ctx, 100)
	if len(got) != 1 || got[0].UserID != "2" {
		t.Fatalf("LoadAll after remove = %+v, want only user 2", got)
	}
}

func TestRegistryLoadAllSkipsMalformed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &fakeStore{}
	reg := NewRegistry(store, logx.Nop())

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	if err := reg.Save(ctx, Registration{UserID: "ok", ChatID: 5, RegisteredAt: at}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Hand-written garbage that still matches the marker search.
	if err := store.Append(ctx, systemScope, "PROACTIVE_REGISTRATION v1 user_id:bad chat_id:not-a-number"); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	got := reg.LoadAll(ctx, 100)
	if len(got) != 1 || got[0].UserID != "ok" {
		t.Fatalf("LoadAll = %+v, want only the valid record", got)
	}
}

func TestRegistryLoadAllDegradesOnStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("disk on fire")}
	reg := NewRegistry(store, logx.Nop())

	if got := reg.LoadAll(context.Background(), 100); got != nil {
		t.Fatalf("LoadAll = %+v, want nil on store failure", got)
	}
}
