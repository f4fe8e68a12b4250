package memory

import (
	"context"
	"path/filepath"
	"testing"

	logx "lenabot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "mem.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAppendSearchDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	texts := []string{
		"USER_TIMEZONE Europe/Berlin",
		"PROACTIVE_IGNORED count:1",
		"likes hiking on weekends",
	}
	for _, txt := range texts {
		if err := st.Append(ctx, "user:42", txt); err != nil {
			t.Fatalf("Append(%q): %v", txt, err)
		}
	}

	got, err := st.Search(ctx, "user:42", "PROACTIVE_IGNORED", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "PROACTIVE_IGNORED count:1" {
		t.Fatalf("Search returned %+v", got)
	}

	// Scopes are isolated.
	got, err = st.Search(ctx, "user:99", "PROACTIVE_IGNORED", 10)
	if err != nil {
		t.Fatalf("Search other scope: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no cross-scope hits, got %+v", got)
	}

	n, err := st.Delete(ctx, "user:42", "PROACTIVE_IGNORED")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("Delete removed %d records, want 1", n)
	}

	got, err = st.Search(ctx, "user:42", "", 0)
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 remaining records, got %d", len(got))
	}
}

func TestSearchNewestFirstAndLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, txt := range []string{"note one", "note two", "note three"} {
		if err := st.Append(ctx, "user:1", txt); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Search(ctx, "user:1", "note", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d records", len(got))
	}
	if got[0].Text != "note three" || got[1].Text != "note two" {
		t.Fatalf("order wrong: %q, %q", got[0].Text, got[1].Text)
	}
}

func TestLikeMetacharactersAreLiteral(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Append(ctx, "user:1", "progress 100%"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, "user:1", "progress 100 points"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := st.Search(ctx, "user:1", "100%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "progress 100%" {
		t.Fatalf("percent not treated literally: %+v", got)
	}
}
