package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramText(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		limit  int
		chunks int
	}{
		{name: "short stays whole", in: "hello there", limit: 100, chunks: 1},
		{name: "exact limit stays whole", in: strings.Repeat("a", 50), limit: 50, chunks: 1},
		{name: "over limit splits", in: strings.Repeat("a", 120), limit: 50, chunks: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit)
			if len(got) != tt.chunks {
				t.Fatalf("got %d chunks, want %d", len(got), tt.chunks)
			}
			for _, c := range got {
				if len([]rune(c)) > tt.limit {
					t.Fatalf("chunk exceeds limit: %d > %d", len([]rune(c)), tt.limit)
				}
			}
		})
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	para := strings.Repeat("x", 40)
	in := para + "\n" + para + "\n" + para
	got := splitTelegramText(in, 90)
	if len(got) < 2 {
		t.Fatalf("expected a split, got %d chunks", len(got))
	}
	// First chunk should end at a paragraph boundary, not mid-line.
	if strings.Contains(got[0], "\n") && !strings.HasSuffix(got[0], para) {
		t.Fatalf("first chunk did not end on a line boundary: %q", got[0])
	}
}
