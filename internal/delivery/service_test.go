package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "lenabot/internal/transport"
	logx "lenabot/pkg/logx"
)

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []string
	typing int
	fail   int // fail this many sends before succeeding
	err    error
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		err := f.err
		if err == nil {
			err = errors.New("boom")
		}
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) SendTyping(ctx context.Context, to kit.ChatTarget) error {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
	return nil
}

func newTestService(ad kit.Adapter, cfg Config) *Service {
	s := New(cfg, ad, logx.Nop())
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "single", in: "hello", want: 1},
		{name: "two", in: "hello\n\nworld", want: 2},
		{name: "blank runs collapse", in: "a\n\n\n\nb", want: 2},
		{name: "windows newlines", in: "a\r\n\r\nb", want: 2},
		{name: "whitespace only", in: "  \n\n  ", want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SplitParagraphs(tt.in); len(got) != tt.want {
				t.Fatalf("got %d paragraphs %q, want %d", len(got), got, tt.want)
			}
		})
	}
}

func TestSendPacedSendsEachParagraph(t *testing.T) {
	ad := &fakeAdapter{}
	s := newTestService(ad, Config{Paced: true, RatePerSec: 100})

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "first thought\n\nsecond thought")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ad.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(ad.sent))
	}
	if ad.typing != 2 {
		t.Fatalf("typing indicator shown %d times, want 2", ad.typing)
	}
}

func TestSendRetriesTransientFailure(t *testing.T) {
	ad := &fakeAdapter{fail: 2}
	s := newTestService(ad, Config{RetryMax: 3, RatePerSec: 100})

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ad.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(ad.sent))
	}
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	ad := &fakeAdapter{fail: 10}
	s := newTestService(ad, Config{RetryMax: 2, RatePerSec: 100})

	if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello"); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestSendDoesNotRetryBlockedUser(t *testing.T) {
	ad := &fakeAdapter{fail: 10, err: errors.New("telegram: Forbidden: bot was blocked by the user")}
	s := newTestService(ad, Config{RetryMax: 5, RatePerSec: 100})

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello")
	if !PermanentlyUnreachable(err) {
		t.Fatalf("expected permanently-unreachable error, got %v", err)
	}
	ad.mu.Lock()
	remaining := ad.fail
	ad.mu.Unlock()
	if remaining != 9 {
		t.Fatalf("blocked chat was retried (%d fails left)", remaining)
	}
}

func TestPermanentlyUnreachable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Forbidden: bot was blocked by the user"), true},
		{errors.New("Bad Request: chat not found"), true},
		{errors.New("Forbidden: user is deactivated"), true},
		{errors.New("Too Many Requests: retry after 5"), false},
	}
	for _, tt := range tests {
		if got := PermanentlyUnreachable(tt.err); got != tt.want {
			t.Fatalf("PermanentlyUnreachable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
