// Package delivery sends outgoing messages with a human cadence.
//
// Text is split into paragraphs and each paragraph goes out as its own
// message after a short typing pause, so a longer reply reads like someone
// actually writing it. Underneath that sits a token-bucket rate limit and
// bounded retries with jittered backoff.
package delivery

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "lenabot/internal/transport"
	logx "lenabot/pkg/logx"
)

var ErrNoAdapter = errors.New("delivery: no adapter")

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Paced         bool
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger
	rng     *rand.Rand

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text to the chat, paragraph by paragraph, and blocks until
// everything is out (or an attempt finally fails). Synchronous on purpose:
// callers record state only after a confirmed send.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	ad := s.adapter
	s.mu.Unlock()

	if ad == nil {
		return ErrNoAdapter
	}

	paragraphs := SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	for _, p := range paragraphs {
		if cfg.Paced {
			_ = ad.SendTyping(ctx, to)
			if err := s.sleep(ctx, s.typingDelay(p)); err != nil {
				return err
			}
		}
		if err := s.sendWithRetry(ctx, cfg, ad, to, p); err != nil {
			return err
		}
	}
	return nil
}

// SplitParagraphs cuts text on blank lines, trimming each part.
func SplitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// typingDelay picks a pause proportional to how long the paragraph would
// take to type: 2..4s base plus a length factor, capped at 8s.
func (s *Service) typingDelay(paragraph string) time.Duration {
	s.mu.Lock()
	base := 2*time.Second + time.Duration(s.rng.Int63n(int64(2*time.Second)))
	s.mu.Unlock()

	d := base + time.Duration(len(paragraph)/100)*time.Second
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, ad kit.Adapter, to kit.ChatTarget, text string) error {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		// Bound per-send call. Keep tight to avoid hanging callers.
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := ad.SendText(callCtx, to, text, nil)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		// No point retrying a chat that is gone.
		if PermanentlyUnreachable(err) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		if err := s.sleep(ctx, s.retryDelay(cfg, attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (s *Service) retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	s.mu.Lock()
	j := 0.7 + s.rng.Float64()*0.6
	s.mu.Unlock()
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

// PermanentlyUnreachable reports whether a send error means the chat can
// never be reached again (user blocked the bot or deleted the chat).
func PermanentlyUnreachable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked by the user") ||
		strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "user is deactivated")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
