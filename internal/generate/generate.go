// Package generate produces the text of an outgoing proactive message.
//
// The real product plugs an LLM in behind Generator. The built-in Static
// implementation draws from the persona's prompt pool so the bot works
// end to end without any model attached.
package generate

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"lenabot/internal/personality"
)

var ErrEmpty = errors.New("generator produced empty text")

// Generator produces a message for a user and occasion.
// The context carries memory snippets the caller considered relevant.
type Generator interface {
	Generate(ctx context.Context, userID, occasion string, memories []string) (string, error)
}

// Static serves canned persona prompts. Safe for concurrent use.
type Static struct {
	mu      sync.Mutex
	rng     *rand.Rand
	persona *personality.Personality
}

func NewStatic(p *personality.Personality) *Static {
	if p == nil {
		p = personality.Default()
	}
	return &Static{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		persona: p,
	}
}

// SetPersona swaps the persona (used on config hot reload).
func (s *Static) SetPersona(p *personality.Personality) {
	if p == nil {
		return
	}
	s.mu.Lock()
	s.persona = p
	s.mu.Unlock()
}

func (s *Static) Generate(ctx context.Context, userID, occasion string, memories []string) (string, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	prompts := s.persona.Prompts(occasion)
	var pick string
	if len(prompts) > 0 {
		pick = prompts[s.rng.Intn(len(prompts))]
	}
	s.mu.Unlock()

	if strings.TrimSpace(pick) == "" {
		pick = "Hey, I was thinking about you. How are you doing?"
	}
	return pick, nil
}
