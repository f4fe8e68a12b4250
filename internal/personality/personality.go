// Package personality loads the persona definition the bot speaks with.
//
// Only the scheduling-relevant parts are modeled here: preferred send times,
// the spontaneity factor, and per-occasion conversation prompts. A missing or
// broken file falls back to built-in defaults so the bot always has a voice.
package personality

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type Personality struct {
	Name          string        `json:"name,omitempty"`
	DailySchedule DailySchedule `json:"daily_schedule"`
}

type DailySchedule struct {
	// PreferredTimes maps a message occasion to a local "HH:MM" time.
	PreferredTimes map[string]string `json:"preferred_times,omitempty"`

	// SpontaneityFactor in [0,1]: probability weight for unprompted messages.
	SpontaneityFactor *float64 `json:"spontaneity_factor,omitempty"`

	// ConversationPrompts maps an occasion to candidate opener prompts.
	ConversationPrompts map[string][]string `json:"conversation_prompts,omitempty"`
}

// Default returns the built-in persona used when no file is configured.
func Default() *Personality {
	spont := 0.4
	return &Personality{
		Name: "Lena",
		DailySchedule: DailySchedule{
			PreferredTimes: map[string]string{
				"morning_check":      "08:30",
				"afternoon_thought":  "14:00",
				"evening_reflection": "20:30",
			},
			SpontaneityFactor: &spont,
			ConversationPrompts: map[string][]string{
				"morning_check": {
					"Good morning! How did you sleep?",
					"Morning! What's the plan for today?",
				},
				"afternoon_thought": {
					"Hey, you crossed my mind. How's your day going?",
					"Quick thought: how's the afternoon treating you?",
				},
				"evening_reflection": {
					"Evening! What was the best part of your day?",
					"Winding down? I'd love to hear how today went.",
				},
				"spontaneous": {
					"Random thought: I just remembered something you said and smiled.",
					"No reason, just wanted to say hi.",
				},
				"check_in_after_silence": {
					"Hey, it's been quiet. Everything okay over there?",
					"Just checking in. No pressure to reply, I'm here when you are.",
				},
			},
		},
	}
}

// Load reads a persona file. On any error the built-in default is returned
// together with the error so callers can log and keep going.
func Load(path string) (*Personality, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Default(), err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p Personality
	if err := dec.Decode(&p); err != nil {
		return Default(), fmt.Errorf("personality %s: %w", path, err)
	}
	p.fillDefaults()
	return &p, nil
}

func (p *Personality) fillDefaults() {
	def := Default()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.DailySchedule.PreferredTimes == nil {
		p.DailySchedule.PreferredTimes = def.DailySchedule.PreferredTimes
	}
	if p.DailySchedule.SpontaneityFactor == nil {
		p.DailySchedule.SpontaneityFactor = def.DailySchedule.SpontaneityFactor
	}
	if p.DailySchedule.ConversationPrompts == nil {
		p.DailySchedule.ConversationPrompts = def.DailySchedule.ConversationPrompts
	}
}

// PreferredTime parses the "HH:MM" slot for an occasion.
func (p *Personality) PreferredTime(occasion string) (hour, minute int, ok bool) {
	raw, found := p.DailySchedule.PreferredTimes[occasion]
	if !found {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// Spontaneity returns the clamped spontaneity factor.
func (p *Personality) Spontaneity() float64 {
	if p.DailySchedule.SpontaneityFactor == nil {
		return 0.4
	}
	f := *p.DailySchedule.SpontaneityFactor
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Prompts returns the opener prompts for an occasion (may be empty).
func (p *Personality) Prompts(occasion string) []string {
	return p.DailySchedule.ConversationPrompts[occasion]
}
