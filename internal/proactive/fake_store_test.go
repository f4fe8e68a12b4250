package proactive

import (
	"context"
	"strings"
	"sync"

	"lenabot/internal/memory"
)

// fakeStore is an in-memory memory.Store with substring search, newest
// first, matching the persistent store's contract.
type fakeStore struct {
	mu   sync.Mutex
	next int64
	ents []fakeEnt
	err  error
}

type fakeEnt struct {
	id    int64
	scope string
	text  string
}

func (s *fakeStore) Append(_ context.Context, scope, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.next++
	s.ents = append(s.ents, fakeEnt{id: s.next, scope: scope, text: text})
	return nil
}

func (s *fakeStore) Search(_ context.Context, scope, query string, limit int) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []memory.Record
	for i := len(s.ents) - 1; i >= 0; i-- {
		e := s.ents[i]
		if e.scope != scope || !strings.Contains(e.text, query) {
			continue
		}
		out = append(out, memory.Record{ID: e.id, Text: e.text})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, scope, query string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	kept := s.ents[:0]
	n := 0
	for _, e := range s.ents {
		if e.scope == scope && strings.Contains(e.text, query) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.ents = kept
	return n, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.ents {
		if e.scope == scope {
			n++
		}
	}
	return n
}
