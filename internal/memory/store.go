package memory

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("memory store disabled")

// Record is a single remembered item within a scope.
type Record struct {
	ID   int64
	Text string
	At   time.Time
}

// Store is the durable memory backend.
//
// Implementations must be safe for concurrent use. A nil Store is treated
// as "unavailable" by callers; adapters degrade instead of failing hard.
type Store interface {
	// Append stores a new record in scope.
	Append(ctx context.Context, scope, text string) error

	// Search returns records in scope whose text contains query,
	// newest first, at most limit entries (limit <= 0 means no cap).
	Search(ctx context.Context, scope, query string, limit int) ([]Record, error)

	// Delete removes all records in scope whose text contains query
	// and reports how many were removed.
	Delete(ctx context.Context, scope, query string) (int, error)

	Close() error
}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}
