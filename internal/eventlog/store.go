package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEventNotFound means no event exists with that id.
	ErrEventNotFound = errors.New("failover event not found")
	// ErrAlreadyResolved guards the append-only contract: resolving twice
	// is a caller bug.
	ErrAlreadyResolved = errors.New("failover event already resolved")
)

// Store is the append-only failover event log.
type Store interface {
	// Append writes a new event. Missing IDs and timestamps are filled in.
	Append(ctx context.Context, event *FailoverEvent) error

	// Resolve stamps resolved_at on a pending event and marks it completed.
	Resolve(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error

	Get(ctx context.Context, id uuid.UUID) (*FailoverEvent, error)

	// Find returns matching events, newest first.
	Find(ctx context.Context, q *Query) ([]*FailoverEvent, error)

	// CountByResult aggregates the log for the stats overview.
	CountByResult(ctx context.Context) (map[Result]int, error)
}
