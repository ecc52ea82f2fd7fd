package domain

import (
	"context"
	"io"
	"time"
)

// EventSink receives every audit event the engine produces. Implementations
// must be safe for concurrent use; publishing must never block a worker for
// long (drop or buffer rather than stall the pipeline).
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventBus is the durable pub/sub surface backing the audit sink, implemented
// by the redis cache layer.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// AttemptStore persists execution attempts as an append-only audit trail.
type AttemptStore interface {
	Append(ctx context.Context, attempt ExecutionAttempt) error
	// Finish records the terminal outcome for a previously appended attempt.
	Finish(ctx context.Context, attemptID string, outcome AttemptOutcome, actualProfit, gasUsed float64, errDetail string) error
	ListByOpportunity(ctx context.Context, opportunityID string) ([]ExecutionAttempt, error)
	// ListBetween returns attempts dispatched in [from, to), oldest first,
	// for archival.
	ListBetween(ctx context.Context, from, to time.Time) ([]ExecutionAttempt, error)
	// Totals returns aggregate realized profit and gas across all attempts
	// since the given time.
	Totals(ctx context.Context, since time.Time) (profit, gas float64, err error)
}

// LockManager provides distributed locks for multi-replica deployments. The
// in-process in-flight table is always authoritative within one replica; the
// distributed lock keeps two replicas from racing the same opportunity.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when another holder owns
	// the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads audit archives to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
