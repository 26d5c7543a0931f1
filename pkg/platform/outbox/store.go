package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicate is returned by Append when an entry with the same id already exists.
var ErrDuplicate = errors.New("outbox entry already exists")

// Appender is the write side handed to services and transactions.
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
}

// Store is the full outbox persistence contract used by the worker.
// Implementations must be safe for concurrent use.
type Store interface {
	Appender

	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
