package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/notifyd/notifyd/id"
)

// ErrNotFound is returned when a DLQ entry cannot be found by ID.
var ErrNotFound = errors.New("dlq: entry not found")

// Store defines the persistence contract for the dead-letter index.
type Store interface {
	// Push records a dead-lettered message.
	Push(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries, optionally filtered.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns an entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// MarkReplayed stamps an entry as re-enqueued.
	MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error

	// Purge deletes entries that failed before the threshold.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
