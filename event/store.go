package event

import (
	"context"
	"errors"

	"github.com/notifyd/notifyd/id"
)

// ErrNotFound is returned when an event cannot be found by ID.
var ErrNotFound = errors.New("event: not found")

// ErrAlreadyExists is returned by PutIfAbsent when an event with the same
// ID has already been persisted.
var ErrAlreadyExists = errors.New("event: already exists")

// Store defines the persistence contract for Event records. All updates
// are partial attribute writes; writes to Status are conditional only in
// that callers must not demote a terminal state — the store itself
// performs no check-and-set, per the concurrent cross-channel writers
// documented on Event.
type Store interface {
	// PutIfAbsent persists a new event. Returns ErrAlreadyExists if an
	// event with the same EventID is already present.
	PutIfAbsent(ctx context.Context, evt *Event) error

	// UpdateStatus writes the per-channel status and refreshes the
	// last-writer-wins summary Status field.
	UpdateStatus(ctx context.Context, evtID id.ID, ch Channel, status Status) error

	// UpdateRetry writes the per-channel retry counter.
	UpdateRetry(ctx context.Context, evtID id.ID, ch Channel, retryCount int) error

	// Get returns an event by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, evtID id.ID) (*Event, error)

	// Scan returns events whose attribute named key equals value. It is
	// best-effort and eventually consistent.
	Scan(ctx context.Context, key, value string) ([]*Event, error)
}
