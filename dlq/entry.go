package dlq

import (
	"encoding/json"
	"time"

	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/internal/entity"
)

// Entry is one dead-lettered message: the original event payload with
// its terminal per-channel retry counter, indexed for out-of-band
// inspection and replay.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// EventID references the event whose delivery exhausted its budget.
	EventID id.ID `json:"event_id"`

	// Channel is the delivery channel that failed.
	Channel event.Channel `json:"channel"`

	// EventType and UserID are denormalized for filtering.
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`

	// Payload is the event payload JSON exactly as written to the
	// dead-letter queue, retry counter included.
	Payload json.RawMessage `json:"payload"`

	// FinalRetryCount is the retry counter at the moment of failure.
	FinalRetryCount int `json:"final_retry_count"`

	// ReplayedAt is set when the entry has been re-enqueued.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset  int
	Limit   int
	Channel event.Channel
	From    *time.Time
	To      *time.Time
}
