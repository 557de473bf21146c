package delivery

import (
	"context"

	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
)

// EventStore is the slice of the event store the worker needs: the
// authoritative retry counter read plus the per-channel partial writes.
type EventStore interface {
	Get(ctx context.Context, evtID id.ID) (*event.Event, error)
	UpdateStatus(ctx context.Context, evtID id.ID, ch event.Channel, status event.Status) error
	UpdateRetry(ctx context.Context, evtID id.ID, ch event.Channel, retryCount int) error
}

// DLQPusher routes a message that exhausted its retry budget to the
// dead-letter queue. Implemented by dlq.Service.
type DLQPusher interface {
	PushFailed(ctx context.Context, ch event.Channel, wire *event.WireEvent, retryCount int) error
}
