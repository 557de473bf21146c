package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/internal/entity"
)

// RetryResetter resets an event's persisted per-channel retry state so
// a replayed message starts with a fresh budget. Implemented by
// event.Store.
type RetryResetter interface {
	UpdateRetry(ctx context.Context, evtID id.ID, ch event.Channel, retryCount int) error
	UpdateStatus(ctx context.Context, evtID id.ID, ch event.Channel, status event.Status) error
}

// Service manages the shared dead-letter queue. Terminal payloads are
// written to the dlq bus queue unframed (no fan-out envelope) and
// mirrored into the Store index for inspection and replay.
type Service struct {
	bus    bus.Bus
	store  Store
	events RetryResetter
	logger *slog.Logger
}

// NewService creates a DLQ service. events may be nil when replay is
// not used.
func NewService(b bus.Bus, store Store, events RetryResetter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		bus:    b,
		store:  store,
		events: events,
		logger: logger,
	}
}

// PushFailed dead-letters a message whose retry budget is exhausted.
// Implements delivery.DLQPusher. The index write is best-effort: the
// queue message is the system of record.
func (svc *Service) PushFailed(ctx context.Context, ch event.Channel, wire *event.WireEvent, retryCount int) error {
	wire.SetRetryCount(ch, retryCount)
	payload, err := wire.Encode()
	if err != nil {
		return fmt.Errorf("dlq: encode payload: %w", err)
	}

	if err := svc.bus.Send(ctx, bus.QueueDLQ, payload); err != nil {
		return fmt.Errorf("dlq: send: %w", err)
	}

	evtID, _ := id.ParseEventID(wire.EventID)
	entry := &Entry{
		Entity:          entity.New(),
		ID:              id.NewDLQID(),
		EventID:         evtID,
		Channel:         ch,
		EventType:       wire.EventType,
		UserID:          wire.UserID,
		Payload:         payload,
		FinalRetryCount: retryCount,
		FailedAt:        time.Now().UTC(),
	}
	if svc.store != nil {
		if err := svc.store.Push(ctx, entry); err != nil {
			svc.logger.ErrorContext(ctx, "DLQ index write failed",
				"event_id", wire.EventID, "channel", ch, "error", err)
		}
	}
	return nil
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay re-enqueues a single entry on its channel's non-critical
// queue with the retry counter reset, giving the message a fresh
// budget.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	wire, err := event.ParseWire(entry.Payload)
	if err != nil {
		return fmt.Errorf("dlq: replay %s: %w", dlqID, err)
	}
	wire.SetRetryCount(entry.Channel, 0)
	payload, err := wire.Encode()
	if err != nil {
		return fmt.Errorf("dlq: replay %s: %w", dlqID, err)
	}
	body, err := bus.Wrap(payload)
	if err != nil {
		return fmt.Errorf("dlq: replay %s: %w", dlqID, err)
	}

	// The persisted counter is authoritative for the worker, so the
	// fresh budget must be written back to the record as well.
	if svc.events != nil && !entry.EventID.IsNil() {
		if err := svc.events.UpdateRetry(ctx, entry.EventID, entry.Channel, 0); err != nil {
			return fmt.Errorf("dlq: replay %s: reset retry counter: %w", dlqID, err)
		}
		if err := svc.events.UpdateStatus(ctx, entry.EventID, entry.Channel, event.StatusStart); err != nil {
			return fmt.Errorf("dlq: replay %s: reset status: %w", dlqID, err)
		}
	}

	if err := svc.bus.Send(ctx, delivery.QueuesFor(entry.Channel).NonCritical, body); err != nil {
		return fmt.Errorf("dlq: replay %s: %w", dlqID, err)
	}
	return svc.store.MarkReplayed(ctx, dlqID, time.Now().UTC())
}

// ReplayBulk re-enqueues all not-yet-replayed entries within a time
// range, returning the number replayed.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var replayed int64
	for _, entry := range entries {
		if entry.ReplayedAt != nil {
			continue
		}
		if err := svc.Replay(ctx, entry.ID); err != nil {
			svc.logger.ErrorContext(ctx, "bulk replay entry failed",
				"dlq_id", entry.ID, "error", err)
			continue
		}
		replayed++
	}
	return replayed, nil
}

// Purge removes entries that failed before the threshold.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
