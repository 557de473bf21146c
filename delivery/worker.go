package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
)

// WorkerConfig tunes a channel worker.
type WorkerConfig struct {
	// MaxRetries bounds the per-channel retry counter. Defaults to
	// MaxRetries.
	MaxRetries int

	// BackoffUnit scales the exponential backoff. Defaults to one
	// second, giving BackoffBase^retry_count seconds between attempts.
	BackoffUnit time.Duration
}

// Worker is the per-channel delivery state machine. The priority
// dispatcher hands it one message at a time; a nil return means the
// message is done (delivered, dead-lettered, or poison) and may be
// deleted from the queue, a non-nil return leaves it for bus
// redelivery.
type Worker struct {
	channel event.Channel
	sender  Sender
	events  EventStore
	dlq     DLQPusher
	retrier *Retrier
	logger  *slog.Logger
}

// NewWorker creates the delivery worker for one channel.
func NewWorker(ch event.Channel, sender Sender, events EventStore, dlq DLQPusher, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		channel: ch,
		sender:  sender,
		events:  events,
		dlq:     dlq,
		retrier: NewRetrier(cfg.MaxRetries, cfg.BackoffUnit),
		logger:  logger,
	}
}

// Channel returns the channel this worker delivers on.
func (w *Worker) Channel() event.Channel {
	return w.channel
}

// Process runs one message through the retry state machine.
func (w *Worker) Process(ctx context.Context, msg bus.Message) error {
	payload, err := bus.Unwrap(msg.Body)
	if err != nil {
		// Poison pill: a malformed envelope will never parse on
		// redelivery either. Drop it.
		w.logger.ErrorContext(ctx, "malformed envelope, dropping",
			"channel", w.channel, "message_id", msg.ID, "error", err)
		return nil
	}

	wire, err := event.ParseWire(payload)
	if err == nil {
		err = wire.Validate()
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "malformed event payload, dropping",
			"channel", w.channel, "message_id", msg.ID, "error", err)
		return nil
	}

	evtID, retryCount := w.enter(ctx, wire)
	w.updateStatus(ctx, evtID, event.StatusProcessing)

	for {
		if err := ctx.Err(); err != nil {
			// Shutdown between attempts: leave the message for
			// redelivery with the persisted counter intact.
			return err
		}

		out := w.sender.Send(ctx, wire)
		switch w.retrier.Decide(out, retryCount) {
		case Delivered:
			w.updateStatus(ctx, evtID, event.StatusSuccess)
			w.logger.DebugContext(ctx, "delivered",
				"channel", w.channel, "event_id", wire.EventID, "retry_count", retryCount)
			return nil

		default:
		}

		if retryCount < w.retrier.MaxRetries() {
			retryCount++
			w.updateRetry(ctx, evtID, retryCount)
		}
		w.logger.WarnContext(ctx, "delivery attempt failed",
			"channel", w.channel, "event_id", wire.EventID,
			"retry_count", retryCount, "status", out.StatusCode, "error", out.Err)

		if w.retrier.Decide(out, retryCount) == Retry {
			if err := w.retrier.Sleep(ctx, w.retrier.Backoff(retryCount)); err != nil {
				return err
			}
			w.updateStatus(ctx, evtID, event.StatusProcessing)
			continue
		}

		return w.fail(ctx, evtID, wire, retryCount)
	}
}

// enter resolves the event identity and the authoritative retry
// counter. The store counter wins over the wire counter when it is
// ahead — a crash after UpdateRetry but before delete must not reset
// the budget.
func (w *Worker) enter(ctx context.Context, wire *event.WireEvent) (id.ID, int) {
	retryCount := wire.RetryCount(w.channel)

	evtID, err := id.ParseEventID(wire.EventID)
	if err != nil {
		// No usable event identity: run the state machine on the wire
		// counter alone, with store updates skipped.
		w.logger.WarnContext(ctx, "message without event_id",
			"channel", w.channel, "user_id", wire.UserID, "error", err)
		return id.Nil, retryCount
	}

	evt, err := w.events.Get(ctx, evtID)
	if err != nil {
		w.logger.WarnContext(ctx, "event record lookup failed, using wire retry counter",
			"channel", w.channel, "event_id", wire.EventID, "error", err)
		return evtID, retryCount
	}
	if stored := evt.RetryCount(w.channel); stored > retryCount {
		retryCount = stored
	}
	return evtID, retryCount
}

// fail is the terminal branch: FAILED on the record, then a
// best-effort DLQ write. A DLQ failure is logged but the message is
// still consumed — reprocessing forever because the DLQ itself is down
// helps nobody.
func (w *Worker) fail(ctx context.Context, evtID id.ID, wire *event.WireEvent, retryCount int) error {
	w.updateStatus(ctx, evtID, event.StatusFailed)

	wire.SetRetryCount(w.channel, retryCount)
	if w.dlq != nil {
		if err := w.dlq.PushFailed(ctx, w.channel, wire, retryCount); err != nil {
			w.logger.ErrorContext(ctx, "DLQ push failed",
				"channel", w.channel, "event_id", wire.EventID, "error", err)
		}
	}

	w.logger.WarnContext(ctx, "delivery failed permanently",
		"channel", w.channel, "event_id", wire.EventID, "retry_count", retryCount)
	return nil
}

func (w *Worker) updateStatus(ctx context.Context, evtID id.ID, status event.Status) {
	if evtID.IsNil() {
		return
	}
	if err := w.events.UpdateStatus(ctx, evtID, w.channel, status); err != nil {
		w.logger.ErrorContext(ctx, "update status failed",
			"channel", w.channel, "event_id", evtID, "status", status, "error", err)
	}
}

func (w *Worker) updateRetry(ctx context.Context, evtID id.ID, retryCount int) {
	if evtID.IsNil() {
		return
	}
	if err := w.events.UpdateRetry(ctx, evtID, w.channel, retryCount); err != nil {
		w.logger.ErrorContext(ctx, "update retry count failed",
			"channel", w.channel, "event_id", evtID, "retry_count", retryCount, "error", err)
	}
}
