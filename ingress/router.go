// Package ingress consumes the ingress queue, persists each event's
// initial record, and fans it out to the per-channel priority queues.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/observability"
	"github.com/notifyd/notifyd/prefs"
)

// Config tunes the router loop.
type Config struct {
	// Queue is the ingress queue, defaults to bus.QueueEvent.
	Queue string

	// BatchSize bounds one receive, defaults to 10.
	BatchSize int

	// Wait is the receive long-poll bound, defaults to 20s.
	Wait time.Duration

	// Now overrides the clock for the quiet-hours decision. Defaults to
	// time.Now.
	Now func() time.Time
}

// Router drives the ingress queue. Run loops forever: receive a batch,
// process each message, batch-delete the ones that are done. A message
// that fails before its channel fan-out completes is left for bus
// redelivery; downstream workers absorb the resulting duplicates as
// at-least-once.
type Router struct {
	bus     bus.Bus
	events  event.Store
	prefs   prefs.Store
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates an ingress router.
func New(b bus.Bus, events event.Store, preferences prefs.Store, cfg Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Router {
	if cfg.Queue == "" {
		cfg.Queue = bus.QueueEvent
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bus:     b,
		events:  events,
		prefs:   preferences,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Run consumes the ingress queue until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := r.bus.Receive(ctx, r.cfg.Queue, r.cfg.BatchSize, r.cfg.Wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "ingress receive failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		r.ProcessBatch(ctx, msgs)
	}
}

// ProcessBatch routes one received batch and batch-deletes every
// message that finished, successfully or as an eliminated poison pill.
func (r *Router) ProcessBatch(ctx context.Context, msgs []bus.Message) {
	done := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if err := r.process(ctx, msg); err != nil {
			r.logger.ErrorContext(ctx, "ingress message left for redelivery",
				"message_id", msg.ID, "error", err)
			continue
		}
		done = append(done, msg.ReceiptHandle)
	}

	if len(done) == 0 {
		return
	}
	if err := r.bus.DeleteBatch(ctx, r.cfg.Queue, done); err != nil {
		r.logger.ErrorContext(ctx, "ingress batch delete failed", "error", err)
	}
}

// process runs one message through parse → persist → route. A nil
// return means the message may be deleted.
func (r *Router) process(ctx context.Context, msg bus.Message) error {
	payload, err := bus.Unwrap(msg.Body)
	if err == nil {
		var wire *event.WireEvent
		if wire, err = event.ParseWire(payload); err == nil {
			if err = wire.Validate(); err == nil {
				return r.route(ctx, wire)
			}
		}
	}

	// Malformed messages can never succeed on redelivery: log and
	// consume to eliminate the poison pill.
	r.logger.ErrorContext(ctx, "malformed ingress message, dropping",
		"message_id", msg.ID, "error", err)
	return nil
}

func (r *Router) route(ctx context.Context, wire *event.WireEvent) error {
	evtID := id.NewEventID()

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.StartIngressSpan(ctx, evtID.String(), wire.EventType, wire.UserID)
		defer span.End()
	}

	evt := event.New(evtID, wire.UserID, event.ParseType(wire.EventType), event.Payload{
		ParentID:   wire.ParentID,
		ParentType: wire.ParentType,
		Timestamp:  wire.ParsedTimestamp(r.cfg.Now().UTC()),
		Priority:   wire.Priority,
		UserType:   wire.UserType,
	})
	if evt.Payload.Priority == "" {
		evt.Payload.Priority = event.PriorityNormal
	}
	evt.SourceEventID = wire.EventID
	evt.RetryCountSMS = wire.RetryCountSMS
	evt.RetryCountEmail = wire.RetryCountEmail
	evt.RetryCountPush = wire.RetryCountPush

	// Persist the START record before any fan-out; a store failure
	// leaves the source message for redelivery.
	if err := r.events.PutIfAbsent(ctx, evt); err != nil && !errors.Is(err, event.ErrAlreadyExists) {
		return fmt.Errorf("persist event: %w", err)
	}
	if r.metrics != nil {
		r.metrics.EventsIngestedTotal.Inc()
	}

	p, err := r.prefs.Get(ctx, wire.UserID)
	if err != nil {
		p = prefs.Default()
		if !errors.Is(err, prefs.ErrNotFound) {
			r.logger.WarnContext(ctx, "preference lookup failed, using defaults",
				"user_id", wire.UserID, "error", err)
		}
	}

	critical := IsCritical(wire, p)
	if suppressed, reason := Suppressed(p, critical, r.cfg.Now()); suppressed {
		r.logger.DebugContext(ctx, "event suppressed",
			"event_id", evtID, "user_id", wire.UserID, "reason", reason)
		if r.metrics != nil {
			r.metrics.EventsSuppressedTotal.WithLabelValues(reason).Inc()
		}
		return nil
	}

	return r.fanOut(ctx, evtID, wire, p, critical)
}

// fanOut enqueues one copy of the event per enabled channel. The
// event_id is stamped into the payload so downstream workers share the
// record's identity.
func (r *Router) fanOut(ctx context.Context, evtID id.ID, wire *event.WireEvent, p prefs.Preferences, critical bool) error {
	wire.EventID = evtID.String()
	payload, err := wire.Encode()
	if err != nil {
		r.logger.ErrorContext(ctx, "encode fan-out payload, dropping",
			"event_id", evtID, "error", err)
		return nil
	}
	body, err := bus.Wrap(payload)
	if err != nil {
		return err
	}

	priority := "non_critical"
	if critical {
		priority = "critical"
	}

	for _, ch := range []event.Channel{event.ChannelSMS, event.ChannelEmail, event.ChannelPush} {
		if !wire.Requested(ch) || !channelEnabled(p, ch) {
			continue
		}

		queues := delivery.QueuesFor(ch)
		queue := queues.NonCritical
		if critical {
			queue = queues.Critical
		}
		if err := r.bus.Send(ctx, queue, body); err != nil {
			// Partial fan-out: redelivery re-enqueues the already-sent
			// channels too. At-least-once, by contract.
			return fmt.Errorf("enqueue %s: %w", queue, err)
		}
		if r.metrics != nil {
			r.metrics.ChannelEnqueuedTotal.WithLabelValues(string(ch), priority).Inc()
		}
	}
	return nil
}
