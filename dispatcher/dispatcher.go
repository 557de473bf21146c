// Package dispatcher runs the per-channel strict-priority loop: the
// critical queue is drained to exhaustion before the non-critical queue
// is touched, and each received batch is processed in parallel.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/observability"
)

// Processor handles one channel message. A nil return acknowledges the
// message; an error leaves it for bus redelivery. Implemented by
// delivery.Worker.
type Processor interface {
	Process(ctx context.Context, msg bus.Message) error
}

// Config tunes one channel dispatcher.
type Config struct {
	// Channel labels log lines and metrics.
	Channel event.Channel

	// CriticalQueue and NonCriticalQueue are the channel's queue pair.
	CriticalQueue    string
	NonCriticalQueue string

	// BatchSize bounds one receive, defaults to 10.
	BatchSize int

	// Wait is the per-queue long-poll bound, defaults to 5s.
	Wait time.Duration

	// IdleSleep is the pause when both queues are empty, defaults to 1s.
	IdleSleep time.Duration

	// Concurrency bounds parallel processing within a batch, defaults
	// to the batch size.
	Concurrency int
}

// Dispatcher drives one channel's queue pair.
type Dispatcher struct {
	bus     bus.Bus
	worker  Processor
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates a dispatcher for one channel.
func New(b bus.Bus, worker Processor, cfg Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:     b,
		worker:  worker,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Run loops until ctx is cancelled. While the critical queue yields
// messages, the non-critical queue is never polled — starvation of
// non-critical work under critical load is intentional. Cancellation
// lets the in-flight batch finish, then exits.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := d.drainOnce(ctx, d.cfg.CriticalQueue)
		if err != nil {
			d.sleep(ctx, time.Second)
			continue
		}
		if processed {
			continue // stay hot on critical
		}

		processed, err = d.drainOnce(ctx, d.cfg.NonCriticalQueue)
		if err != nil {
			d.sleep(ctx, time.Second)
			continue
		}
		if processed {
			continue
		}

		d.sleep(ctx, d.cfg.IdleSleep)
	}
}

// drainOnce receives one batch from queue and processes it in
// parallel. Returns whether any message was received.
func (d *Dispatcher) drainOnce(ctx context.Context, queue string) (bool, error) {
	msgs, err := d.bus.Receive(ctx, queue, d.cfg.BatchSize, d.cfg.Wait)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "receive failed",
				"channel", d.cfg.Channel, "queue", queue, "error", err)
		}
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}

	d.processBatch(ctx, queue, msgs)
	return true, nil
}

func (d *Dispatcher) processBatch(ctx context.Context, queue string, msgs []bus.Message) {
	var (
		mu   sync.Mutex
		done []string
	)

	g := &errgroup.Group{}
	g.SetLimit(d.cfg.Concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			if err := d.processOne(ctx, msg); err != nil {
				// Not deleted: the bus redelivers after the visibility
				// timeout, subject to the worker's retry bookkeeping.
				d.logger.WarnContext(ctx, "message left for redelivery",
					"channel", d.cfg.Channel, "queue", queue,
					"message_id", msg.ID, "error", err)
				return nil
			}
			mu.Lock()
			done = append(done, msg.ReceiptHandle)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(done) == 0 {
		return
	}
	if err := d.bus.DeleteBatch(ctx, queue, done); err != nil {
		d.logger.ErrorContext(ctx, "batch delete failed",
			"channel", d.cfg.Channel, "queue", queue, "error", err)
	}
}

func (d *Dispatcher) processOne(ctx context.Context, msg bus.Message) error {
	start := time.Now()

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.StartDeliverySpan(ctx, string(d.cfg.Channel), msg.ID)
	}

	err := d.worker.Process(ctx, msg)

	outcome := "done"
	if err != nil {
		outcome = "redelivered"
	}
	if d.metrics != nil {
		d.metrics.RecordDelivery(string(d.cfg.Channel), outcome, time.Since(start).Seconds())
	}
	if span != nil {
		d.tracer.EndDeliverySpan(span, outcome, err)
	}
	return err
}

// sleep pauses without outliving cancellation.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
