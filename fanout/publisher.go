// Package fanout publishes producer event batches onto the ingress
// topic. Producers get a low-latency acknowledgment: the batch is
// chunked, scheduled for asynchronous publication with bounded
// concurrency, and the call returns immediately with a count.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/observability"
)

const (
	chunkSize = 10

	// publishAttempts bounds the per-message publish retry. There is no
	// ingress DLQ: after the attempts a message is dropped and counted,
	// producers wanting durability buffer client-side.
	publishAttempts = 3
)

// Config tunes the publisher.
type Config struct {
	// Topic is the fan-out topic, defaults to bus.TopicEvent.
	Topic string

	// Concurrency bounds how many chunks publish at once. Defaults to 4.
	Concurrency int

	// InitialBackoff seeds the per-message retry backoff. Defaults to
	// 500ms.
	InitialBackoff time.Duration
}

// Publisher fans producer batches out on the ingress topic.
type Publisher struct {
	bus     bus.Bus
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	group *errgroup.Group
	wg    sync.WaitGroup
}

// New creates a publisher.
func New(b bus.Bus, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = bus.TopicEvent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	group := &errgroup.Group{}
	group.SetLimit(cfg.Concurrency)
	return &Publisher{
		bus:     b,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		group:   group,
	}
}

// PublishBatch schedules payloads for publication and returns the
// number accepted immediately; the chunks publish in the background
// under the concurrency bound. Per-message failures are logged and
// counted, never propagated — a bad message must not abort its batch.
func (p *Publisher) PublishBatch(ctx context.Context, payloads []json.RawMessage) int {
	var chunks [][]json.RawMessage
	for start := 0; start < len(payloads); start += chunkSize {
		end := start + chunkSize
		if end > len(payloads) {
			end = len(payloads)
		}
		chunks = append(chunks, payloads[start:end])
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, chunk := range chunks {
			p.wg.Add(1)
			p.group.Go(func() error {
				defer p.wg.Done()
				p.publishChunk(ctx, chunk)
				return nil
			})
		}
	}()
	return len(payloads)
}

func (p *Publisher) publishChunk(ctx context.Context, chunk []json.RawMessage) {
	for _, payload := range chunk {
		policy := backoff.WithContext(backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(p.cfg.InitialBackoff)),
			publishAttempts-1,
		), ctx)

		err := backoff.Retry(func() error {
			return p.bus.Publish(ctx, p.cfg.Topic, payload)
		}, policy)
		if err != nil {
			p.logger.ErrorContext(ctx, "publish failed, dropping event", "error", err)
			if p.metrics != nil {
				p.metrics.FanoutDroppedTotal.Inc()
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.FanoutPublishedTotal.Inc()
		}
	}
}

// Flush blocks until every scheduled chunk has finished publishing.
// Used at shutdown and by tests.
func (p *Publisher) Flush() {
	p.wg.Wait()
}
