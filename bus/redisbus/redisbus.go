// Package redisbus implements bus.Bus over Redis Streams. Each logical
// queue is one stream with a single consumer group; the receipt handle
// is the stream entry ID. Pending entries whose idle time exceeds the
// visibility timeout are reclaimed on the next Receive, giving
// at-least-once redelivery after a consumer crash.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/bus"
)

const (
	group     = "notifyd"
	bodyField = "body"
)

// Config tunes the stream consumer.
type Config struct {
	// Visibility is how long a received entry stays pending before
	// another consumer may claim it.
	Visibility time.Duration

	// Consumer names this process within the consumer group. Defaults
	// to "notifyd-<pid>".
	Consumer string
}

// Bus is a Redis Streams broker client. Safe for concurrent use.
type Bus struct {
	rdb      goredis.UniversalClient
	cfg      Config
	bindings map[string][]string

	mu     sync.Mutex
	groups map[string]bool
}

var _ bus.Bus = (*Bus)(nil)

// New wraps an existing Redis client. The event topic is pre-bound to
// the ingress queue; additional bindings go through Bind.
func New(rdb goredis.UniversalClient, cfg Config) *Bus {
	if cfg.Visibility <= 0 {
		cfg.Visibility = 30 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "notifyd-" + strconv.Itoa(os.Getpid())
	}
	return &Bus{
		rdb:      rdb,
		cfg:      cfg,
		bindings: map[string][]string{bus.TopicEvent: {bus.QueueEvent}},
		groups:   make(map[string]bool),
	}
}

// Bind subscribes queue to topic for Publish fan-out.
func (b *Bus) Bind(topic, queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[topic] = append(b.bindings[topic], queue)
}

func streamKey(queue string) string {
	return "notifyd:q:" + queue
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	body, err := bus.Wrap(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	queues := b.bindings[topic]
	b.mu.Unlock()

	for _, q := range queues {
		if err := b.Send(ctx, q, body); err != nil {
			return fmt.Errorf("redisbus: publish %s: %w", topic, err)
		}
	}
	return nil
}

func (b *Bus) Send(ctx context.Context, queue string, body []byte) error {
	err := b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisbus: send %s: %w", queue, err)
	}
	return nil
}

func (b *Bus) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]bus.Message, error) {
	if err := b.ensureGroup(ctx, queue); err != nil {
		return nil, err
	}

	// Reclaim entries another consumer received but never acknowledged
	// within the visibility timeout.
	if msgs, err := b.claimExpired(ctx, queue, maxMessages); err != nil || len(msgs) > 0 {
		return msgs, err
	}

	// Block 0 means forever to the server; a non-positive wait must
	// not block at all.
	block := wait
	if block <= 0 {
		block = -1
	}
	streams, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{streamKey(queue), ">"},
		Count:    int64(maxMessages),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // long-poll expired, queue empty
		}
		return nil, fmt.Errorf("redisbus: receive %s: %w", queue, err)
	}

	var msgs []bus.Message
	for _, s := range streams {
		for _, xm := range s.Messages {
			msgs = append(msgs, toMessage(xm))
		}
	}
	return msgs, nil
}

func (b *Bus) claimExpired(ctx context.Context, queue string, maxMessages int) ([]bus.Message, error) {
	claimed, _, err := b.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   streamKey(queue),
		Group:    group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.Visibility,
		Start:    "0-0",
		Count:    int64(maxMessages),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbus: claim %s: %w", queue, err)
	}

	var msgs []bus.Message
	for _, xm := range claimed {
		msgs = append(msgs, toMessage(xm))
	}
	return msgs, nil
}

func (b *Bus) Delete(ctx context.Context, queue string, receiptHandle string) error {
	key := streamKey(queue)
	if err := b.rdb.XAck(ctx, key, group, receiptHandle).Err(); err != nil {
		return fmt.Errorf("redisbus: ack %s: %w", queue, err)
	}
	// Bound stream growth; acked entries are never read again.
	if err := b.rdb.XDel(ctx, key, receiptHandle).Err(); err != nil {
		return fmt.Errorf("redisbus: del %s: %w", queue, err)
	}
	return nil
}

func (b *Bus) DeleteBatch(ctx context.Context, queue string, receiptHandles []string) error {
	if len(receiptHandles) == 0 {
		return nil
	}

	key := streamKey(queue)
	pipe := b.rdb.Pipeline()
	pipe.XAck(ctx, key, group, receiptHandles...)
	pipe.XDel(ctx, key, receiptHandles...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbus: ack batch %s: %w", queue, err)
	}
	return nil
}

func (b *Bus) ensureGroup(ctx context.Context, queue string) error {
	b.mu.Lock()
	done := b.groups[queue]
	b.mu.Unlock()
	if done {
		return nil
	}

	err := b.rdb.XGroupCreateMkStream(ctx, streamKey(queue), group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("redisbus: create group %s: %w", queue, err)
	}

	b.mu.Lock()
	b.groups[queue] = true
	b.mu.Unlock()
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func toMessage(xm goredis.XMessage) bus.Message {
	var body []byte
	if raw, ok := xm.Values[bodyField]; ok {
		if s, ok := raw.(string); ok {
			body = []byte(s)
		}
	}
	return bus.Message{
		ID:            xm.ID,
		Body:          body,
		ReceiptHandle: xm.ID,
	}
}
