// Package membus is an in-memory bus.Bus backend used by tests and
// local development. It models the broker contract faithfully enough
// for the dispatcher and worker suites: FIFO per queue, a visibility
// timeout on received messages, long-poll receive, and at-least-once
// redelivery of unacknowledged messages.
package membus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/notifyd/notifyd/bus"
)

const pollInterval = 5 * time.Millisecond

type entry struct {
	id   string
	body []byte

	// receipt is non-empty while the entry is in flight; redeliveries
	// issue a fresh receipt, invalidating the previous one.
	receipt   string
	invisible time.Time
}

// Bus is an in-memory broker. The zero value is not usable; construct
// with New.
type Bus struct {
	mu         sync.Mutex
	queues     map[string][]*entry
	bindings   map[string][]string
	visibility time.Duration
	seq        int64
}

var _ bus.Bus = (*Bus)(nil)

// New returns an empty in-memory bus with the given visibility timeout.
// Queues are created implicitly on first use; topics deliver to the
// queues bound via Bind.
func New(visibility time.Duration) *Bus {
	b := &Bus{
		queues:     make(map[string][]*entry),
		bindings:   make(map[string][]string),
		visibility: visibility,
	}
	b.Bind(bus.TopicEvent, bus.QueueEvent)
	return b
}

// Bind subscribes queue to topic. Published payloads are delivered,
// envelope-wrapped, to every bound queue.
func (b *Bus) Bind(topic, queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[topic] = append(b.bindings[topic], queue)
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	body, err := bus.Wrap(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.bindings[topic] {
		b.enqueueLocked(q, body)
	}
	return ctx.Err()
}

func (b *Bus) Send(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(queue, body)
	return nil
}

func (b *Bus) enqueueLocked(queue string, body []byte) {
	b.seq++
	b.queues[queue] = append(b.queues[queue], &entry{
		id:   strconv.FormatInt(b.seq, 10),
		body: append([]byte(nil), body...),
	})
}

func (b *Bus) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]bus.Message, error) {
	deadline := time.Now().Add(wait)
	for {
		if msgs := b.receiveOnce(queue, maxMessages); len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *Bus) receiveOnce(queue string, maxMessages int) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var msgs []bus.Message
	for _, e := range b.queues[queue] {
		if len(msgs) >= maxMessages {
			break
		}
		if e.receipt != "" && now.Before(e.invisible) {
			continue
		}

		b.seq++
		e.receipt = "r" + strconv.FormatInt(b.seq, 10)
		e.invisible = now.Add(b.visibility)
		msgs = append(msgs, bus.Message{
			ID:            e.id,
			Body:          append([]byte(nil), e.body...),
			ReceiptHandle: e.receipt,
		})
	}
	return msgs
}

func (b *Bus) Delete(_ context.Context, queue string, receiptHandle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("%w: %s", bus.ErrQueueNotFound, queue)
	}
	for i, e := range entries {
		if e.receipt == receiptHandle {
			b.queues[queue] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	// Stale receipt: the visibility timeout lapsed and the message was
	// redelivered under a fresh handle. At-least-once makes this a no-op.
	return nil
}

func (b *Bus) DeleteBatch(ctx context.Context, queue string, receiptHandles []string) error {
	for _, rh := range receiptHandles {
		if err := b.Delete(ctx, queue, rh); err != nil {
			return err
		}
	}
	return nil
}

// Depth reports how many messages are currently on a queue, visible or
// not. Test helper.
func (b *Bus) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}
