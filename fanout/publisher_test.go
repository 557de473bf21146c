package fanout_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/bus/membus"
	"github.com/notifyd/notifyd/fanout"
)

func TestPublishBatchDeliversAll(t *testing.T) {
	ctx := context.Background()
	b := membus.New(time.Minute)
	pub := fanout.New(b, fanout.Config{}, nil, nil)

	var payloads []json.RawMessage
	for i := 0; i < 25; i++ {
		payloads = append(payloads, json.RawMessage(
			fmt.Sprintf(`{"event_type":"LIKE","user_id":"u%d"}`, i)))
	}

	accepted := pub.PublishBatch(ctx, payloads)
	if accepted != 25 {
		t.Errorf("accepted: got %d, want 25", accepted)
	}
	pub.Flush()

	if depth := b.Depth(bus.QueueEvent); depth != 25 {
		t.Errorf("queue depth: got %d, want 25", depth)
	}
}

// flakyBus fails the first publish of each payload, then hands off to
// the real bus.
type flakyBus struct {
	bus.Bus
	mu    sync.Mutex
	seen  map[string]bool
	fails int
}

func (f *flakyBus) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	first := !f.seen[string(payload)]
	f.seen[string(payload)] = true
	if first {
		f.fails++
	}
	f.mu.Unlock()
	if first {
		return errors.New("transient publish failure")
	}
	return f.Bus.Publish(ctx, topic, payload)
}

func TestPublishBatchRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := membus.New(time.Minute)
	b := &flakyBus{Bus: inner, seen: make(map[string]bool)}
	pub := fanout.New(b, fanout.Config{InitialBackoff: time.Millisecond}, nil, nil)

	payloads := []json.RawMessage{
		json.RawMessage(`{"event_type":"LIKE","user_id":"u1"}`),
		json.RawMessage(`{"event_type":"POST","user_id":"u2"}`),
	}
	pub.PublishBatch(ctx, payloads)
	pub.Flush()

	if depth := inner.Depth(bus.QueueEvent); depth != 2 {
		t.Errorf("queue depth after retries: got %d, want 2", depth)
	}
}

// deadBus always fails.
type deadBus struct{ bus.Bus }

func (deadBus) Publish(context.Context, string, []byte) error {
	return errors.New("broker unavailable")
}

func TestPublishBatchDropsAfterExhaustedRetries(t *testing.T) {
	pub := fanout.New(deadBus{}, fanout.Config{InitialBackoff: time.Millisecond}, nil, nil)

	// The batch call itself must not fail: dropped messages are logged
	// and counted, producers are never blocked.
	accepted := pub.PublishBatch(context.Background(),
		[]json.RawMessage{json.RawMessage(`{"event_type":"LIKE","user_id":"u1"}`)})
	if accepted != 1 {
		t.Errorf("accepted: got %d, want 1", accepted)
	}
	pub.Flush()
}
