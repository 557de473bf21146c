package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/bus/membus"
	"github.com/notifyd/notifyd/dispatcher"
	"github.com/notifyd/notifyd/event"
)

// recordingProcessor records the order in which message bodies arrive.
type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	fails map[string]int // body → remaining failures
}

func (p *recordingProcessor) Process(_ context.Context, msg bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	body := string(msg.Body)
	if n, ok := p.fails[body]; ok && n > 0 {
		p.fails[body] = n - 1
		return errors.New("transient processing failure")
	}
	p.seen = append(p.seen, body)
	return nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func testConfig() dispatcher.Config {
	return dispatcher.Config{
		Channel:          event.ChannelSMS,
		CriticalQueue:    bus.QueueSMSCritical,
		NonCriticalQueue: bus.QueueSMSNonCritical,
		Wait:             10 * time.Millisecond,
		IdleSleep:        5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestStrictPriorityOrdering(t *testing.T) {
	// Invariant: while the critical queue has any message, no
	// non-critical message is processed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := membus.New(time.Minute)
	for i := 0; i < 20; i++ {
		_ = b.Send(ctx, bus.QueueSMSNonCritical, []byte(fmt.Sprintf("nc-%02d", i)))
	}
	for i := 0; i < 15; i++ {
		_ = b.Send(ctx, bus.QueueSMSCritical, []byte(fmt.Sprintf("c-%02d", i)))
	}

	proc := &recordingProcessor{}
	d := dispatcher.New(b, proc, testConfig(), nil, nil, nil)
	go func() { _ = d.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return len(proc.processed()) == 35 })

	seen := proc.processed()
	lastCritical := -1
	firstNonCritical := len(seen)
	for i, body := range seen {
		if body[0] == 'c' && i > lastCritical {
			lastCritical = i
		}
		if body[0] == 'n' && i < firstNonCritical {
			firstNonCritical = i
		}
	}
	if firstNonCritical < lastCritical {
		t.Errorf("non-critical message processed before critical drained: first nc at %d, last c at %d",
			firstNonCritical, lastCritical)
	}
}

func TestProcessedMessagesAreDeleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := membus.New(time.Minute)
	for i := 0; i < 7; i++ {
		_ = b.Send(ctx, bus.QueueSMSCritical, []byte(fmt.Sprintf("c-%d", i)))
	}

	proc := &recordingProcessor{}
	d := dispatcher.New(b, proc, testConfig(), nil, nil, nil)
	go func() { _ = d.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return len(proc.processed()) == 7 })
	waitFor(t, time.Second, func() bool { return b.Depth(bus.QueueSMSCritical) == 0 })
}

func TestFailedMessageIsRedelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Short visibility timeout so the failed message comes back fast.
	b := membus.New(30 * time.Millisecond)
	_ = b.Send(ctx, bus.QueueSMSCritical, []byte("flaky"))

	proc := &recordingProcessor{fails: map[string]int{"flaky": 1}}
	d := dispatcher.New(b, proc, testConfig(), nil, nil, nil)
	go func() { _ = d.Run(ctx) }()

	// First processing fails and must not delete; redelivery succeeds.
	waitFor(t, 5*time.Second, func() bool { return len(proc.processed()) == 1 })
	waitFor(t, time.Second, func() bool { return b.Depth(bus.QueueSMSCritical) == 0 })
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := membus.New(time.Minute)
	d := dispatcher.New(b, &recordingProcessor{}, testConfig(), nil, nil, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run returned nil after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
