package membus_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/bus/membus"
)

func TestSendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	b := membus.New(time.Minute)

	if err := b.Send(ctx, "q", []byte("one")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := b.Send(ctx, "q", []byte("two")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := b.Receive(ctx, "q", 10, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Receive: got %d messages, want 2", len(msgs))
	}
	if string(msgs[0].Body) != "one" || string(msgs[1].Body) != "two" {
		t.Errorf("FIFO order violated: %q, %q", msgs[0].Body, msgs[1].Body)
	}

	// In flight: invisible to a second receive.
	again, err := b.Receive(ctx, "q", 10, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("in-flight messages redelivered before visibility timeout: %d", len(again))
	}

	if err := b.DeleteBatch(ctx, "q", []string{msgs[0].ReceiptHandle, msgs[1].ReceiptHandle}); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if depth := b.Depth("q"); depth != 0 {
		t.Errorf("Depth after delete: got %d, want 0", depth)
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	b := membus.New(20 * time.Millisecond)

	if err := b.Send(ctx, "q", []byte("m")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	first, err := b.Receive(ctx, "q", 1, 0)
	if err != nil || len(first) != 1 {
		t.Fatalf("first Receive: %v, %d messages", err, len(first))
	}

	// Not deleted: after the visibility timeout the message comes back
	// under a fresh receipt handle.
	second, err := b.Receive(ctx, "q", 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if len(second) != 1 {
		t.Fatal("message not redelivered after visibility timeout")
	}
	if second[0].ReceiptHandle == first[0].ReceiptHandle {
		t.Error("redelivery reused the previous receipt handle")
	}

	// The stale handle from the first delivery no longer deletes.
	if err := b.Delete(ctx, "q", first[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete stale: %v", err)
	}
	if depth := b.Depth("q"); depth != 1 {
		t.Errorf("stale receipt deleted a redelivered message, depth %d", depth)
	}
}

func TestPublishWrapsAndFansOut(t *testing.T) {
	ctx := context.Background()
	b := membus.New(time.Minute)

	payload := []byte(`{"event_type":"LIKE","user_id":"u1"}`)
	if err := b.Publish(ctx, bus.TopicEvent, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := b.Receive(ctx, bus.QueueEvent, 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive: %v, %d messages", err, len(msgs))
	}

	inner, err := bus.Unwrap(msgs[0].Body)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if string(inner) != string(payload) {
		t.Errorf("published payload: got %s, want %s", inner, payload)
	}
}

func TestReceiveLongPoll(t *testing.T) {
	ctx := context.Background()
	b := membus.New(time.Minute)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = b.Send(context.Background(), "q", []byte("late"))
	}()

	start := time.Now()
	msgs, err := b.Receive(ctx, "q", 1, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatal("long-poll did not pick up late message")
	}
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Errorf("long-poll did not return early: %v", elapsed)
	}
}

func TestReceiveHonorsCancellation(t *testing.T) {
	b := membus.New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Receive(ctx, "q", 1, 10*time.Second)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Receive returned nil error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not honor cancellation")
	}
}
