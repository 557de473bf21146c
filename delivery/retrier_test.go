package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/transport"
)

func TestRetrierDecide(t *testing.T) {
	retrier := delivery.NewRetrier(5, time.Second)

	tests := []struct {
		name       string
		outcome    transport.Outcome
		retryCount int
		want       delivery.Decision
	}{
		{
			name:    "accepted → Delivered",
			outcome: transport.Outcome{OK: true, StatusCode: 201},
			want:    delivery.Delivered,
		},
		{
			name:       "transient failure within budget → Retry",
			outcome:    transport.Outcome{Retryable: true, StatusCode: 500},
			retryCount: 1,
			want:       delivery.Retry,
		},
		{
			name:       "transient failure before the last attempt → Retry",
			outcome:    transport.Outcome{Retryable: true, StatusCode: 503},
			retryCount: 4,
			want:       delivery.Retry,
		},
		{
			name:       "transient failure with budget exhausted → Fail",
			outcome:    transport.Outcome{Retryable: true, StatusCode: 500},
			retryCount: 5,
			want:       delivery.Fail,
		},
		{
			name:       "permanent failure skips remaining budget → Fail",
			outcome:    transport.Outcome{Retryable: false, StatusCode: 400},
			retryCount: 0,
			want:       delivery.Fail,
		},
		{
			name:       "network failure within budget → Retry",
			outcome:    transport.Outcome{Retryable: true, Err: "connection refused"},
			retryCount: 2,
			want:       delivery.Retry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retrier.Decide(tt.outcome, tt.retryCount); got != tt.want {
				t.Errorf("Decide: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetrierBackoffSchedule(t *testing.T) {
	retrier := delivery.NewRetrier(5, time.Second)

	// BACKOFF_BASE^retry_count seconds, computed after the increment:
	// first sleep is base^1, last is base^(MAX_RETRIES-1).
	wants := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
	}
	for retryCount, want := range wants {
		if got := retrier.Backoff(retryCount); got != want {
			t.Errorf("Backoff(%d): got %v, want %v", retryCount, got, want)
		}
	}
}

func TestRetrierSleepCancellable(t *testing.T) {
	retrier := delivery.NewRetrier(5, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- retrier.Sleep(ctx, time.Hour)
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Sleep returned nil after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not honor cancellation")
	}
}
