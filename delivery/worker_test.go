package delivery_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/transport"
)

// scriptedSender returns its outcomes in order, repeating the last one
// once the script runs out.
type scriptedSender struct {
	mu       sync.Mutex
	script   []transport.Outcome
	attempts int
}

func (s *scriptedSender) Send(_ context.Context, _ *event.WireEvent) transport.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.attempts
	s.attempts++
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return s.script[i]
}

func (s *scriptedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type fakeEventStore struct {
	mu       sync.Mutex
	events   map[string]*event.Event
	statuses []event.Status
}

func newFakeEventStore(evts ...*event.Event) *fakeEventStore {
	s := &fakeEventStore{events: make(map[string]*event.Event)}
	for _, e := range evts {
		s.events[e.EventID.String()] = e
	}
	return s
}

func (s *fakeEventStore) Get(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	return evt, nil
}

func (s *fakeEventStore) UpdateStatus(_ context.Context, evtID id.ID, ch event.Channel, status event.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	if evt, ok := s.events[evtID.String()]; ok {
		switch ch {
		case event.ChannelSMS:
			evt.StatusSMS = status
		case event.ChannelEmail:
			evt.StatusEmail = status
		case event.ChannelPush:
			evt.StatusPush = status
		}
		evt.Status = status
	}
	return nil
}

func (s *fakeEventStore) UpdateRetry(_ context.Context, evtID id.ID, ch event.Channel, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt, ok := s.events[evtID.String()]; ok {
		switch ch {
		case event.ChannelSMS:
			evt.RetryCountSMS = retryCount
		case event.ChannelEmail:
			evt.RetryCountEmail = retryCount
		case event.ChannelPush:
			evt.RetryCountPush = retryCount
		}
	}
	return nil
}

type fakeDLQ struct {
	mu      sync.Mutex
	pushes  []pushedEntry
	pushErr error
}

type pushedEntry struct {
	channel    event.Channel
	wire       *event.WireEvent
	retryCount int
}

func (d *fakeDLQ) PushFailed(_ context.Context, ch event.Channel, wire *event.WireEvent, retryCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushErr != nil {
		return d.pushErr
	}
	d.pushes = append(d.pushes, pushedEntry{channel: ch, wire: wire, retryCount: retryCount})
	return nil
}

func (d *fakeDLQ) entries() []pushedEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]pushedEntry(nil), d.pushes...)
}

func channelMessage(t *testing.T, evtID id.ID) bus.Message {
	t.Helper()
	wire := &event.WireEvent{
		EventID:   evtID.String(),
		EventType: "MENTION",
		UserID:    "u1",
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal wire: %v", err)
	}
	body, err := bus.Wrap(payload)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return bus.Message{ID: "m1", Body: body, ReceiptHandle: "r1"}
}

// fastCfg shrinks the backoff unit so exhausted-budget tests finish in
// milliseconds.
var fastCfg = delivery.WorkerConfig{MaxRetries: 5, BackoffUnit: time.Millisecond}

func TestWorkerDeliversFirstAttempt(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{transport.Success(201)}}
	dlq := &fakeDLQ{}

	w := delivery.NewWorker(event.ChannelSMS, sender, store, dlq, fastCfg, nil)
	if err := w.Process(context.Background(), channelMessage(t, evtID)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if sender.count() != 1 {
		t.Errorf("attempts: got %d, want 1", sender.count())
	}
	if evt.StatusSMS != event.StatusSuccess {
		t.Errorf("status_sms: got %s, want SUCCESS", evt.StatusSMS)
	}
	if evt.RetryCountSMS != 0 {
		t.Errorf("retry_count_sms: got %d, want 0", evt.RetryCountSMS)
	}
	if len(dlq.entries()) != 0 {
		t.Error("unexpected DLQ entry on success")
	}
	// PROCESSING precedes the terminal status.
	if len(store.statuses) < 2 || store.statuses[0] != event.StatusProcessing {
		t.Errorf("status sequence: %v", store.statuses)
	}
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{
		{Retryable: true, StatusCode: 500},
		transport.Success(201),
	}}
	dlq := &fakeDLQ{}

	w := delivery.NewWorker(event.ChannelPush, sender, store, dlq, fastCfg, nil)
	if err := w.Process(context.Background(), channelMessage(t, evtID)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if sender.count() != 2 {
		t.Errorf("attempts: got %d, want 2", sender.count())
	}
	if evt.RetryCountPush != 1 {
		t.Errorf("retry_count_push: got %d, want 1", evt.RetryCountPush)
	}
	if evt.StatusPush != event.StatusSuccess {
		t.Errorf("status_push: got %s, want SUCCESS", evt.StatusPush)
	}
	if len(dlq.entries()) != 0 {
		t.Error("unexpected DLQ entry after recovered retry")
	}
}

func TestWorkerExhaustsBudget(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{{Retryable: true, StatusCode: 500}}}
	dlq := &fakeDLQ{}

	w := delivery.NewWorker(event.ChannelEmail, sender, store, dlq, fastCfg, nil)
	if err := w.Process(context.Background(), channelMessage(t, evtID)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if sender.count() != 5 {
		t.Errorf("attempts: got %d, want 5", sender.count())
	}
	if evt.RetryCountEmail != 5 {
		t.Errorf("retry_count_email: got %d, want 5", evt.RetryCountEmail)
	}
	if evt.StatusEmail != event.StatusFailed {
		t.Errorf("status_email: got %s, want FAILED", evt.StatusEmail)
	}

	entries := dlq.entries()
	if len(entries) != 1 {
		t.Fatalf("DLQ entries: got %d, want 1", len(entries))
	}
	if entries[0].retryCount != 5 {
		t.Errorf("DLQ retry count: got %d, want 5", entries[0].retryCount)
	}
	if entries[0].wire.RetryCountEmail != 5 {
		t.Errorf("DLQ payload retry_count_email: got %d, want 5", entries[0].wire.RetryCountEmail)
	}
	if entries[0].wire.EventID != evtID.String() {
		t.Errorf("DLQ payload event_id: got %s, want %s", entries[0].wire.EventID, evtID)
	}
}

func TestWorkerPermanentFailureSkipsRemainingBudget(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{{Retryable: false, StatusCode: 400}}}
	dlq := &fakeDLQ{}

	w := delivery.NewWorker(event.ChannelSMS, sender, store, dlq, fastCfg, nil)
	if err := w.Process(context.Background(), channelMessage(t, evtID)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if sender.count() != 1 {
		t.Errorf("attempts: got %d, want 1 for permanent failure", sender.count())
	}
	if evt.StatusSMS != event.StatusFailed {
		t.Errorf("status_sms: got %s, want FAILED", evt.StatusSMS)
	}
	if len(dlq.entries()) != 1 {
		t.Errorf("DLQ entries: got %d, want 1", len(dlq.entries()))
	}
}

func TestWorkerResumesPersistedRetryCounter(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	evt.RetryCountEmail = 3 // a previous worker crashed after three failures
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{{Retryable: true, StatusCode: 500}}}
	dlq := &fakeDLQ{}

	w := delivery.NewWorker(event.ChannelEmail, sender, store, dlq, fastCfg, nil)
	if err := w.Process(context.Background(), channelMessage(t, evtID)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Budget resumed at 3: only two more attempts before FAILED.
	if sender.count() != 2 {
		t.Errorf("attempts: got %d, want 2", sender.count())
	}
	if evt.RetryCountEmail != 5 {
		t.Errorf("retry_count_email: got %d, want 5", evt.RetryCountEmail)
	}
	if evt.StatusEmail != event.StatusFailed {
		t.Errorf("status_email: got %s, want FAILED", evt.StatusEmail)
	}
}

func TestWorkerDropsPoisonMessage(t *testing.T) {
	store := newFakeEventStore()
	sender := &scriptedSender{script: []transport.Outcome{transport.Success(201)}}

	w := delivery.NewWorker(event.ChannelSMS, sender, store, &fakeDLQ{}, fastCfg, nil)
	msg := bus.Message{ID: "m1", Body: []byte("{not json"), ReceiptHandle: "r1"}
	if err := w.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process should consume poison messages, got %v", err)
	}
	if sender.count() != 0 {
		t.Error("poison message reached the transport")
	}
}

func TestWorkerDLQFailureStillConsumesMessage(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{{Retryable: false, StatusCode: 400}}}
	dlq := &fakeDLQ{pushErr: context.DeadlineExceeded}

	w := delivery.NewWorker(event.ChannelSMS, sender, store, dlq, fastCfg, nil)
	if err := w.Process(context.Background(), channelMessage(t, evtID)); err != nil {
		t.Errorf("Process should consume the message despite DLQ failure, got %v", err)
	}
}

func TestWorkerCancellationLeavesMessageForRedelivery(t *testing.T) {
	evtID := id.NewEventID()
	evt := event.New(evtID, "u1", event.TypeMention, event.Payload{})
	store := newFakeEventStore(evt)
	sender := &scriptedSender{script: []transport.Outcome{{Retryable: true, StatusCode: 500}}}

	ctx, cancel := context.WithCancel(context.Background())
	w := delivery.NewWorker(event.ChannelSMS, sender, store, &fakeDLQ{},
		delivery.WorkerConfig{MaxRetries: 5, BackoffUnit: time.Hour}, nil)

	done := make(chan error, 1)
	go func() {
		done <- w.Process(ctx, channelMessage(t, evtID))
	}()

	time.Sleep(20 * time.Millisecond) // let the first attempt fail into backoff
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Process returned nil during cancelled backoff; message would be deleted")
		}
	case <-time.After(time.Second):
		t.Fatal("Process did not honor cancellation during backoff")
	}
}
