// Package memory is the in-memory backend for the composite store,
// used by tests and local development. All maps are guarded by one
// RWMutex; reads return copies so callers never alias live records.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/notifyd/notifyd/connreg"
	"github.com/notifyd/notifyd/dlq"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/prefs"
	"github.com/notifyd/notifyd/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-process maps.
type Store struct {
	mu sync.RWMutex

	events     map[string]*event.Event
	eventOrder []string

	conns map[string]map[connreg.DeviceType]connreg.Connection

	preferences map[string]prefs.Preferences

	dlqEntries map[string]*dlq.Entry
	dlqOrder   []string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		events:      make(map[string]*event.Event),
		conns:       make(map[string]map[connreg.DeviceType]connreg.Connection),
		preferences: make(map[string]prefs.Preferences),
		dlqEntries:  make(map[string]*dlq.Entry),
	}
}

func (s *Store) Events() event.Store        { return (*eventStore)(s) }
func (s *Store) Connections() connreg.Store { return (*connStore)(s) }
func (s *Store) Preferences() prefs.Store   { return (*prefStore)(s) }
func (s *Store) DLQ() dlq.Store             { return (*dlqStore)(s) }

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

type eventStore Store

func (s *eventStore) PutIfAbsent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := evt.EventID.String()
	if _, exists := s.events[key]; exists {
		return event.ErrAlreadyExists
	}
	cp := *evt
	s.events[key] = &cp
	s.eventOrder = append(s.eventOrder, key)
	return nil
}

func (s *eventStore) UpdateStatus(_ context.Context, evtID id.ID, ch event.Channel, status event.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return event.ErrNotFound
	}
	switch ch {
	case event.ChannelSMS:
		evt.StatusSMS = status
	case event.ChannelEmail:
		evt.StatusEmail = status
	case event.ChannelPush:
		evt.StatusPush = status
	default:
		return fmt.Errorf("memory: unknown channel %q", ch)
	}
	evt.Status = status
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *eventStore) UpdateRetry(_ context.Context, evtID id.ID, ch event.Channel, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return event.ErrNotFound
	}
	switch ch {
	case event.ChannelSMS:
		evt.RetryCountSMS = retryCount
	case event.ChannelEmail:
		evt.RetryCountEmail = retryCount
	case event.ChannelPush:
		evt.RetryCountPush = retryCount
	default:
		return fmt.Errorf("memory: unknown channel %q", ch)
	}
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *eventStore) Get(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *evt
	return &cp, nil
}

func (s *eventStore) Scan(_ context.Context, key, value string) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*event.Event
	for _, evtKey := range s.eventOrder {
		evt := s.events[evtKey]
		if matchesAttr(evt, key, value) {
			cp := *evt
			out = append(out, &cp)
		}
	}
	return out, nil
}

// matchesAttr compares a flat JSON attribute of the event record
// against value, mirroring an attribute-filter table scan.
func matchesAttr(evt *event.Event, key, value string) bool {
	raw, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return false
	}
	got, ok := attrs[key]
	if !ok {
		return false
	}
	return fmt.Sprint(got) == value
}

// ──────────────────────────────────────────────────
// connreg.Store
// ──────────────────────────────────────────────────

type connStore Store

func (s *connStore) Store(_ context.Context, userID string, deviceType connreg.DeviceType, target connreg.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDevice, ok := s.conns[userID]
	if !ok {
		byDevice = make(map[connreg.DeviceType]connreg.Connection)
		s.conns[userID] = byDevice
	}
	byDevice[deviceType] = connreg.Connection{
		ConnectionID: id.NewConnectionID(),
		UserID:       userID,
		DeviceType:   deviceType,
		Target:       target,
		CreatedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *connStore) Delete(_ context.Context, userID string, deviceType connreg.DeviceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byDevice, ok := s.conns[userID]; ok {
		delete(byDevice, deviceType)
		if len(byDevice) == 0 {
			delete(s.conns, userID)
		}
	}
	return nil
}

func (s *connStore) ListByUser(_ context.Context, userID string) ([]connreg.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDevice := s.conns[userID]
	out := make([]connreg.Connection, 0, len(byDevice))
	for _, conn := range byDevice {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceType < out[j].DeviceType })
	return out, nil
}

// ──────────────────────────────────────────────────
// prefs.Store
// ──────────────────────────────────────────────────

type prefStore Store

func (s *prefStore) Get(_ context.Context, userID string) (prefs.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[userID]
	if !ok {
		return prefs.Default(), prefs.ErrNotFound
	}
	return p, nil
}

func (s *prefStore) Set(_ context.Context, userID string, p prefs.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[userID] = p
	return nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

type dlqStore Store

func (s *dlqStore) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entry.ID.String()
	cp := *entry
	s.dlqEntries[key] = &cp
	s.dlqOrder = append(s.dlqOrder, key)
	return nil
}

func (s *dlqStore) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*dlq.Entry
	for _, key := range s.dlqOrder {
		entry, ok := s.dlqEntries[key]
		if !ok {
			continue
		}
		if opts.Channel != "" && entry.Channel != opts.Channel {
			continue
		}
		if opts.From != nil && entry.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && entry.FailedAt.After(*opts.To) {
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	return applyPagination(out, opts.Offset, opts.Limit), nil
}

func (s *dlqStore) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *dlqStore) MarkReplayed(_ context.Context, dlqID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return dlq.ErrNotFound
	}
	entry.ReplayedAt = &at
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *dlqStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	remaining := s.dlqOrder[:0]
	for _, key := range s.dlqOrder {
		entry := s.dlqEntries[key]
		if entry != nil && entry.FailedAt.Before(before) {
			delete(s.dlqEntries, key)
			purged++
			continue
		}
		remaining = append(remaining, key)
	}
	s.dlqOrder = remaining
	return purged, nil
}

func (s *dlqStore) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dlqEntries)), nil
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
