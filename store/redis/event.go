package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/internal/entity"
)

type eventStore Store

// Hash field names for the event record. Each attribute is its own
// field so status and retry updates are partial writes that commute
// across concurrent channel workers.
const (
	fEventID   = "event_id"
	fEventType = "event_type"
	fUserID    = "user_id"
	fStatus    = "status"
	fPayload   = "payload"
	fCreatedAt = "created_at"
	fUpdatedAt = "updated_at"
)

func statusField(ch event.Channel) string {
	return "status_" + string(ch)
}

func retryField(ch event.Channel) string {
	return "retry_count_" + string(ch)
}

func (s *eventStore) PutIfAbsent(ctx context.Context, evt *event.Event) error {
	key := entityKey(prefixEvent, evt.EventID.String())

	// The event_id field doubles as the existence marker.
	created, err := s.rdb.HSetNX(ctx, key, fEventID, evt.EventID.String()).Result()
	if err != nil {
		return fmt.Errorf("notifyd/redis: put event: %w", err)
	}
	if !created {
		return event.ErrAlreadyExists
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("notifyd/redis: marshal event payload: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key,
		fEventType, string(evt.EventType),
		fUserID, evt.UserID,
		fStatus, string(evt.Status),
		statusField(event.ChannelSMS), string(evt.StatusSMS),
		statusField(event.ChannelEmail), string(evt.StatusEmail),
		statusField(event.ChannelPush), string(evt.StatusPush),
		retryField(event.ChannelSMS), evt.RetryCountSMS,
		retryField(event.ChannelEmail), evt.RetryCountEmail,
		retryField(event.ChannelPush), evt.RetryCountPush,
		fPayload, payload,
		fCreatedAt, evt.CreatedAt.Format(time.RFC3339Nano),
		fUpdatedAt, evt.UpdatedAt.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, zEventAll, goredis.Z{Score: scoreFromTime(evt.CreatedAt), Member: evt.EventID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notifyd/redis: put event: %w", err)
	}
	return nil
}

func (s *eventStore) UpdateStatus(ctx context.Context, evtID id.ID, ch event.Channel, status event.Status) error {
	key := entityKey(prefixEvent, evtID.String())
	err := s.rdb.HSet(ctx, key,
		statusField(ch), string(status),
		fStatus, string(status),
		fUpdatedAt, now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("notifyd/redis: update status: %w", err)
	}
	return nil
}

func (s *eventStore) UpdateRetry(ctx context.Context, evtID id.ID, ch event.Channel, retryCount int) error {
	key := entityKey(prefixEvent, evtID.String())
	err := s.rdb.HSet(ctx, key,
		retryField(ch), retryCount,
		fUpdatedAt, now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("notifyd/redis: update retry: %w", err)
	}
	return nil
}

func (s *eventStore) Get(ctx context.Context, evtID id.ID) (*event.Event, error) {
	attrs, err := s.rdb.HGetAll(ctx, entityKey(prefixEvent, evtID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("notifyd/redis: get event: %w", err)
	}
	if len(attrs) == 0 {
		return nil, event.ErrNotFound
	}
	return eventFromAttrs(attrs)
}

// Scan walks the event index and filters by one flat attribute,
// best-effort and eventually consistent.
func (s *eventStore) Scan(ctx context.Context, key, value string) ([]*event.Event, error) {
	ids, err := s.rdb.ZRange(ctx, zEventAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("notifyd/redis: scan events: %w", err)
	}

	var out []*event.Event
	for _, evtID := range ids {
		attrs, err := s.rdb.HGetAll(ctx, entityKey(prefixEvent, evtID)).Result()
		if err != nil || len(attrs) == 0 {
			continue
		}
		if attrs[key] != value {
			continue
		}
		evt, err := eventFromAttrs(attrs)
		if err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func eventFromAttrs(attrs map[string]string) (*event.Event, error) {
	evtID, err := id.ParseEventID(attrs[fEventID])
	if err != nil {
		return nil, fmt.Errorf("notifyd/redis: parse event ID %q: %w", attrs[fEventID], err)
	}

	var payload event.Payload
	if raw := attrs[fPayload]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("notifyd/redis: unmarshal event payload: %w", err)
		}
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, attrs[fCreatedAt])
	updatedAt, _ := time.Parse(time.RFC3339Nano, attrs[fUpdatedAt])

	return &event.Event{
		Entity:          entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		EventID:         evtID,
		EventType:       event.Type(attrs[fEventType]),
		UserID:          attrs[fUserID],
		Status:          event.Status(attrs[fStatus]),
		StatusSMS:       event.Status(attrs[statusField(event.ChannelSMS)]),
		StatusEmail:     event.Status(attrs[statusField(event.ChannelEmail)]),
		StatusPush:      event.Status(attrs[statusField(event.ChannelPush)]),
		RetryCountSMS:   atoi(attrs[retryField(event.ChannelSMS)]),
		RetryCountEmail: atoi(attrs[retryField(event.ChannelEmail)]),
		RetryCountPush:  atoi(attrs[retryField(event.ChannelPush)]),
		Payload:         payload,
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
