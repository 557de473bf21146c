// Package redis is the Redis backend for the composite store. Event
// records are stored as hashes so status and per-channel retry updates
// are partial attribute writes; connections, preferences, and DLQ
// entries are JSON values with set/sorted-set indexes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/connreg"
	"github.com/notifyd/notifyd/dlq"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/prefs"
	notifydstore "github.com/notifyd/notifyd/store"
)

// compile-time interface check
var _ notifydstore.Store = (*Store)(nil)

// Store implements store.Store on a shared Redis client.
type Store struct {
	rdb goredis.UniversalClient
}

// New wraps an existing Redis client.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Events() event.Store        { return (*eventStore)(s) }
func (s *Store) Connections() connreg.Store { return (*connStore)(s) }
func (s *Store) Preferences() prefs.Store   { return (*prefStore)(s) }
func (s *Store) DLQ() dlq.Store             { return (*dlqStore)(s) }

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// scoreFromTime converts a time.Time to a sorted set score.
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getJSON retrieves and decodes a JSON value.
func (s *Store) getJSON(ctx context.Context, key string, dest any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// setJSON encodes and stores a JSON value.
func (s *Store) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("notifyd/redis: marshal %s: %w", key, err)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
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
