package redis

import (
	"context"
	"fmt"

	"github.com/notifyd/notifyd/prefs"
)

type prefStore Store

func (s *prefStore) Get(ctx context.Context, userID string) (prefs.Preferences, error) {
	var p prefs.Preferences
	if err := (*Store)(s).getJSON(ctx, entityKey(prefixPrefs, userID), &p); err != nil {
		if isRedisNil(err) {
			return prefs.Default(), prefs.ErrNotFound
		}
		return prefs.Default(), fmt.Errorf("notifyd/redis: get preferences: %w", err)
	}
	return p, nil
}

func (s *prefStore) Set(ctx context.Context, userID string, p prefs.Preferences) error {
	if err := (*Store)(s).setJSON(ctx, entityKey(prefixPrefs, userID), p); err != nil {
		return fmt.Errorf("notifyd/redis: set preferences: %w", err)
	}
	return nil
}
