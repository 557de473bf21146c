// Package prefs resolves per-user notification preferences consulted by
// the ingress router's channel-enable and priority decisions.
package prefs

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no preference record exists for a user.
// Callers fall back to Default().
var ErrNotFound = errors.New("prefs: not found")

// UserType classifies a user for the priority predicate. Users of type
// Admin or Premium are always treated as critical, regardless of event
// type or declared priority.
type UserType string

const (
	UserStandard UserType = "standard"
	UserAdmin    UserType = "admin"
	UserPremium  UserType = "premium"
)

// QuietHours suppresses non-critical notifications within a daily
// wall-clock window. Start/End are "HH:MM" and may wrap past midnight
// (Start > End means the window spans the day boundary).
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Preferences holds one user's notification settings.
type Preferences struct {
	SMS          bool       `json:"sms"`
	Email        bool       `json:"email"`
	Push         bool       `json:"push"`
	PriorityOnly bool       `json:"priority_only"`
	QuietHours   QuietHours `json:"quiet_hours"`
	UserType     UserType   `json:"user_type"`
}

// Default returns the documented defaults applied when no record exists
// for a user, or when the lookup itself fails (fail-open).
func Default() Preferences {
	return Preferences{
		SMS:          true,
		Email:        true,
		Push:         true,
		PriorityOnly: false,
		QuietHours:   QuietHours{Enabled: false},
		UserType:     UserStandard,
	}
}

// Store resolves a user's preferences.
type Store interface {
	// Get returns the preferences for userID. A missing record yields
	// Default() together with ErrNotFound; callers fall back to Default()
	// on any error (fail-open).
	Get(ctx context.Context, userID string) (Preferences, error)

	// Set persists preferences for userID.
	Set(ctx context.Context, userID string, prefs Preferences) error
}
