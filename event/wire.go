package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWire is returned by WireEvent.Validate for payloads missing
// a required field.
var ErrInvalidWire = errors.New("event: invalid wire payload")

// ChannelSelection is the notifications block of a wire payload. A
// channel absent from the block is not requested.
type ChannelSelection struct {
	SMS   bool `json:"sms,omitempty"`
	Email bool `json:"email,omitempty"`
	Push  bool `json:"push,omitempty"`
}

// WireEvent is the JSON event payload carried inside the fan-out
// envelope on every queue. All fields are optional except EventType and
// UserID. The ingress router stamps EventID before re-enqueueing onto
// channel queues, so downstream workers always see one.
type WireEvent struct {
	EventID   string   `json:"event_id,omitempty"`
	EventType string   `json:"event_type"`
	UserID    string   `json:"user_id"`
	Priority  Priority `json:"priority,omitempty"`

	ParentID   string `json:"parent_id,omitempty"`
	ParentType string `json:"parent_type,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	UserType   string `json:"user_type,omitempty"`

	// UserPhone and UserEmail are the delivery addresses for the SMS
	// and email channels. Workers substitute a placeholder when absent.
	UserPhone string `json:"user_phone,omitempty"`
	UserEmail string `json:"user_email,omitempty"`

	RetryCountSMS   int `json:"retry_count_sms,omitempty"`
	RetryCountEmail int `json:"retry_count_email,omitempty"`
	RetryCountPush  int `json:"retry_count_push,omitempty"`

	Notifications *ChannelSelection `json:"notifications,omitempty"`
	TargetClients []string          `json:"target_clients,omitempty"`
}

// ParseWire decodes a wire payload. Schema violations beyond JSON
// syntax are reported by Validate, which callers run separately so a
// decodable-but-incomplete payload can still be inspected.
func ParseWire(payload []byte) (*WireEvent, error) {
	var w WireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("event: parse wire payload: %w", err)
	}
	return &w, nil
}

// Encode serializes the wire payload back to JSON.
func (w *WireEvent) Encode() ([]byte, error) {
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("event: encode wire payload: %w", err)
	}
	return payload, nil
}

// Validate checks the required fields.
func (w *WireEvent) Validate() error {
	if w.EventType == "" {
		return fmt.Errorf("%w: missing event_type", ErrInvalidWire)
	}
	if w.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidWire)
	}
	return nil
}

// Requested reports whether the producer asked for delivery on ch. A
// payload with no notifications block requests nothing.
func (w *WireEvent) Requested(ch Channel) bool {
	if w.Notifications == nil {
		return false
	}
	switch ch {
	case ChannelSMS:
		return w.Notifications.SMS
	case ChannelEmail:
		return w.Notifications.Email
	case ChannelPush:
		return w.Notifications.Push
	default:
		return false
	}
}

// RetryCount returns the per-channel retry counter carried on the wire.
func (w *WireEvent) RetryCount(ch Channel) int {
	switch ch {
	case ChannelSMS:
		return w.RetryCountSMS
	case ChannelEmail:
		return w.RetryCountEmail
	case ChannelPush:
		return w.RetryCountPush
	default:
		return 0
	}
}

// SetRetryCount writes the per-channel retry counter, used when a
// terminal payload is forwarded to the dead-letter queue.
func (w *WireEvent) SetRetryCount(ch Channel, n int) {
	switch ch {
	case ChannelSMS:
		w.RetryCountSMS = n
	case ChannelEmail:
		w.RetryCountEmail = n
	case ChannelPush:
		w.RetryCountPush = n
	}
}

// ParsedTimestamp returns the payload timestamp, falling back to now
// when the field is absent or not ISO-8601.
func (w *WireEvent) ParsedTimestamp(now time.Time) time.Time {
	if w.Timestamp == "" {
		return now
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return now
	}
	return ts
}
