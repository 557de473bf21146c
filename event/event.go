// Package event defines the Event record — the primary entity tracked
// through ingress, priority dispatch, and per-channel delivery.
package event

import (
	"time"

	"github.com/notifyd/notifyd/id"
	"github.com/notifyd/notifyd/internal/entity"
)

// Type enumerates the domain event categories a producer can emit.
type Type string

// Event type constants. TypeUnknown is the routing fallback for any
// event_type value the ingress router does not recognize.
const (
	TypeLike      Type = "LIKE"
	TypeComment   Type = "COMMENT"
	TypeShare     Type = "SHARE"
	TypeFollow    Type = "FOLLOW"
	TypeUnfollow  Type = "UNFOLLOW"
	TypeMention   Type = "MENTION"
	TypeMessage   Type = "MESSAGE"
	TypePost      Type = "POST"
	TypeReply     Type = "REPLY"
	TypeUnknown   Type = "UNKNOWN"
)

// ParseType converts a raw event_type string into a Type, falling back to
// TypeUnknown for anything unrecognized rather than rejecting the event.
func ParseType(s string) Type {
	switch Type(s) {
	case TypeLike, TypeComment, TypeShare, TypeFollow, TypeUnfollow,
		TypeMention, TypeMessage, TypePost, TypeReply:
		return Type(s)
	default:
		return TypeUnknown
	}
}

// Channel identifies one of the three delivery channels a notification can
// fan out to.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Status is the lifecycle state of an event, either overall or scoped to
// a single channel.
type Status string

const (
	StatusStart      Status = "START"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Priority is the producer-declared urgency of an event. It feeds the
// ingress router's critical/non-critical routing decision alongside the
// event type and the user's type.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Payload is the nested attribute bag carried on every Event record.
type Payload struct {
	ParentID   string    `json:"parent_id,omitempty"`
	ParentType string    `json:"parent_type,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Priority   Priority  `json:"priority,omitempty"`

	// UserType echoes the producer-supplied user type when present, used
	// as a fallback priority signal if prefs.Store has no record for the
	// user (see ingress.IsCritical).
	UserType string `json:"user_type,omitempty"`
}

// Event is the primary entity tracked from ingress through delivery. It is
// keyed by EventID, minted exactly once at ingress and never reused.
type Event struct {
	entity.Entity

	EventID   id.ID  `json:"event_id"`
	EventType Type   `json:"event_type"`
	UserID    string `json:"user_id"`

	// SourceEventID preserves a caller-supplied event_id for
	// best-effort dedup tracking via Scan. The authoritative EventID is
	// always minted at ingress; duplicates of the same source message
	// produce distinct records that share this value.
	SourceEventID string `json:"source_event_id,omitempty"`

	// Status is a last-writer-wins summary across channels; readers that
	// need a channel-accurate view should use StatusSMS/StatusEmail/
	// StatusPush instead.
	Status Status `json:"status"`

	StatusSMS   Status `json:"status_sms"`
	StatusEmail Status `json:"status_email"`
	StatusPush  Status `json:"status_push"`

	RetryCountSMS   int `json:"retry_count_sms"`
	RetryCountEmail int `json:"retry_count_email"`
	RetryCountPush  int `json:"retry_count_push"`

	Payload Payload `json:"payload"`
}

// New builds an Event record in the START state for a freshly ingested
// message. EventID must already be minted by the caller (id.NewEventID).
func New(evtID id.ID, userID string, typ Type, payload Payload) *Event {
	return &Event{
		Entity:      entity.New(),
		EventID:     evtID,
		EventType:   typ,
		UserID:      userID,
		Status:      StatusStart,
		StatusSMS:   StatusStart,
		StatusEmail: StatusStart,
		StatusPush:  StatusStart,
		Payload:     payload,
	}
}

// RetryCount returns the retry counter for the given channel.
func (e *Event) RetryCount(ch Channel) int {
	switch ch {
	case ChannelSMS:
		return e.RetryCountSMS
	case ChannelEmail:
		return e.RetryCountEmail
	case ChannelPush:
		return e.RetryCountPush
	default:
		return 0
	}
}

// ChannelStatus returns the per-channel status for the given channel.
func (e *Event) ChannelStatus(ch Channel) Status {
	switch ch {
	case ChannelSMS:
		return e.StatusSMS
	case ChannelEmail:
		return e.StatusEmail
	case ChannelPush:
		return e.StatusPush
	default:
		return ""
	}
}
