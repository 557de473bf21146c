// Package delivery runs the per-channel retry/backoff/DLQ state
// machine. One Worker per channel consumes messages handed over by the
// priority dispatcher, calls the channel's external transport, keeps
// the event record's per-channel retry counter authoritative across
// redeliveries, and routes exhausted messages to the dead-letter queue.
package delivery

import (
	"fmt"

	"github.com/notifyd/notifyd/bus"
	"github.com/notifyd/notifyd/event"
)

// Retry budget shared by all channels. The counter lives on the event
// record under retry_count_<channel> and survives process restarts.
const (
	MaxRetries  = 5
	BackoffBase = 2
)

// Queues names the critical/non-critical queue pair of one channel.
type Queues struct {
	Critical    string
	NonCritical string
}

// QueuesFor returns the queue pair for a channel.
func QueuesFor(ch event.Channel) Queues {
	switch ch {
	case event.ChannelSMS:
		return Queues{Critical: bus.QueueSMSCritical, NonCritical: bus.QueueSMSNonCritical}
	case event.ChannelEmail:
		return Queues{Critical: bus.QueueEmailCritical, NonCritical: bus.QueueEmailNonCritical}
	case event.ChannelPush:
		return Queues{Critical: bus.QueuePushCritical, NonCritical: bus.QueuePushNonCritical}
	default:
		panic(fmt.Sprintf("delivery: unknown channel %q", ch))
	}
}

// NotificationText renders the human-readable notification for a wire
// payload, shared by every channel sender.
func NotificationText(w *event.WireEvent) string {
	return fmt.Sprintf("Event %s occurred.", w.EventType)
}
