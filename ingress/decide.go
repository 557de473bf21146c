package ingress

import (
	"strings"
	"time"

	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/prefs"
)

// Suppression reasons, used as the metrics label.
const (
	ReasonPriorityOnly = "priority_only"
	ReasonQuietHours   = "quiet_hours"
)

// IsCritical applies the priority predicate: an event is critical iff
// its type is MENTION/COMMENT/REPLY, its own payload declares high
// priority, or the user is admin/premium. The user type comes from the
// preference record, falling back to the payload-embedded value when
// the record carries no elevated type.
func IsCritical(w *event.WireEvent, p prefs.Preferences) bool {
	switch event.ParseType(w.EventType) {
	case event.TypeMention, event.TypeComment, event.TypeReply:
		return true
	default:
	}

	if w.Priority == event.PriorityHigh {
		return true
	}

	userType := p.UserType
	if userType == "" || userType == prefs.UserStandard {
		userType = prefs.UserType(strings.ToLower(w.UserType))
	}
	return userType == prefs.UserAdmin || userType == prefs.UserPremium
}

// Suppressed applies the suppression decision to a non-critical event:
// priority-only users drop it, and quiet hours drop it while the local
// time is inside the configured window. Critical events are never
// suppressed.
func Suppressed(p prefs.Preferences, critical bool, now time.Time) (bool, string) {
	if critical {
		return false, ""
	}
	if p.PriorityOnly {
		return true, ReasonPriorityOnly
	}
	if p.QuietHours.Enabled && inQuietWindow(p.QuietHours, now) {
		return true, ReasonQuietHours
	}
	return false, ""
}

// inQuietWindow reports whether now falls inside the [start, end]
// wall-clock window. start > end means the window crosses midnight.
// Malformed bounds disable the window rather than suppressing.
func inQuietWindow(q prefs.QuietHours, now time.Time) bool {
	start, okStart := parseClock(q.Start)
	end, okEnd := parseClock(q.End)
	if !okStart || !okEnd {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// channelEnabled consults the user's per-channel preference.
func channelEnabled(p prefs.Preferences, ch event.Channel) bool {
	switch ch {
	case event.ChannelSMS:
		return p.SMS
	case event.ChannelEmail:
		return p.Email
	case event.ChannelPush:
		return p.Push
	default:
		return false
	}
}
