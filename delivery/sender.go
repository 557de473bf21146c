package delivery

import (
	"context"

	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/transport"
)

// Placeholder delivery addresses used when a payload carries no
// contact field for its channel.
const (
	defaultPhone = "+1234567890"
	defaultEmail = "default@example.com"
)

// Sender delivers one notification on a single channel.
type Sender interface {
	Send(ctx context.Context, wire *event.WireEvent) transport.Outcome
}

// SMSSender delivers over the SMS vendor transport.
type SMSSender struct {
	Client *transport.SMS
}

func (s *SMSSender) Send(ctx context.Context, wire *event.WireEvent) transport.Outcome {
	to := wire.UserPhone
	if to == "" {
		to = defaultPhone
	}
	return s.Client.Send(ctx, to, NotificationText(wire))
}

// EmailSender delivers over the email vendor transport.
type EmailSender struct {
	Client *transport.Email
}

func (s *EmailSender) Send(ctx context.Context, wire *event.WireEvent) transport.Outcome {
	to := wire.UserEmail
	if to == "" {
		to = defaultEmail
	}
	subject := "Notification: " + wire.EventType
	return s.Client.Send(ctx, to, subject, NotificationText(wire))
}
