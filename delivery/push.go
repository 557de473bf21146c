package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notifyd/notifyd/connreg"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/transport"
)

// WebPusher writes a push frame to a user's live WebSocket
// connections. Implemented by wsgateway.Gateway.
type WebPusher interface {
	Send(ctx context.Context, userID, websocketID, message string) error
}

// IOSPusher delivers to an iOS device token. Implemented by
// transport.APNs.
type IOSPusher interface {
	Send(ctx context.Context, deviceToken, message string) transport.Outcome
}

// PushSender fans one notification out to every connection registered
// for the target users. The attempt is ok only when every target
// delivery succeeded; a partial failure re-enters the retry machine. A
// user with no registered connections is a success — there is nothing
// to deliver.
type PushSender struct {
	Registry connreg.Store
	Web      WebPusher
	IOS      IOSPusher
	Logger   *slog.Logger
}

func (p *PushSender) Send(ctx context.Context, wire *event.WireEvent) transport.Outcome {
	targets := wire.TargetClients
	if len(targets) == 0 {
		targets = []string{wire.UserID}
	}
	message := NotificationText(wire)

	failures := 0
	var lastErr string
	for _, userID := range targets {
		conns, err := p.Registry.ListByUser(ctx, userID)
		if err != nil {
			return transport.NetworkFailure(fmt.Errorf("list connections for %s: %w", userID, err))
		}

		for _, conn := range conns {
			if err := p.sendOne(ctx, conn, message); err != nil {
				failures++
				lastErr = err.Error()
				p.logger().WarnContext(ctx, "push target failed",
					"user_id", userID, "device_type", conn.DeviceType, "error", err)
			}
		}
	}

	if failures == 0 {
		return transport.Success(0)
	}
	return transport.Outcome{
		Retryable: true,
		Err:       fmt.Sprintf("%d push target(s) failed, last: %s", failures, lastErr),
	}
}

func (p *PushSender) sendOne(ctx context.Context, conn connreg.Connection, message string) error {
	switch target := conn.Target.(type) {
	case connreg.WebTarget:
		if p.Web == nil {
			return fmt.Errorf("no web pusher configured")
		}
		return p.Web.Send(ctx, conn.UserID, target.WebSocketID, message)
	case connreg.IOSTarget:
		if p.IOS == nil {
			return fmt.Errorf("no iOS pusher configured")
		}
		if out := p.IOS.Send(ctx, target.DeviceToken, message); !out.OK {
			return fmt.Errorf("apns: %s", out.Err)
		}
		return nil
	default:
		return fmt.Errorf("unknown connection target %T", conn.Target)
	}
}

func (p *PushSender) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
