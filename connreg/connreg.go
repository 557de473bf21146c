// Package connreg tracks live client connections so the push delivery
// worker knows where to fan a notification out to.
package connreg

import (
	"context"
	"time"

	"github.com/notifyd/notifyd/id"
)

// DeviceType distinguishes the two kinds of registered connection.
type DeviceType string

const (
	DeviceWeb DeviceType = "web"
	DeviceIOS DeviceType = "ios"
)

// Target is implemented by WebTarget and IOSTarget, the two concrete
// connection targets a push can be sent to.
type Target interface {
	isTarget()
}

// WebTarget addresses a live WebSocket connection held by a wsgateway
// process.
type WebTarget struct {
	WebSocketID   string `json:"websocket_id"`
	ConnectionURL string `json:"connection_url,omitempty"`
}

func (WebTarget) isTarget() {}

// IOSTarget addresses a device via its push notification token.
type IOSTarget struct {
	DeviceToken string `json:"device_token"`
}

func (IOSTarget) isTarget() {}

// Connection is one registered device for one user.
type Connection struct {
	ConnectionID id.ID      `json:"connection_id"`
	UserID       string     `json:"user_id"`
	DeviceType   DeviceType `json:"device_type"`
	Target       Target     `json:"target"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Store persists and looks up connections. A user may have any number of
// simultaneous connections across devices; ListByUser returns all of them.
type Store interface {
	// Store registers (or replaces) the connection for userID on the
	// given device.
	Store(ctx context.Context, userID string, deviceType DeviceType, target Target) error

	// Delete removes the registered connection for userID on the given
	// device, e.g. on socket close.
	Delete(ctx context.Context, userID string, deviceType DeviceType) error

	// ListByUser returns every connection registered for userID. An
	// empty slice (not an error) means the user has no live connections.
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
}
