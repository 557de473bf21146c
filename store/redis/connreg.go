package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/connreg"
	"github.com/notifyd/notifyd/id"
)

type connStore Store

// connModel flattens the Connection target union for JSON storage; the
// device type discriminates which fields are set.
type connModel struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	DeviceType    string    `json:"device_type"`
	WebSocketID   string    `json:"websocket_id,omitempty"`
	ConnectionURL string    `json:"connection_url,omitempty"`
	DeviceToken   string    `json:"device_token,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *connStore) Store(ctx context.Context, userID string, deviceType connreg.DeviceType, target connreg.Target) error {
	m := connModel{
		ConnectionID: id.NewConnectionID().String(),
		UserID:       userID,
		DeviceType:   string(deviceType),
		CreatedAt:    now(),
	}
	switch t := target.(type) {
	case connreg.WebTarget:
		m.WebSocketID = t.WebSocketID
		m.ConnectionURL = t.ConnectionURL
	case connreg.IOSTarget:
		m.DeviceToken = t.DeviceToken
	default:
		return fmt.Errorf("notifyd/redis: unknown connection target %T", target)
	}

	if err := (*Store)(s).setJSON(ctx, connKey(userID, string(deviceType)), m); err != nil {
		return fmt.Errorf("notifyd/redis: store connection: %w", err)
	}
	if err := s.rdb.SAdd(ctx, sConnUser+userID, string(deviceType)).Err(); err != nil {
		return fmt.Errorf("notifyd/redis: index connection: %w", err)
	}
	return nil
}

func (s *connStore) Delete(ctx context.Context, userID string, deviceType connreg.DeviceType) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, connKey(userID, string(deviceType)))
	pipe.SRem(ctx, sConnUser+userID, string(deviceType))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notifyd/redis: delete connection: %w", err)
	}
	return nil
}

func (s *connStore) ListByUser(ctx context.Context, userID string) ([]connreg.Connection, error) {
	deviceTypes, err := s.rdb.SMembers(ctx, sConnUser+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("notifyd/redis: list connections: %w", err)
	}

	out := make([]connreg.Connection, 0, len(deviceTypes))
	for _, deviceType := range deviceTypes {
		var m connModel
		if err := (*Store)(s).getJSON(ctx, connKey(userID, deviceType), &m); err != nil {
			if isRedisNil(err) {
				continue // index ahead of a concurrent delete
			}
			return nil, fmt.Errorf("notifyd/redis: list connections: %w", err)
		}
		conn, err := fromConnModel(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}

func fromConnModel(m *connModel) (connreg.Connection, error) {
	connID, err := id.Parse(m.ConnectionID)
	if err != nil {
		return connreg.Connection{}, fmt.Errorf("notifyd/redis: parse connection ID %q: %w", m.ConnectionID, err)
	}

	conn := connreg.Connection{
		ConnectionID: connID,
		UserID:       m.UserID,
		DeviceType:   connreg.DeviceType(m.DeviceType),
		CreatedAt:    m.CreatedAt,
	}
	switch conn.DeviceType {
	case connreg.DeviceIOS:
		conn.Target = connreg.IOSTarget{DeviceToken: m.DeviceToken}
	default:
		conn.Target = connreg.WebTarget{WebSocketID: m.WebSocketID, ConnectionURL: m.ConnectionURL}
	}
	return conn, nil
}
