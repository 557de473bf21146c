// Package wsgateway is the WebSocket endpoint for live push delivery.
// It registers a user's connection with the connection registry on
// accept, deregisters on close, and exposes the live sockets to the
// push delivery worker running in the same process — the registry and
// the sockets it points at stay colocated.
package wsgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/notifyd/notifyd/connreg"
)

const (
	writeTimeout = 5 * time.Second

	// PathPrefix is the WebSocket route; the user ID is the remainder
	// of the path.
	PathPrefix = "/ws/"
)

// Frame is the JSON message pushed to web clients.
type Frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FrameTypePush tags push notification frames.
const FrameTypePush = "push_notification"

// socket wraps one live connection; gorilla permits a single
// concurrent writer, so writes serialize on mu.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) writeFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(f)
}

// Gateway upgrades client connections and routes push frames to them.
// It implements delivery.WebPusher.
type Gateway struct {
	registry connreg.Store
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	sockets map[string]map[string]*socket // user_id → websocket_id → socket
}

// New creates a gateway backed by the given connection registry.
func New(registry connreg.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		sockets: make(map[string]map[string]*socket),
	}
}

// ServeHTTP handles GET /ws/{user_id}: upgrade, register, then block
// reading until the client goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if userID == "" || strings.Contains(userID, "/") {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.ErrorContext(r.Context(), "websocket upgrade failed",
			"user_id", userID, "error", err)
		return
	}

	websocketID := uuid.NewString()
	connectionURL := "ws://" + r.Host + r.URL.Path

	ctx := context.WithoutCancel(r.Context())
	if err := g.registry.Store(ctx, userID, connreg.DeviceWeb, connreg.WebTarget{
		WebSocketID:   websocketID,
		ConnectionURL: connectionURL,
	}); err != nil {
		g.logger.ErrorContext(ctx, "register connection failed",
			"user_id", userID, "error", err)
		_ = conn.Close()
		return
	}
	g.attach(userID, websocketID, conn)
	g.logger.DebugContext(ctx, "websocket connected",
		"user_id", userID, "websocket_id", websocketID)

	// Drain client frames until the connection drops; the gateway only
	// pushes, it never acts on client input.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	g.detach(userID, websocketID)
	if err := g.registry.Delete(ctx, userID, connreg.DeviceWeb); err != nil {
		g.logger.ErrorContext(ctx, "deregister connection failed",
			"user_id", userID, "error", err)
	}
	_ = conn.Close()
	g.logger.DebugContext(ctx, "websocket disconnected",
		"user_id", userID, "websocket_id", websocketID)
}

// Send writes a push frame to one of a user's live sockets. Implements
// delivery.WebPusher: a missing socket or a write failure is a
// transport failure and enters the caller's retry machine.
func (g *Gateway) Send(_ context.Context, userID, websocketID, message string) error {
	g.mu.RLock()
	sock := g.sockets[userID][websocketID]
	g.mu.RUnlock()

	if sock == nil {
		return fmt.Errorf("wsgateway: no live socket %s for user %s", websocketID, userID)
	}
	if err := sock.writeFrame(Frame{Type: FrameTypePush, Message: message}); err != nil {
		return fmt.Errorf("wsgateway: write to %s: %w", websocketID, err)
	}
	return nil
}

func (g *Gateway) attach(userID, websocketID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	byID, ok := g.sockets[userID]
	if !ok {
		byID = make(map[string]*socket)
		g.sockets[userID] = byID
	}
	byID[websocketID] = &socket{conn: conn}
}

func (g *Gateway) detach(userID, websocketID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if byID, ok := g.sockets[userID]; ok {
		delete(byID, websocketID)
		if len(byID) == 0 {
			delete(g.sockets, userID)
		}
	}
}

// Close tears down every live socket, used at shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, byID := range g.sockets {
		for _, sock := range byID {
			_ = sock.conn.Close()
		}
	}
	g.sockets = make(map[string]map[string]*socket)
}
