package wsgateway_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notifyd/notifyd/connreg"
	"github.com/notifyd/notifyd/store/memory"
	"github.com/notifyd/notifyd/wsgateway"
)

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + wsgateway.PathPrefix + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func waitForConnections(t *testing.T, registry connreg.Store, userID string, want int) []connreg.Connection {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conns, err := registry.ListByUser(context.Background(), userID)
		if err != nil {
			t.Fatalf("ListByUser: %v", err)
		}
		if len(conns) == want {
			return conns
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d connection(s) for %s", want, userID)
	return nil
}

func TestConnectRegistersAndDisconnectDeregisters(t *testing.T) {
	registry := memory.New().Connections()
	gw := wsgateway.New(registry, nil)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	conns := waitForConnections(t, registry, "u1", 1)

	if conns[0].DeviceType != connreg.DeviceWeb {
		t.Errorf("device type: got %s, want web", conns[0].DeviceType)
	}
	target, ok := conns[0].Target.(connreg.WebTarget)
	if !ok || target.WebSocketID == "" {
		t.Errorf("target: %+v", conns[0].Target)
	}
	if !strings.Contains(target.ConnectionURL, "/ws/u1") {
		t.Errorf("connection URL: got %q", target.ConnectionURL)
	}

	_ = conn.Close()
	waitForConnections(t, registry, "u1", 0)
}

func TestSendDeliversPushFrame(t *testing.T) {
	registry := memory.New().Connections()
	gw := wsgateway.New(registry, nil)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	defer conn.Close()
	conns := waitForConnections(t, registry, "u1", 1)
	wsID := conns[0].Target.(connreg.WebTarget).WebSocketID

	if err := gw.Send(context.Background(), "u1", wsID, "Event MENTION occurred."); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsgateway.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame.Type != wsgateway.FrameTypePush {
		t.Errorf("frame type: got %q, want %q", frame.Type, wsgateway.FrameTypePush)
	}
	if frame.Message != "Event MENTION occurred." {
		t.Errorf("frame message: got %q", frame.Message)
	}
}

func TestSendToUnknownSocketFails(t *testing.T) {
	gw := wsgateway.New(memory.New().Connections(), nil)

	if err := gw.Send(context.Background(), "u1", "gone", "hello"); err == nil {
		t.Error("Send to unknown socket should fail so the push retries")
	}
}

func TestSendAfterDisconnectFails(t *testing.T) {
	registry := memory.New().Connections()
	gw := wsgateway.New(registry, nil)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	conns := waitForConnections(t, registry, "u1", 1)
	wsID := conns[0].Target.(connreg.WebTarget).WebSocketID

	_ = conn.Close()
	waitForConnections(t, registry, "u1", 0)

	if err := gw.Send(context.Background(), "u1", wsID, "hello"); err == nil {
		t.Error("Send after disconnect should fail")
	}
}
