package stream

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func serve(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/stream/ws/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

// waitClients polls until n clients are registered on channel.
func waitClients(t *testing.T, hub *Hub, channel string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.RLock()
		got := len(hub.clients[channel])
		hub.mu.RUnlock()
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients on %s, got %d", n, channel, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamRequiresUpgrade(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/current", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversPerChannel(t *testing.T) {
	hub := NewHub(nil)
	base := serve(t, hub)

	live := dial(t, base+"current")
	defer live.Close()
	walk := dial(t, base+"walk-1")
	defer walk.Close()
	waitClients(t, hub, "current", 1)
	waitClients(t, hub, "walk-1", 1)

	hub.Broadcast("current", []byte(`{"phase":"active"}`))
	hub.Broadcast("walk-1", []byte(`{"step_count":12}`))

	_ = live.SetReadDeadline(time.Now().Add(time.Second))
	if _, msg, err := live.ReadMessage(); err != nil || string(msg) != `{"phase":"active"}` {
		t.Fatalf("live channel: %q %v", msg, err)
	}
	_ = walk.SetReadDeadline(time.Now().Add(time.Second))
	if _, msg, err := walk.ReadMessage(); err != nil || string(msg) != `{"step_count":12}` {
		t.Fatalf("walk channel: %q %v", msg, err)
	}
}

func TestStreamUnregistersOnClose(t *testing.T) {
	hub := NewHub(nil)
	base := serve(t, hub)

	conn := dial(t, base+"walk-2")
	waitClients(t, hub, "walk-2", 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()
	waitClients(t, hub, "walk-2", 0)

	// Broadcasting to a channel with no listeners is a no-op.
	hub.Broadcast("walk-2", []byte("ping"))
}
