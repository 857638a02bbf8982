package bridge

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func startBridgeApp(t *testing.T, b *Bridge) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/bridge"), b)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
		ln.Close()
	})
	return "ws://" + ln.Addr().String() + "/bridge/ws"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestBridgeHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/bridge"), New(nil, ""))

	req := httptest.NewRequest(http.MethodGet, "/bridge/ws", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func TestBridgeHandlersHandshake(t *testing.T) {
	b := New(nil, "")
	url := startBridgeApp(t, b)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	// attached but not ready: nothing goes out
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.renderer != nil
	})
	if err := b.Send(Clear()); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mapReady"}`)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	waitFor(t, b.Ready)

	if err := b.Send(Coord(1, 2, 3)); err != nil {
		t.Fatalf("send: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	want := []string{
		`{"type":"modeChange","payload":{"isDarkMode":false}}`,
		`{"type":"coord","payload":{"lat":1,"lng":2,"timestamp":3}}`,
	}
	for _, w := range want {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if string(msg) != w {
			t.Fatalf("expected %s, got %s", w, msg)
		}
	}

	conn.Close()
	waitFor(t, func() bool { return !b.Ready() })
}

func TestBridgeHandlersIgnoresGarbage(t *testing.T) {
	b := New(nil, "")
	url := startBridgeApp(t, b)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mapReady"}`))
	waitFor(t, b.Ready)
}
