package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicecall/internal/log"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(h, conn).Run()
	}))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != n {
		t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) StatusEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestBroadcast(t *testing.T) {
	h, url := startHub(t)
	a := dialHub(t, url)
	b := dialHub(t, url)
	waitClients(t, h, 2)

	if err := h.BroadcastJSON(StatusEvent{Type: "status", Line: "Connected. Speak normally.", Call: "connected"}); err != nil {
		t.Fatal(err)
	}
	for _, ws := range []*websocket.Conn{a, b} {
		if ev := readEvent(t, ws); ev.Line != "Connected. Speak normally." || ev.Call != "connected" {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestReplayLastToNewClient(t *testing.T) {
	h, url := startHub(t)
	first := dialHub(t, url)
	waitClients(t, h, 1)

	h.BroadcastJSON(StatusEvent{Type: "status", Line: "Wake listening: ON"})
	readEvent(t, first)

	late := dialHub(t, url)
	if ev := readEvent(t, late); ev.Line != "Wake listening: ON" {
		t.Errorf("late client got %+v", ev)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	h, url := startHub(t)
	ws := dialHub(t, url)
	waitClients(t, h, 1)
	ws.Close()
	waitClients(t, h, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := New("cancel", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if h.IsRunning() {
		t.Error("hub should report stopped")
	}
}
