package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub("/topic/environment", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d; want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d; want text", typ)
	}
	return string(data)
}

func TestHub_PublishReachesTopicSubscribers(t *testing.T) {
	hub, srv := startHub(t)
	def := dial(t, srv, "")
	other := dial(t, srv, "?topic=other")
	waitClients(t, hub, 2)

	if err := hub.Publish(context.Background(), "/topic/environment", []byte(`{"id":"r1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := hub.Publish(context.Background(), "other", []byte(`{"id":"o1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := readText(t, def); got != `{"id":"r1"}` {
		t.Errorf("default topic got %q", got)
	}
	if got := readText(t, other); got != `{"id":"o1"}` {
		t.Errorf("other topic got %q", got)
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub("t", nil)
	if err := hub.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub("t", nil)
	c := &client{hub: hub, topic: "t", send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	for _, msg := range []string{"1", "2"} {
		if err := hub.Publish(context.Background(), "t", []byte(msg)); err != nil {
			t.Fatalf("Publish(%s): %v", msg, err)
		}
	}

	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d; want slow client removed", hub.ClientCount())
	}
	if got := string(<-c.send); got != "1" {
		t.Errorf("buffered message = %q; want 1", got)
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestHub_Close(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	hub.Close()
	hub.Close()

	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d after Close", hub.ClientCount())
	}
	if err := hub.Publish(context.Background(), "/topic/environment", []byte("x")); err != ErrHubClosed {
		t.Errorf("Publish after Close = %v; want ErrHubClosed", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
}
