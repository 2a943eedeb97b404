package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/gorilla/websocket"
)

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for: %s", msg)
}

func dialEvents(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(newTestServer(t, &fakeController{}))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	if err != nil {
		srv.Close()
		t.Fatalf("failed to connect: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return e
}

func TestWebSocketReplaysRecentEvents(t *testing.T) {
	events.CloseAllSubscribers()
	events.Clear()
	for _, id := range []string{"forest", "desert", "ocean"} {
		events.Emit("info", "scene.applied", "", map[string]interface{}{"scene_id": id})
	}

	conn, done := dialEvents(t)
	defer done()

	for _, want := range []string{"forest", "desert", "ocean"} {
		e := readEvent(t, conn)
		if e.Name != "scene.applied" || e.Fields["scene_id"] != want {
			t.Errorf("expected scene.applied for %s, got %s %v", want, e.Name, e.Fields)
		}
	}
}

func TestWebSocketStreamsNewEvents(t *testing.T) {
	events.CloseAllSubscribers()
	events.Clear()

	conn, done := dialEvents(t)
	defer done()
	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")

	events.Emit("info", "transition.started", "", map[string]interface{}{"scene_id": "forest", "path": "animated"})

	e := readEvent(t, conn)
	if e.Name != "transition.started" {
		t.Fatalf("expected transition.started, got %s", e.Name)
	}
	if e.Fields["path"] != "animated" {
		t.Errorf("expected path animated, got %v", e.Fields["path"])
	}
}

func TestWebSocketDisconnectUnsubscribes(t *testing.T) {
	events.CloseAllSubscribers()
	events.Clear()

	conn, done := dialEvents(t)
	defer done()
	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")

	conn.Close()

	waitFor(t, 5*time.Second, func() bool {
		events.Emit("info", "queue.drained", "", nil)
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketFansOutToAllClients(t *testing.T) {
	events.CloseAllSubscribers()
	events.Clear()

	conn1, done1 := dialEvents(t)
	defer done1()
	conn2, done2 := dialEvents(t)
	defer done2()
	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 2 }, "both subscriptions")

	events.Emit("info", "cooldown.armed", "", nil)

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		if e := readEvent(t, conn); e.Name != "cooldown.armed" {
			t.Errorf("client %d: expected cooldown.armed, got %s", i+1, e.Name)
		}
	}
}
