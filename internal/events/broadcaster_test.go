package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	initial := SubscriberCount()

	sub1 := Subscribe()
	if SubscriberCount() != initial+1 {
		t.Errorf("expected %d subscribers after first subscribe, got %d", initial+1, SubscriberCount())
	}

	sub2 := Subscribe()
	if SubscriberCount() != initial+2 {
		t.Errorf("expected %d subscribers after second subscribe, got %d", initial+2, SubscriberCount())
	}

	Unsubscribe(sub1)
	if SubscriberCount() != initial+1 {
		t.Errorf("expected %d subscribers after unsubscribe, got %d", initial+1, SubscriberCount())
	}

	Unsubscribe(sub2)
	Unsubscribe(sub2)
	if SubscriberCount() != initial {
		t.Errorf("expected %d subscribers after all unsubscribed, got %d", initial, SubscriberCount())
	}
}

func TestBroadcastToSubscribers(t *testing.T) {
	sub := Subscribe()
	defer Unsubscribe(sub)

	if _, err := Emit("info", "scene.applied", "", map[string]interface{}{"scene_id": "bridge"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case e := <-sub:
		if e.Name != "scene.applied" {
			t.Errorf("expected event name 'scene.applied', got '%s'", e.Name)
		}
		if e.Fields["scene_id"] != "bridge" {
			t.Errorf("expected scene_id 'bridge', got '%v'", e.Fields["scene_id"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestEmitRejectsUnknownEvent(t *testing.T) {
	Clear()
	if _, err := Emit("info", "node.started", "", nil); err == nil {
		t.Fatal("expected error for unknown event name")
	}
	if len(Snapshot()) != 0 {
		t.Error("unknown events must not be buffered")
	}
}

func TestRecentEvents(t *testing.T) {
	Clear()

	for i := 0; i < 10; i++ {
		Emit("info", "scene.queued", "", map[string]interface{}{"i": i})
	}

	recent := RecentEvents(5)
	if len(recent) != 5 {
		t.Errorf("expected 5 recent events, got %d", len(recent))
	}
	if recent[0].Fields["i"] != 5 {
		t.Errorf("expected first recent event i=5, got %v", recent[0].Fields["i"])
	}

	if all := RecentEvents(100); len(all) != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", len(all))
	}
	if zero := RecentEvents(0); len(zero) != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", len(zero))
	}
	if Count("scene.queued") != 10 {
		t.Errorf("expected Count 10, got %d", Count("scene.queued"))
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{Name: "scene.queued", Fields: map[string]interface{}{"i": i}})
	}
	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(snap))
	}
	if snap[0].Fields["i"] != 2 || snap[2].Fields["i"] != 4 {
		t.Errorf("unexpected order after wrap: %v", snap)
	}
	if rb.Total() != 5 {
		t.Errorf("expected total 5, got %d", rb.Total())
	}
}

func TestCloseAllSubscribers(t *testing.T) {
	CloseAllSubscribers()

	sub1 := Subscribe()
	sub2 := Subscribe()

	if SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", SubscriberCount())
	}

	CloseAllSubscribers()

	_, ok1 := <-sub1
	_, ok2 := <-sub2
	if ok1 || ok2 {
		t.Error("expected all channels to be closed")
	}
	if SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after CloseAllSubscribers, got %d", SubscriberCount())
	}
}

type failingStore struct{ calls int }

func (f *failingStore) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	f.calls++
	return errors.New("connection refused")
}

func TestStoreFailureReportedOnce(t *testing.T) {
	Clear()
	fs := &failingStore{}
	SetStore(fs)

	Emit("info", "scene.queued", "", nil)
	Emit("info", "scene.queued", "", nil)
	SetStore(nil) // drains the backlog

	if fs.calls != 2 {
		t.Errorf("expected 2 append attempts, got %d", fs.calls)
	}
	if n := Count("system.error"); n != 1 {
		t.Errorf("expected exactly one system.error, got %d", n)
	}
}

// blockingStore holds every Append until release is closed.
type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	names   []string
}

func (b *blockingStore) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	<-b.release
	b.mu.Lock()
	b.names = append(b.names, event)
	b.mu.Unlock()
	return nil
}

func TestEmitDoesNotWaitForStore(t *testing.T) {
	Clear()
	bs := &blockingStore{release: make(chan struct{})}
	SetStore(bs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		Emit("info", "scene.queued", "", nil)
		Emit("info", "scene.applied", "", nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		close(bs.release)
		t.Fatal("Emit blocked on a stalled store")
	}

	close(bs.release)
	SetStore(nil)

	if len(bs.names) != 2 || bs.names[0] != "scene.queued" || bs.names[1] != "scene.applied" {
		t.Errorf("expected both events appended in order, got %v", bs.names)
	}
}

func TestStoreBacklogOverflowReportedOnce(t *testing.T) {
	Clear()
	bs := &blockingStore{release: make(chan struct{})}
	SetStore(bs)

	for i := 0; i < storeBacklog+10; i++ {
		Emit("debug", "transition.peak", "", nil)
	}
	if n := Count("system.error"); n != 1 {
		t.Errorf("expected one backlog system.error, got %d", n)
	}

	close(bs.release)
	SetStore(nil)

	if len(bs.names) < storeBacklog || len(bs.names) > storeBacklog+1 {
		t.Errorf("expected the backlog to be written, got %d appends", len(bs.names))
	}
}
