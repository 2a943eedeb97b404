package events

import (
	"sync"
	"time"
)

// storeBacklog bounds how many events may wait for the store. Events
// emitted while the backlog is full are kept in the ring buffer only.
const storeBacklog = 1024

// Store persists emitted events.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error
}

type pendingEvent struct {
	ts time.Time
	e  Event
}

// storeWriter appends events on its own goroutine so Emit never waits on
// the store.
type storeWriter struct {
	store Store
	queue chan pendingEvent
	done  chan struct{}

	mu           sync.Mutex
	failShown    bool
	droppedShown bool
}

var (
	writer   *storeWriter
	writerMu sync.RWMutex
)

// SetStore sets the durable store for emitted events. Pass nil to disable.
// Replacing or clearing a store first waits for its backlog to drain.
func SetStore(s Store) {
	writerMu.Lock()
	defer writerMu.Unlock()

	if writer != nil {
		close(writer.queue)
		<-writer.done
		writer = nil
	}
	if s == nil {
		return
	}

	writer = &storeWriter{
		store: s,
		queue: make(chan pendingEvent, storeBacklog),
		done:  make(chan struct{}),
	}
	go writer.run()
}

func persist(e Event, ts time.Time) {
	writerMu.RLock()
	defer writerMu.RUnlock()
	if writer == nil {
		return
	}

	select {
	case writer.queue <- pendingEvent{ts: ts, e: e}:
	default:
		writer.reportOnce(&writer.droppedShown, "event store backlog full", map[string]interface{}{
			"backlog": storeBacklog,
			"dropped": e.Name,
		})
	}
}

func (w *storeWriter) run() {
	defer close(w.done)
	for p := range w.queue {
		if err := w.store.Append(p.ts, p.e.Level, p.e.Name, p.e.Message, p.e.Fields); err != nil {
			w.reportOnce(&w.failShown, "event store append failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// reportOnce writes a system.error straight into the buffer. Going back
// through Emit would feed the failing store again.
func (w *storeWriter) reportOnce(shown *bool, msg string, fields map[string]interface{}) {
	w.mu.Lock()
	first := !*shown
	*shown = true
	w.mu.Unlock()
	if !first {
		return
	}
	buffer.Add(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   msg,
		Fields:    fields,
	})
}
