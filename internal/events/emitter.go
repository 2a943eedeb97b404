// Package events records the viewer's named lifecycle events. Every emitted
// event lands in an in-memory ring buffer, is fanned out to live subscribers
// and, when a store is configured, appended to durable storage.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

var buffer = NewRingBuffer(256)

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event and returns its JSON encoding. Unknown event names
// are refused.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)
	persist(e, ts)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

// Snapshot returns the buffered events, oldest first.
func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Count returns how many buffered events carry the given name.
func Count(name string) int {
	n := 0
	for _, e := range buffer.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
