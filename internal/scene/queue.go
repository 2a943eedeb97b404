package scene

// Queue is the ordered list of pending scene changes.
//
// The queue is not safe for concurrent use. It has exactly two writers, the
// public enqueue entry point (append) and the orchestrator (dequeue), and both
// run on the render goroutine.
type Queue struct {
	items []Queued
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends s unless its ID matches currentID (the scene currently
// applied) or the ID of the last queued element. Only the tail is checked,
// so an older duplicate further up the queue is not detected.
// Returns true if the scene was added.
func (q *Queue) Enqueue(s Scene, opts Options, currentID string) bool {
	if currentID != "" && s.ID == currentID {
		return false
	}
	if n := len(q.items); n > 0 && q.items[n-1].Scene.ID == s.ID {
		return false
	}
	q.items = append(q.items, Queued{Scene: s, Options: opts})
	return true
}

// DequeueFront removes and returns the head of the queue.
func (q *Queue) DequeueFront() (Queued, bool) {
	if len(q.items) == 0 {
		return Queued{}, false
	}
	head := q.items[0]
	q.items[0] = Queued{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return head, true
}

// PeekFront returns the head of the queue without removing it.
func (q *Queue) PeekFront() (Queued, bool) {
	if len(q.items) == 0 {
		return Queued{}, false
	}
	return q.items[0], true
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return len(q.items) == 0
}

// Len returns the number of queued scenes.
func (q *Queue) Len() int {
	return len(q.items)
}

// IDs returns the queued scene IDs in order.
func (q *Queue) IDs() []string {
	ids := make([]string, 0, len(q.items))
	for _, item := range q.items {
		ids = append(ids, item.Scene.ID)
	}
	return ids
}

// Clear drops every queued scene. Used on reset and teardown only.
func (q *Queue) Clear() {
	q.items = nil
}
