// Package timers provides a registry of cancellable delayed callbacks that
// fire on the render goroutine.
//
// Timers never fire on their own goroutine. The owner of the registry calls
// RunDue once per tick, and every callback whose deadline has passed runs
// synchronously in deadline order. This keeps timer callbacks and frame polls
// strictly interleaved on a single goroutine.
package timers

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled timer. The zero Handle is never issued.
type Handle uint64

type timer struct {
	handle Handle
	when   time.Time
	seq    uint64
	fn     func()
	index  int
}

// timerHeap is a min-heap ordered by deadline, then scheduling order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Registry tracks every pending timer so it can be cancelled individually or
// all at once on teardown. It is not safe for concurrent use.
type Registry struct {
	clock  Clock
	timers timerHeap
	byID   map[Handle]*timer
	next   Handle
	seq    uint64
	closed bool
}

// NewRegistry creates a registry scheduling against clock.
// A nil clock uses RealClock.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = RealClock{}
	}
	return &Registry{
		clock: clock,
		byID:  make(map[Handle]*timer),
	}
}

// Clock returns the registry's time source.
func (r *Registry) Clock() Clock {
	return r.clock
}

// Schedule registers fn to run once delay has elapsed. Negative delays are
// treated as zero. After CancelAll the registry is closed and Schedule
// returns the zero Handle without registering anything.
func (r *Registry) Schedule(fn func(), delay time.Duration) Handle {
	if r.closed || fn == nil {
		return 0
	}
	if delay < 0 {
		delay = 0
	}
	r.next++
	r.seq++
	t := &timer{
		handle: r.next,
		when:   r.clock.Now().Add(delay),
		seq:    r.seq,
		fn:     fn,
	}
	heap.Push(&r.timers, t)
	r.byID[t.handle] = t
	return t.handle
}

// Cancel removes a pending timer. Returns false if the handle already fired,
// was cancelled, or was never issued.
func (r *Registry) Cancel(h Handle) bool {
	t, ok := r.byID[h]
	if !ok {
		return false
	}
	delete(r.byID, h)
	if t.index >= 0 {
		heap.Remove(&r.timers, t.index)
	}
	return true
}

// CancelAll drops every pending timer and closes the registry.
func (r *Registry) CancelAll() {
	r.closed = true
	r.timers = nil
	r.byID = make(map[Handle]*timer)
}

// Closed reports whether CancelAll has been called.
func (r *Registry) Closed() bool {
	return r.closed
}

// Pending reports whether h is still scheduled.
func (r *Registry) Pending(h Handle) bool {
	_, ok := r.byID[h]
	return ok
}

// Len returns the number of pending timers.
func (r *Registry) Len() int {
	return len(r.byID)
}

// NextDue returns the earliest pending deadline.
func (r *Registry) NextDue() (time.Time, bool) {
	if len(r.timers) == 0 {
		return time.Time{}, false
	}
	return r.timers[0].when, true
}

// RunDue fires every timer whose deadline is at or before the clock's current
// time and returns how many fired. Timers scheduled by a callback with a zero
// delay fire within the same call. A callback that calls CancelAll stops the
// run.
func (r *Registry) RunDue() int {
	now := r.clock.Now()
	fired := 0
	for len(r.timers) > 0 {
		t := r.timers[0]
		if t.when.After(now) {
			break
		}
		heap.Pop(&r.timers)
		delete(r.byID, t.handle)
		t.fn()
		fired++
		if r.closed {
			break
		}
	}
	return fired
}
