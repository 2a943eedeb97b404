// Package frame runs the viewer's render loop. The loop goroutine owns the
// timer registry and the transition orchestrator: other goroutines hand work
// to it through Submit or Call and never touch that state directly.
package frame

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/timers"
)

// ErrLoopStopped is returned when work is handed to a loop that has exited.
var ErrLoopStopped = errors.New("frame loop stopped")

const (
	DefaultFPS     = 60
	ingressBacklog = 256
)

// Loop ticks at a fixed rate. Each tick drains submitted work, fires due
// timers, and renders a frame if one was requested.
type Loop struct {
	timers   *timers.Registry
	interval time.Duration
	log      zerolog.Logger

	ingress chan func()
	stopped chan struct{}
	once    sync.Once

	mu    sync.Mutex
	subs  []subscriber
	next  uint64
	dirty atomic.Bool

	frames atomic.Uint64
	ticks  atomic.Uint64
}

type subscriber struct {
	id uint64
	fn func()
}

// NewLoop creates a loop that drives reg at fps frames per second.
// A non-positive fps uses DefaultFPS.
func NewLoop(reg *timers.Registry, fps int, log zerolog.Logger) *Loop {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Loop{
		timers:   reg,
		interval: time.Second / time.Duration(fps),
		log:      log.With().Str("component", "frame").Logger(),
		ingress:  make(chan func(), ingressBacklog),
		stopped:  make(chan struct{}),
	}
}

// Interval returns the time between ticks.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Submit queues fn to run on the loop goroutine.
func (l *Loop) Submit(fn func()) error {
	select {
	case <-l.stopped:
		return ErrLoopStopped
	default:
	}
	select {
	case l.ingress <- fn:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	}
}

// Call runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// fn may have run before the loop exited
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate requests a frame on the next tick.
func (l *Loop) Invalidate() {
	l.dirty.Store(true)
}

// Subscribe registers fn to run on every rendered frame, in subscription
// order. The returned function removes it.
func (l *Loop) Subscribe(fn func()) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subs {
				if s.id == id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Frames returns how many frames have been rendered.
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}

// Ticks returns how many ticks have run.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Step runs a single tick. Run calls it on every tick; tests call it
// directly against a manual clock.
func (l *Loop) Step() {
	l.ticks.Add(1)
	l.drain()
	if l.timers != nil {
		l.timers.RunDue()
	}
	if l.dirty.Swap(false) {
		l.render()
	}
}

func (l *Loop) drain() {
	for n := len(l.ingress); n > 0; n-- {
		select {
		case fn := <-l.ingress:
			l.run(fn)
		default:
			return
		}
	}
}

func (l *Loop) render() {
	l.mu.Lock()
	subs := make([]subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		l.run(s.fn)
	}
	l.frames.Add(1)
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("frame task panicked")
		}
	}()
	fn()
}

// Run ticks until ctx is cancelled. Submitted work is picked up between
// ticks as well, so Call does not wait for a full frame interval.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer l.stop()

	l.log.Debug().Dur("interval", l.interval).Msg("frame loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Debug().Uint64("frames", l.Frames()).Msg("frame loop stopped")
			return nil
		case fn := <-l.ingress:
			l.run(fn)
		case <-ticker.C:
			l.Step()
		}
	}
}

// Stop marks the loop as stopped without a running Run, failing later
// Submit and Call.
func (l *Loop) Stop() {
	l.stop()
}

func (l *Loop) stop() {
	l.once.Do(func() { close(l.stopped) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
