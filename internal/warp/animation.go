// Package warp is a clock-driven hyperspace animation: a single progress
// scalar that ramps up on Start and back down on Stop.
package warp

import (
	"sync"
	"time"

	"github.com/AaronLay10/SentientViewer/internal/timers"
)

type phase int

const (
	phaseIdle phase = iota
	phaseUp
	phaseDown
)

// Animation ramps progress 0→1 over the enter duration after Start and 1→0
// over the exit duration after Stop. The reported progress is eased with
// smoothstep; ramps resume from wherever the previous ramp left off.
type Animation struct {
	mu    sync.Mutex
	clock timers.Clock
	enter time.Duration
	exit  time.Duration

	phase   phase
	rawFrom float64
	since   time.Time
}

// New creates an idle animation.
func New(clock timers.Clock, enter, exit time.Duration) *Animation {
	if clock == nil {
		clock = timers.RealClock{}
	}
	return &Animation{clock: clock, enter: enter, exit: exit}
}

// Start begins ramping up.
func (a *Animation) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.rawFrom = a.rawAt(now)
	a.phase = phaseUp
	a.since = now
}

// Stop begins ramping down.
func (a *Animation) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.rawFrom = a.rawAt(now)
	a.phase = phaseDown
	a.since = now
}

// Progress returns the eased progress in [0,1].
func (a *Animation) Progress() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return smoothstep(a.rawAt(a.clock.Now()))
}

// IsWarping reports whether the effect is visible or ramping up.
func (a *Animation) IsWarping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase == phaseUp || a.rawAt(a.clock.Now()) > 0
}

func (a *Animation) rawAt(now time.Time) float64 {
	elapsed := now.Sub(a.since)
	switch a.phase {
	case phaseUp:
		return clamp01(a.rawFrom + ratio(elapsed, a.enter))
	case phaseDown:
		return clamp01(a.rawFrom - ratio(elapsed, a.exit))
	default:
		return 0
	}
}

func ratio(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return float64(elapsed) / float64(total)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// smoothstep 3x^2 - 2x^3
func smoothstep(x float64) float64 {
	return x * x * (3 - 2*x)
}
