package warp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AaronLay10/SentientViewer/internal/timers"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestIdleAnimation(t *testing.T) {
	a := New(timers.NewManualClock(epoch), time.Second, time.Second)
	assert.Equal(t, 0.0, a.Progress())
	assert.False(t, a.IsWarping())
}

func TestRampUpAndDown(t *testing.T) {
	clock := timers.NewManualClock(epoch)
	a := New(clock, time.Second, 500*time.Millisecond)

	a.Start()
	assert.True(t, a.IsWarping())
	assert.Equal(t, 0.0, a.Progress())

	clock.Advance(500 * time.Millisecond)
	assert.InDelta(t, 0.5, a.Progress(), 1e-9)

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1.0, a.Progress())

	clock.Advance(time.Second)
	assert.Equal(t, 1.0, a.Progress(), "progress holds at peak until stopped")

	a.Stop()
	assert.True(t, a.IsWarping())
	clock.Advance(250 * time.Millisecond)
	assert.InDelta(t, 0.5, a.Progress(), 1e-9)

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 0.0, a.Progress())
	assert.False(t, a.IsWarping())
}

func TestStopMidRampResumesFromCurrentLevel(t *testing.T) {
	clock := timers.NewManualClock(epoch)
	a := New(clock, time.Second, time.Second)

	a.Start()
	clock.Advance(500 * time.Millisecond)
	mid := a.Progress()

	a.Stop()
	assert.InDelta(t, mid, a.Progress(), 1e-9, "no jump when reversing")
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 0.0, a.Progress())
}

func TestZeroDurationsJump(t *testing.T) {
	clock := timers.NewManualClock(epoch)
	a := New(clock, 0, 0)
	a.Start()
	assert.Equal(t, 1.0, a.Progress())
	a.Stop()
	assert.Equal(t, 0.0, a.Progress())
}
