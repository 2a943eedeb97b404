package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduleFiresAfterDelay(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	fired := 0
	h := reg.Schedule(func() { fired++ }, 100*time.Millisecond)
	require.NotZero(t, h)
	assert.True(t, reg.Pending(h))

	clock.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, reg.RunDue())
	assert.Equal(t, 0, fired)

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, reg.RunDue())
	assert.Equal(t, 1, fired)
	assert.False(t, reg.Pending(h))

	clock.Advance(time.Second)
	assert.Equal(t, 0, reg.RunDue(), "a timer fires once")
}

func TestRunDueOrdersByDeadlineThenSchedule(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	var order []string
	reg.Schedule(func() { order = append(order, "late") }, 30*time.Millisecond)
	reg.Schedule(func() { order = append(order, "first") }, 10*time.Millisecond)
	reg.Schedule(func() { order = append(order, "second") }, 10*time.Millisecond)

	clock.Advance(time.Second)
	assert.Equal(t, 3, reg.RunDue())
	assert.Equal(t, []string{"first", "second", "late"}, order)
}

func TestCancel(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	fired := false
	h := reg.Schedule(func() { fired = true }, 10*time.Millisecond)
	assert.True(t, reg.Cancel(h))
	assert.False(t, reg.Cancel(h), "second cancel is a no-op")
	assert.False(t, reg.Cancel(Handle(999)))

	clock.Advance(time.Second)
	reg.RunDue()
	assert.False(t, fired)
	assert.Equal(t, 0, reg.Len())
}

func TestCancelFromInsideCallback(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	secondFired := false
	var second Handle
	reg.Schedule(func() { reg.Cancel(second) }, 10*time.Millisecond)
	second = reg.Schedule(func() { secondFired = true }, 20*time.Millisecond)

	clock.Advance(time.Second)
	assert.Equal(t, 1, reg.RunDue())
	assert.False(t, secondFired)
}

func TestZeroDelayChainFiresInSameRun(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	var order []int
	reg.Schedule(func() {
		order = append(order, 1)
		reg.Schedule(func() { order = append(order, 2) }, 0)
	}, 0)

	assert.Equal(t, 2, reg.RunDue())
	assert.Equal(t, []int{1, 2}, order)
}

func TestCancelAllClosesRegistry(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	fired := 0
	reg.Schedule(func() { fired++ }, 10*time.Millisecond)
	reg.Schedule(func() { fired++ }, 20*time.Millisecond)
	reg.CancelAll()

	assert.True(t, reg.Closed())
	assert.Equal(t, 0, reg.Len())
	assert.Zero(t, reg.Schedule(func() { fired++ }, 0), "closed registry refuses new timers")

	clock.Advance(time.Hour)
	assert.Equal(t, 0, reg.RunDue())
	assert.Equal(t, 0, fired)
}

func TestCancelAllFromCallbackStopsRun(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	later := false
	reg.Schedule(func() { reg.CancelAll() }, 10*time.Millisecond)
	reg.Schedule(func() { later = true }, 10*time.Millisecond)

	clock.Advance(time.Second)
	assert.Equal(t, 1, reg.RunDue())
	assert.False(t, later)
}

func TestNextDue(t *testing.T) {
	clock := NewManualClock(epoch)
	reg := NewRegistry(clock)

	_, ok := reg.NextDue()
	assert.False(t, ok)

	reg.Schedule(func() {}, 50*time.Millisecond)
	h := reg.Schedule(func() {}, 20*time.Millisecond)
	due, ok := reg.NextDue()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(20*time.Millisecond), due)

	reg.Cancel(h)
	due, ok = reg.NextDue()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(50*time.Millisecond), due)
}

func TestNegativeDelayIsImmediate(t *testing.T) {
	reg := NewRegistry(NewManualClock(epoch))
	fired := false
	reg.Schedule(func() { fired = true }, -time.Second)
	assert.Equal(t, 1, reg.RunDue())
	assert.True(t, fired)
}
