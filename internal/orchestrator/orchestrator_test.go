package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/scene"
	"github.com/AaronLay10/SentientViewer/internal/timers"
)

type fakeWarp struct {
	progress float64
	warping  bool
	starts   int
	stops    int
}

func (w *fakeWarp) Start()            { w.starts++; w.warping = true }
func (w *fakeWarp) Stop()             { w.stops++; w.warping = false }
func (w *fakeWarp) Progress() float64 { return w.progress }
func (w *fakeWarp) IsWarping() bool   { return w.warping }

type fakeFrames struct {
	subs          map[int]func()
	next          int
	invalidations int
}

func (f *fakeFrames) Invalidate() { f.invalidations++ }

func (f *fakeFrames) Subscribe(fn func()) func() {
	if f.subs == nil {
		f.subs = make(map[int]func())
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() { delete(f.subs, id) }
}

func (f *fakeFrames) render() {
	for _, fn := range f.subs {
		fn()
	}
}

type harness struct {
	t       *testing.T
	clock   *timers.ManualClock
	timers  *timers.Registry
	warp    *fakeWarp
	frames  *fakeFrames
	orch    *Orchestrator
	applied []string
	starts  []bool
	ends    int
	ready   int
}

func newHarness(t *testing.T, timings Timings) *harness {
	t.Helper()
	events.Clear()

	h := &harness{
		t:      t,
		clock:  timers.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		warp:   &fakeWarp{},
		frames: &fakeFrames{},
	}
	h.timers = timers.NewRegistry(h.clock)
	h.orch = New(Options{
		Warp:    h.warp,
		Frames:  h.frames,
		Timers:  h.timers,
		Timings: timings,
		Apply:   func(s scene.Scene) { h.applied = append(h.applied, s.ID) },
		Hooks: Hooks{
			OnSceneChangeStart: func(isInitial bool) { h.starts = append(h.starts, isInitial) },
			OnSceneChangeEnd:   func() { h.ends++ },
			OnReady:            func() { h.ready++ },
		},
	})
	return h
}

// frame samples the warp at p and renders one frame.
func (h *harness) frame(p float64) {
	h.warp.progress = p
	h.frames.render()
}

// advance moves the clock forward in steps so that timers scheduled by a
// firing timer are measured from the moment they were scheduled.
func (h *harness) advance(d time.Duration) {
	target := h.clock.Now().Add(d)
	for {
		due, ok := h.timers.NextDue()
		if !ok || due.After(target) {
			break
		}
		if due.After(h.clock.Now()) {
			h.clock.Set(due)
		}
		h.timers.RunDue()
	}
	h.clock.Set(target)
	h.timers.RunDue()
}

func (h *harness) enqueue(id string, bypass bool) bool {
	return h.orch.Enqueue(scene.Scene{ID: id}, scene.Options{BypassAnimation: bypass})
}

// runAnimated drives an animated transition from its start to completion.
func (h *harness) runAnimated() {
	h.frame(0.5)
	h.frame(1.0)
	h.advance(h.orch.timings.PeakSettle)
	h.frame(0.5)
	h.frame(0.0)
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t, DefaultTimings())

	require.True(t, h.enqueue("A", false))
	assert.Equal(t, []bool{true}, h.starts)
	assert.Equal(t, StateAnimatedEntering, h.orch.State())

	h.frame(0.995)
	assert.Equal(t, []string{"A"}, h.applied)

	h.advance(300 * time.Millisecond)
	h.frame(0.0)
	assert.Equal(t, 1, h.ends)
	assert.Equal(t, StateIdle, h.orch.State())

	assert.False(t, h.enqueue("A", false))
	assert.Empty(t, h.orch.Status().Queue)
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestReadyFiresOnceOnFirstFrame(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	assert.Equal(t, 1, h.frames.invalidations, "construction should request a frame")

	h.frame(0)
	h.frame(0)
	assert.Equal(t, 1, h.ready)
	assert.True(t, h.orch.Status().Ready)
	assert.Equal(t, 1, events.Count("viewer.ready"))
}

func TestApplyExactlyOnceUnderJitter(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)

	for _, p := range []float64{0.2, 0.991, 0.97, 1.02, 0.99, 0.999} {
		h.frame(p)
	}
	assert.Equal(t, []string{"A"}, h.applied)
	assert.Equal(t, StateApplying, h.orch.State())
	assert.Equal(t, 0, h.warp.stops, "warp should hold at peak until settle")

	h.advance(299 * time.Millisecond)
	assert.Equal(t, StateApplying, h.orch.State())
	h.advance(time.Millisecond)
	assert.Equal(t, StateAnimatedExiting, h.orch.State())
	assert.Equal(t, 1, h.warp.stops)
}

func TestEndExactlyOnceUnderJitter(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	h.frame(1.0)
	h.advance(300 * time.Millisecond)

	for _, p := range []float64{0.4, 0.009, 0.02, -0.01, 0.0} {
		h.frame(p)
	}
	assert.Equal(t, 1, h.ends)
	assert.Equal(t, uint64(1), h.orch.Status().Completed)
	assert.Equal(t, 1, events.Count("transition.completed"))
}

func TestBypassPath(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", true)

	assert.Equal(t, StateBypassPending, h.orch.State())
	assert.Equal(t, 0, h.warp.starts)
	assert.Equal(t, []bool{true}, h.starts)

	h.advance(149 * time.Millisecond)
	assert.Empty(t, h.applied)
	h.advance(time.Millisecond)
	assert.Equal(t, []string{"A"}, h.applied)
	assert.Equal(t, StateBypassSettling, h.orch.State())

	h.advance(250 * time.Millisecond)
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, 1, h.ends)
	assert.False(t, h.orch.Status().CooldownActive, "bypass completion should not arm the cooldown")
}

func TestQueueDrainsInOrderWithSingleEnd(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	h.enqueue("B", false)
	h.enqueue("C", false)
	assert.Equal(t, []string{"B", "C"}, h.orch.Status().Queue)

	h.runAnimated()
	// cooldown is active now, so B goes down the bypass path
	assert.Equal(t, StateBypassPending, h.orch.State())
	assert.Equal(t, 0, h.ends)

	h.advance(150 * time.Millisecond)
	h.advance(250 * time.Millisecond)
	assert.Equal(t, StateBypassPending, h.orch.State())
	h.advance(150 * time.Millisecond)
	h.advance(250 * time.Millisecond)

	assert.Equal(t, []string{"A", "B", "C"}, h.applied)
	assert.Equal(t, []bool{true, false, false}, h.starts)
	assert.Equal(t, 1, h.ends)
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, 1, h.warp.starts)
}

func TestDuplicateRequestsCollapse(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	require.Empty(t, h.orch.Status().Queue, "A is in flight, not queued")

	assert.True(t, h.enqueue("B", false))
	assert.False(t, h.enqueue("B", true), "tail duplicate should be rejected")
	assert.True(t, h.enqueue("A", false), "non-adjacent repeat is allowed")
	assert.Equal(t, []string{"B", "A"}, h.orch.Status().Queue)
	assert.Equal(t, 1, events.Count("scene.rejected"))
}

func TestInFlightSceneCanBeQueuedAgain(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	require.True(t, h.enqueue("A", false))

	// nothing is current yet and the queue is empty, so neither rule applies
	assert.True(t, h.enqueue("A", false))
	assert.Equal(t, []string{"A"}, h.orch.Status().Queue)

	h.runAnimated()
	assert.Equal(t, []string{"A"}, h.applied)
	assert.Equal(t, StateBypassPending, h.orch.State(), "the second A starts under cooldown")

	h.advance(400 * time.Millisecond)
	assert.Equal(t, []string{"A", "A"}, h.applied)
	assert.Equal(t, 1, h.ends)
}

func TestCurrentSceneRejectedWhileTransitioningAway(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", true)
	h.advance(400 * time.Millisecond)
	require.Equal(t, []string{"A"}, h.applied)

	h.enqueue("B", true)
	assert.False(t, h.enqueue("A", true), "A is still the current scene")

	h.advance(150 * time.Millisecond)
	assert.True(t, h.enqueue("A", true), "B has been applied")
}

func TestCooldownForcesBypassAndResetsOnEnqueue(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	h.runAnimated()
	require.Equal(t, 1, h.ends)

	st := h.orch.Status()
	require.True(t, st.CooldownActive)
	assert.Equal(t, h.clock.Now().Add(2*time.Second), st.CooldownExpiresAt)

	h.advance(time.Second)
	h.enqueue("B", false)
	assert.Equal(t, StateBypassPending, h.orch.State())
	assert.Equal(t, h.clock.Now().Add(2*time.Second), h.orch.Status().CooldownExpiresAt)
	assert.Equal(t, 1, events.Count("cooldown.reset"))

	h.advance(400 * time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, h.applied)

	h.advance(2 * time.Second)
	assert.False(t, h.orch.Status().CooldownActive)

	h.enqueue("C", false)
	assert.Equal(t, StateAnimatedEntering, h.orch.State())
}

func TestCooldownExtendsWhileQueueNonEmpty(t *testing.T) {
	timings := DefaultTimings()
	timings.BypassPreApply = 3 * time.Second
	h := newHarness(t, timings)

	h.enqueue("A", false)
	h.runAnimated()
	h.enqueue("B", false)
	h.enqueue("C", false)

	// B's long pre-apply delay keeps C queued past the cooldown's expiry
	h.advance(2 * time.Second)
	assert.True(t, h.orch.Status().CooldownActive)
	assert.Equal(t, 1, events.Count("cooldown.extended"))
}

func TestEnqueueInsideEndCallbackIsDeferred(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	var stateInCallback State
	var startsInCallback int
	h.orch.SetHooks(Hooks{
		OnSceneChangeStart: func(isInitial bool) { h.starts = append(h.starts, isInitial) },
		OnSceneChangeEnd: func() {
			h.ends++
			if h.ends == 1 {
				h.enqueue("B", true)
				stateInCallback = h.orch.State()
				startsInCallback = len(h.starts)
			}
		},
	})

	h.enqueue("A", true)
	h.advance(400 * time.Millisecond)

	assert.Equal(t, StateIdle, stateInCallback)
	assert.Equal(t, 1, startsInCallback)
	assert.Equal(t, StateBypassPending, h.orch.State())
	assert.Equal(t, []bool{true, false}, h.starts)

	h.advance(400 * time.Millisecond)
	assert.Equal(t, 2, h.ends)
}

func TestEnqueueInsideStartCallback(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.orch.SetHooks(Hooks{
		OnSceneChangeStart: func(bool) {
			h.starts = append(h.starts, true)
			if len(h.starts) == 1 {
				h.enqueue("B", true)
			}
		},
		OnSceneChangeEnd: func() { h.ends++ },
	})

	h.enqueue("A", true)
	assert.Equal(t, []string{"B"}, h.orch.Status().Queue)
	h.advance(400 * time.Millisecond)
	h.advance(400 * time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, h.applied)
	assert.Equal(t, 1, h.ends)
}

func TestApplyPanicIsContained(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.orch.apply = func(scene.Scene) { panic("boom") }

	h.enqueue("A", true)
	h.advance(400 * time.Millisecond)

	cur, ok := h.orch.Current()
	require.True(t, ok)
	assert.Equal(t, "A", cur.ID)
	assert.Equal(t, 1, h.ends)
	assert.Equal(t, 1, events.Count("system.error"))
}

func TestHookPanicIsContained(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.orch.SetHooks(Hooks{OnSceneChangeStart: func(bool) { panic("host bug") }})

	assert.NotPanics(t, func() { h.enqueue("A", true) })
	assert.Equal(t, StateBypassPending, h.orch.State())
}

func TestTeardownCancelsEverything(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	h.enqueue("B", false)
	h.frame(1.0)
	require.Equal(t, StateApplying, h.orch.State())

	h.orch.Teardown()
	h.orch.Teardown()

	assert.True(t, h.timers.Closed())
	assert.Empty(t, h.frames.subs)
	assert.Equal(t, 0, h.timers.Len())

	h.advance(10 * time.Second)
	h.frame(0.0)
	assert.Equal(t, []string{"A"}, h.applied)
	assert.Equal(t, 0, h.ends)
	assert.False(t, h.enqueue("C", true))
	assert.Equal(t, 1, events.Count("viewer.teardown"))
	assert.True(t, h.orch.Status().TornDown)
}

func TestTeardownDuringCooldown(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	h.runAnimated()
	require.True(t, h.orch.Status().CooldownActive)

	h.orch.Teardown()
	h.advance(5 * time.Second)
	assert.False(t, h.orch.Status().CooldownActive)
	assert.Equal(t, 0, events.Count("cooldown.expired"))
}

func TestResetAbortsInFlightTransition(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", true)
	h.advance(400 * time.Millisecond)
	h.enqueue("B", true)
	h.enqueue("C", true)

	h.orch.Reset()
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Empty(t, h.orch.Status().Queue)
	assert.Equal(t, 2, h.ends, "aborted transition still reports its end")

	h.advance(time.Second)
	assert.Equal(t, []string{"A"}, h.applied)
	cur, _ := h.orch.Current()
	assert.Equal(t, "A", cur.ID)

	assert.True(t, h.enqueue("B", true))
	assert.False(t, h.timers.Closed())
}

func TestResetStopsWarp(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.enqueue("A", false)
	h.frame(0.5)

	h.orch.Reset()
	assert.Equal(t, 1, h.warp.stops)
	h.frame(1.0)
	assert.Empty(t, h.applied)
}

func TestWatchdogReportsStall(t *testing.T) {
	timings := DefaultTimings()
	timings.Watchdog = 5 * time.Second
	h := newHarness(t, timings)
	var stalled []State
	hooks := h.orch.notify.hooks
	hooks.OnStalled = func(_ scene.Scene, st State) { stalled = append(stalled, st) }
	h.orch.SetHooks(hooks)

	h.enqueue("A", false)
	h.frame(0.7)
	h.advance(5 * time.Second)

	assert.Equal(t, []State{StateAnimatedEntering}, stalled)
	assert.Equal(t, StateAnimatedEntering, h.orch.State(), "without force the transition keeps waiting")
	assert.Empty(t, h.applied)
}

func TestWatchdogForcesCompletion(t *testing.T) {
	timings := DefaultTimings()
	timings.Watchdog = 5 * time.Second
	timings.WatchdogForce = true
	h := newHarness(t, timings)

	h.enqueue("A", false)
	h.enqueue("B", true)
	h.frame(0.7)
	h.advance(5 * time.Second)

	assert.Equal(t, []string{"A"}, h.applied)
	assert.Equal(t, 1, h.warp.stops)
	assert.Equal(t, StateBypassPending, h.orch.State())
	assert.Equal(t, 1, events.Count("transition.forced"))

	h.frame(0.0)
	h.advance(400 * time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, h.applied)
	assert.Equal(t, 1, h.ends)
}

func TestWatchdogCancelledOnCompletion(t *testing.T) {
	timings := DefaultTimings()
	timings.Watchdog = time.Second
	h := newHarness(t, timings)

	h.enqueue("A", true)
	h.advance(400 * time.Millisecond)
	h.advance(5 * time.Second)
	assert.Equal(t, 0, events.Count("transition.stalled"))
}

func TestNilWarpUsesBypass(t *testing.T) {
	events.Clear()
	clock := timers.NewManualClock(time.Unix(0, 0))
	reg := timers.NewRegistry(clock)
	var applied []string
	o := New(Options{
		Timers:  reg,
		Timings: DefaultTimings(),
		Apply:   func(s scene.Scene) { applied = append(applied, s.ID) },
	})

	o.Enqueue(scene.Scene{ID: "A"}, scene.Options{})
	assert.Equal(t, StateBypassPending, o.State())
	clock.Advance(time.Second)
	reg.RunDue()
	clock.Advance(time.Second)
	reg.RunDue()
	assert.Equal(t, []string{"A"}, applied)
	assert.Equal(t, StateIdle, o.State())
}

func TestEmptyDequeueGuard(t *testing.T) {
	h := newHarness(t, DefaultTimings())
	h.orch.beginNext()
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, 1, events.Count("queue.empty_dequeue"))
	assert.Empty(t, h.starts)
}
