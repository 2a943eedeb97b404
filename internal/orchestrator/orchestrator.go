// Package orchestrator runs the scene transition state machine. It drains a
// FIFO of scene change requests one transition at a time, swaps each scene
// exactly once while the warp effect is at its peak, and falls back to a
// timed bypass path when animation is disabled or a cooldown is active.
//
// An Orchestrator is single-threaded. Every method must be called from the
// goroutine that runs the frame loop and the timer registry.
package orchestrator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/cooldown"
	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/scene"
	"github.com/AaronLay10/SentientViewer/internal/timers"
)

// Timings are the fixed delays of a transition.
type Timings struct {
	PeakSettle      time.Duration
	Cooldown        time.Duration
	BypassPreApply  time.Duration
	BypassPostApply time.Duration
	// Watchdog bounds how long a single transition may run. Zero disables it.
	Watchdog time.Duration
	// WatchdogForce finishes a stalled transition instead of only reporting it.
	WatchdogForce bool
}

// DefaultTimings returns the stock delays.
func DefaultTimings() Timings {
	return Timings{
		PeakSettle:      300 * time.Millisecond,
		Cooldown:        2 * time.Second,
		BypassPreApply:  150 * time.Millisecond,
		BypassPostApply: 250 * time.Millisecond,
	}
}

// Options configures New.
type Options struct {
	// Warp drives the animated path. A nil Warp sends every transition
	// down the bypass path.
	Warp   Warp
	Frames Frames
	Apply  ApplyFunc
	// Timers is shared with the frame loop, which calls RunDue.
	// Nil creates a private registry on the real clock.
	Timers  *timers.Registry
	Timings Timings
	Hooks   Hooks
	Logger  zerolog.Logger
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State             State     `json:"state"`
	CurrentSceneID    string    `json:"current_scene_id,omitempty"`
	ActiveSceneID     string    `json:"active_scene_id,omitempty"`
	ActivePath        Path      `json:"active_path,omitempty"`
	Queue             []string  `json:"queue"`
	CooldownActive    bool      `json:"cooldown_active"`
	CooldownExpiresAt time.Time `json:"cooldown_expires_at,omitempty"`
	Progress          float64   `json:"progress"`
	Ready             bool      `json:"ready"`
	TornDown          bool      `json:"torn_down"`
	Started           uint64    `json:"transitions_started"`
	Completed         uint64    `json:"transitions_completed"`
}

// Orchestrator owns the transition state machine.
type Orchestrator struct {
	warp     Warp
	frames   Frames
	apply    ApplyFunc
	timers   *timers.Registry
	timings  Timings
	cooldown *cooldown.Policy
	queue    *scene.Queue
	notify   *notifier
	log      zerolog.Logger

	state       State
	active      *scene.Queued
	path        Path
	applied     bool
	exitDone    bool
	current     *scene.Scene
	everApplied bool

	// gen changes whenever the in-flight transition is superseded, so
	// callbacks captured for an older transition become no-ops.
	gen      uint64
	pending  timers.Handle
	watchdog timers.Handle

	ready       bool
	tornDown    bool
	unsubscribe func()

	started   uint64
	completed uint64
}

// New creates an idle orchestrator and subscribes it to frames.
func New(opts Options) *Orchestrator {
	reg := opts.Timers
	if reg == nil {
		reg = timers.NewRegistry(nil)
	}
	frames := opts.Frames
	if frames == nil {
		frames = noFrames{}
	}
	log := opts.Logger.With().Str("component", "orchestrator").Logger()

	o := &Orchestrator{
		warp:     opts.Warp,
		frames:   frames,
		apply:    opts.Apply,
		timers:   reg,
		timings:  opts.Timings,
		cooldown: cooldown.New(reg),
		queue:    scene.NewQueue(),
		notify:   &notifier{hooks: opts.Hooks, log: log},
		log:      log,
		state:    StateIdle,
	}

	o.cooldown.SetExpireGuard(o.queue.IsEmpty)
	o.cooldown.OnExpire(func() {
		o.emit("debug", "cooldown.expired", "", nil)
	})
	o.cooldown.OnExtend(func(at time.Time) {
		o.emit("debug", "cooldown.extended", "", map[string]interface{}{
			"expires_at": at.UTC().Format(time.RFC3339Nano),
			"queue_len":  o.queue.Len(),
		})
	})

	o.unsubscribe = frames.Subscribe(o.onFrame)
	frames.Invalidate()
	return o
}

// SetHooks replaces the host callbacks.
func (o *Orchestrator) SetHooks(h Hooks) {
	o.notify.hooks = h
}

// State returns the current state machine phase.
func (o *Orchestrator) State() State {
	return o.state
}

// Current returns the scene currently shown, if any.
func (o *Orchestrator) Current() (scene.Scene, bool) {
	if o.current == nil {
		return scene.Scene{}, false
	}
	return *o.current, true
}

// Status returns a snapshot for reporting.
func (o *Orchestrator) Status() Status {
	st := Status{
		State:     o.state,
		Queue:     o.queue.IDs(),
		Ready:     o.ready,
		TornDown:  o.tornDown,
		Started:   o.started,
		Completed: o.completed,
	}
	if o.current != nil {
		st.CurrentSceneID = o.current.ID
	}
	if o.active != nil {
		st.ActiveSceneID = o.active.Scene.ID
		st.ActivePath = o.path
	}
	if at, ok := o.cooldown.ExpiresAt(); ok {
		st.CooldownActive = true
		st.CooldownExpiresAt = at
	}
	if o.warp != nil {
		st.Progress = o.warp.Progress()
	}
	return st
}

// Enqueue requests a transition to s. It returns false when the request was
// dropped as a duplicate of the current scene or of the last pending
// request, or after Teardown. A request made from inside a
// host callback starts processing only after that callback returns.
func (o *Orchestrator) Enqueue(s scene.Scene, opts scene.Options) bool {
	if o.tornDown {
		return false
	}

	if !o.queue.Enqueue(s, opts, o.currentID()) {
		o.emit("debug", "scene.rejected", "duplicate scene request", map[string]interface{}{
			"scene_id": s.ID,
			"reason":   "duplicate",
		})
		return false
	}

	o.emit("info", "scene.queued", "", map[string]interface{}{
		"scene_id":         s.ID,
		"bypass_animation": opts.BypassAnimation,
		"queue_len":        o.queue.Len(),
	})

	if o.cooldown.IsActive() {
		o.cooldown.Reset(o.timings.Cooldown)
		o.emit("debug", "cooldown.reset", "", o.cooldownFields())
	}

	o.notify.after(o.kick)
	return true
}

// Reset abandons the in-flight transition and clears the queue and cooldown.
// The scene already shown stays current.
func (o *Orchestrator) Reset() {
	if o.tornDown {
		return
	}

	wasActive := o.active != nil
	animating := o.state.animating() || (o.state == StateApplying && o.path == PathAnimated)

	o.gen++
	o.cancelPending()
	o.cancelWatchdog()
	o.cooldown.Cancel()
	dropped := o.queue.Len()
	o.queue.Clear()
	o.active = nil
	o.state = StateIdle

	if animating && o.warp != nil {
		o.warp.Stop()
		o.frames.Invalidate()
	}

	o.emit("info", "operator.reset", "", map[string]interface{}{
		"dropped":            dropped,
		"transition_aborted": wasActive,
	})

	if wasActive {
		o.notify.sceneChangeEnd()
	}
}

// Teardown stops the orchestrator for good. It unsubscribes from frames,
// cancels every timer exactly once, and drops the queue. Later calls to any
// method are no-ops. Calling Teardown again is safe.
func (o *Orchestrator) Teardown() {
	if o.tornDown {
		return
	}
	o.tornDown = true
	o.gen++

	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.timers.CancelAll()
	o.pending, o.watchdog = 0, 0
	o.cooldown.Cancel()
	o.queue.Clear()
	o.notify.close()

	if o.active != nil && o.warp != nil && o.path == PathAnimated {
		o.warp.Stop()
	}
	o.active = nil
	o.state = StateIdle

	o.emit("info", "viewer.teardown", "", nil)
}

func (o *Orchestrator) currentID() string {
	if o.current != nil {
		return o.current.ID
	}
	return ""
}

func (o *Orchestrator) kick() {
	if o.tornDown || o.state != StateIdle || o.queue.IsEmpty() {
		return
	}
	o.beginNext()
}

func (o *Orchestrator) beginNext() {
	q, ok := o.queue.DequeueFront()
	if !ok {
		o.log.Warn().Msg("dequeue on empty queue")
		o.emit("warning", "queue.empty_dequeue", "", nil)
		o.state = StateIdle
		return
	}

	o.gen++
	o.active = &q
	o.applied = false
	o.exitDone = false
	o.started++
	isInitial := !o.everApplied

	forced := !q.Options.BypassAnimation && o.cooldown.IsActive()
	if q.Options.BypassAnimation || forced || o.warp == nil {
		o.path = PathBypass
		o.state = StateBypassPending
		gen := o.gen
		o.pending = o.timers.Schedule(func() { o.bypassApply(gen) }, o.timings.BypassPreApply)
	} else {
		o.path = PathAnimated
		o.state = StateAnimatedEntering
		o.warp.Start()
		o.frames.Invalidate()
	}
	o.armWatchdog()

	o.log.Debug().Str("scene_id", q.Scene.ID).Str("path", string(o.path)).Msg("transition started")
	o.emit("info", "transition.started", "", map[string]interface{}{
		"scene_id":        q.Scene.ID,
		"path":            string(o.path),
		"cooldown_forced": forced,
		"initial":         isInitial,
		"queue_len":       o.queue.Len(),
	})

	o.notify.sceneChangeStart(isInitial)
}

func (o *Orchestrator) onFrame() {
	if o.tornDown {
		return
	}
	if !o.ready {
		o.ready = true
		o.emit("info", "viewer.ready", "", nil)
		o.notify.ready()
		if o.tornDown {
			return
		}
	}

	switch o.state {
	case StateAnimatedEntering:
		if !o.applied && o.warp.Progress() >= ApplyThreshold {
			gen := o.gen
			o.applyActive()
			if o.gen != gen || o.tornDown {
				return
			}
			o.emit("debug", "transition.peak", "", map[string]interface{}{"scene_id": o.active.Scene.ID})
			o.pending = o.timers.Schedule(func() { o.settled(gen) }, o.timings.PeakSettle)
		}
		o.frames.Invalidate()

	case StateApplying:
		if o.path == PathAnimated {
			o.frames.Invalidate()
		}

	case StateAnimatedExiting:
		if !o.exitDone && o.warp.Progress() <= ExitThreshold {
			o.exitDone = true
			o.finish()
			return
		}
		o.frames.Invalidate()
	}
}

// applyActive swaps in the active scene. It runs once per transition.
func (o *Orchestrator) applyActive() {
	o.applied = true
	o.state = StateApplying
	s := o.active.Scene

	o.safeApply(s)

	o.current = &s
	o.everApplied = true
	o.emit("info", "scene.applied", "", map[string]interface{}{
		"scene_id": s.ID,
		"path":     string(o.path),
	})
	o.notify.sceneApplied(s)
}

func (o *Orchestrator) safeApply(s scene.Scene) {
	if o.apply == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("scene_id", s.ID).Interface("panic", r).Msg("scene apply panicked")
			o.emit("error", "system.error", "scene apply panicked", map[string]interface{}{
				"scene_id": s.ID,
				"panic":    r,
			})
		}
	}()
	o.apply(s)
}

func (o *Orchestrator) settled(gen uint64) {
	o.pending = 0
	if o.gen != gen || o.tornDown || o.state != StateApplying {
		return
	}
	o.state = StateAnimatedExiting
	o.warp.Stop()
	o.frames.Invalidate()
	o.emit("debug", "transition.exiting", "", map[string]interface{}{"scene_id": o.active.Scene.ID})
}

func (o *Orchestrator) bypassApply(gen uint64) {
	o.pending = 0
	if o.gen != gen || o.tornDown || o.state != StateBypassPending {
		return
	}
	o.applyActive()
	if o.gen != gen || o.tornDown {
		return
	}
	o.state = StateBypassSettling
	o.pending = o.timers.Schedule(func() {
		o.pending = 0
		if o.gen != gen || o.tornDown || o.state != StateBypassSettling {
			return
		}
		o.finish()
	}, o.timings.BypassPostApply)
}

// finish closes out the active transition and either starts the next one or
// returns to idle.
func (o *Orchestrator) finish() {
	o.cancelWatchdog()
	s := o.active.Scene
	path := o.path
	o.active = nil
	o.completed++

	o.emit("info", "transition.completed", "", map[string]interface{}{
		"scene_id": s.ID,
		"path":     string(path),
	})

	if path == PathAnimated {
		o.cooldown.Arm(o.timings.Cooldown)
		if o.cooldown.IsActive() {
			o.emit("debug", "cooldown.armed", "", o.cooldownFields())
		}
	}

	if !o.queue.IsEmpty() {
		o.state = StateIdle
		o.beginNext()
		return
	}

	o.state = StateIdle
	o.emit("info", "queue.drained", "", map[string]interface{}{"scene_id": s.ID})
	o.notify.sceneChangeEnd()
}

func (o *Orchestrator) cancelPending() {
	if o.pending != 0 {
		o.timers.Cancel(o.pending)
		o.pending = 0
	}
}

func (o *Orchestrator) cooldownFields() map[string]interface{} {
	fields := map[string]interface{}{"queue_len": o.queue.Len()}
	if at, ok := o.cooldown.ExpiresAt(); ok {
		fields["expires_at"] = at.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func (o *Orchestrator) emit(level, name, msg string, fields map[string]interface{}) {
	if _, err := events.Emit(level, name, msg, fields); err != nil {
		o.log.Error().Err(err).Str("event", name).Msg("emit failed")
	}
}
