package orchestrator

func (o *Orchestrator) armWatchdog() {
	o.cancelWatchdog()
	if o.timings.Watchdog <= 0 {
		return
	}
	gen := o.gen
	o.watchdog = o.timers.Schedule(func() {
		o.watchdog = 0
		if o.gen != gen || o.tornDown || o.active == nil {
			return
		}
		o.stalled(gen)
	}, o.timings.Watchdog)
}

func (o *Orchestrator) cancelWatchdog() {
	if o.watchdog != 0 {
		o.timers.Cancel(o.watchdog)
		o.watchdog = 0
	}
}

// stalled reports a transition that outlived the watchdog and, when forcing
// is enabled, drives it to completion.
func (o *Orchestrator) stalled(gen uint64) {
	s := o.active.Scene
	state := o.state
	progress := 0.0
	if o.warp != nil {
		progress = o.warp.Progress()
	}

	o.log.Warn().
		Str("scene_id", s.ID).
		Str("state", string(state)).
		Float64("progress", progress).
		Msg("transition stalled")
	o.emit("warning", "transition.stalled", "", map[string]interface{}{
		"scene_id": s.ID,
		"state":    string(state),
		"progress": progress,
		"forced":   o.timings.WatchdogForce,
	})
	o.notify.stalled(s, state)

	if !o.timings.WatchdogForce || o.gen != gen || o.tornDown || o.active == nil {
		return
	}

	o.emit("warning", "transition.forced", "", map[string]interface{}{
		"scene_id": s.ID,
		"state":    string(state),
	})
	o.cancelPending()

	if !o.applied {
		o.applyActive()
		if o.gen != gen || o.tornDown {
			return
		}
	}
	if o.path == PathAnimated && o.state != StateAnimatedExiting && o.warp != nil {
		o.warp.Stop()
	}
	o.exitDone = true
	o.finish()
}
