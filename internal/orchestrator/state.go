package orchestrator

// State is the transition state machine's current phase.
type State string

const (
	// StateIdle means no transition is in flight.
	StateIdle State = "idle"
	// StateAnimatedEntering means the warp is ramping up and the scene has
	// not been swapped yet.
	StateAnimatedEntering State = "animated_entering"
	// StateApplying covers the scene swap and, on the animated path, the
	// settle hold at the warp's peak.
	StateApplying State = "applying"
	// StateAnimatedExiting means the warp is ramping down after the swap.
	StateAnimatedExiting State = "animated_exiting"
	// StateBypassPending waits out the pre-apply delay.
	StateBypassPending State = "bypass_pending"
	// StateBypassSettling waits out the post-apply pause.
	StateBypassSettling State = "bypass_settling"
)

// Path is the route a transition takes.
type Path string

const (
	PathAnimated Path = "animated"
	PathBypass   Path = "bypass"
)

const (
	// ApplyThreshold is the warp progress at which the scene is swapped.
	ApplyThreshold = 0.99
	// ExitThreshold is the warp progress at which the exit is complete.
	ExitThreshold = 0.01
)

// animating reports whether the warp is driven in this state.
func (s State) animating() bool {
	return s == StateAnimatedEntering || s == StateAnimatedExiting
}
