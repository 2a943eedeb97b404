package orchestrator

import (
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/scene"
)

// Hooks are the host callbacks. Any of them may be nil.
type Hooks struct {
	// OnSceneChangeStart fires when a transition begins. isInitial is true
	// only for the first transition, before any scene has been shown.
	OnSceneChangeStart func(isInitial bool)
	// OnSceneChangeEnd fires once when the queue drains and the
	// orchestrator returns to idle.
	OnSceneChangeEnd func()
	// OnSceneApplied fires right after each scene swap.
	OnSceneApplied func(s scene.Scene)
	// OnReady fires once, on the first frame poll.
	OnReady func()
	// OnStalled fires when the watchdog sees a transition that did not
	// finish in time.
	OnStalled func(s scene.Scene, state State)
}

// notifier invokes host callbacks. Callbacks are never nested: work that
// would start a new callback while one is running (an enqueue from inside
// OnSceneChangeEnd, say) is deferred until the outermost callback returns.
type notifier struct {
	hooks    Hooks
	log      zerolog.Logger
	depth    int
	deferred []func()
	closed   bool
}

func (n *notifier) call(name string, fn func()) {
	if n.closed {
		return
	}
	n.depth++
	func() {
		defer func() {
			if r := recover(); r != nil {
				n.log.Error().Str("hook", name).Interface("panic", r).Msg("host callback panicked")
			}
		}()
		fn()
	}()
	n.depth--
	if n.depth == 0 {
		n.flush()
	}
}

// after runs fn now, or once the running callback returns.
func (n *notifier) after(fn func()) {
	if n.closed {
		return
	}
	if n.depth == 0 {
		fn()
		return
	}
	n.deferred = append(n.deferred, fn)
}

func (n *notifier) flush() {
	for len(n.deferred) > 0 && n.depth == 0 && !n.closed {
		fn := n.deferred[0]
		n.deferred = n.deferred[1:]
		fn()
	}
}

func (n *notifier) close() {
	n.closed = true
	n.deferred = nil
}

func (n *notifier) sceneChangeStart(isInitial bool) {
	if h := n.hooks.OnSceneChangeStart; h != nil {
		n.call("on_scene_change_start", func() { h(isInitial) })
	}
}

func (n *notifier) sceneChangeEnd() {
	if h := n.hooks.OnSceneChangeEnd; h != nil {
		n.call("on_scene_change_end", h)
	}
}

func (n *notifier) sceneApplied(s scene.Scene) {
	if h := n.hooks.OnSceneApplied; h != nil {
		n.call("on_scene_applied", func() { h(s) })
	}
}

func (n *notifier) ready() {
	if h := n.hooks.OnReady; h != nil {
		n.call("on_ready", h)
	}
}

func (n *notifier) stalled(s scene.Scene, state State) {
	if h := n.hooks.OnStalled; h != nil {
		n.call("on_stalled", func() { h(s, state) })
	}
}
