package orchestrator

import "github.com/AaronLay10/SentientViewer/internal/scene"

// Warp is the externally owned warp animation. Progress is sampled once per
// frame and is not trusted to be monotonic.
type Warp interface {
	Start()
	Stop()
	Progress() float64
	IsWarping() bool
}

// Frames is the render scheduler. Subscribers are invoked once per rendered
// frame; Invalidate asks for another frame to be rendered.
type Frames interface {
	Invalidate()
	Subscribe(fn func()) (unsubscribe func())
}

// ApplyFunc swaps the visible content for s and merges its configuration
// overrides. It is synchronous and its only output is side effects.
type ApplyFunc func(s scene.Scene)

type noFrames struct{}

func (noFrames) Invalidate()             {}
func (noFrames) Subscribe(func()) func() { return func() {} }
