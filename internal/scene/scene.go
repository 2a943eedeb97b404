// Package scene defines the scene value types and the pending-change queue
// consumed by the transition orchestrator.
package scene

// Scene is an identified bundle of visual content plus configuration
// overrides. Identity is by ID. A Scene is treated as immutable once it has
// been enqueued.
type Scene struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name,omitempty"`
	Content         map[string]interface{} `json:"content,omitempty"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty"`
}

// Options controls how a queued scene is transitioned in.
type Options struct {
	// BypassAnimation skips the warp animation and applies the scene after
	// fixed delays instead.
	BypassAnimation bool `json:"bypass_animation,omitempty"`
}

// Queued is a scene waiting to be transitioned in.
type Queued struct {
	Scene   Scene
	Options Options
}
