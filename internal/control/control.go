// Package control is the thread-safe front door to a running viewer. The
// operator API and the MQTT bridge call it from their own goroutines; it
// validates requests against the catalog and hands the work to the frame
// loop, which owns the orchestrator.
package control

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/catalog"
	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/frame"
	"github.com/AaronLay10/SentientViewer/internal/orchestrator"
	"github.com/AaronLay10/SentientViewer/internal/scene"
)

// ErrMissingSceneID is returned for a request without a scene id.
var ErrMissingSceneID = errors.New("scene_id is required")

// Request asks for a scene change.
type Request struct {
	SceneID         string `json:"scene_id"`
	BypassAnimation bool   `json:"bypass_animation"`
}

// Controller serializes operator actions onto the frame loop.
type Controller struct {
	loop *frame.Loop
	orch *orchestrator.Orchestrator
	cat  *catalog.Catalog
	log  zerolog.Logger
}

// New creates a controller. orch must only be used from loop's goroutine
// from here on.
func New(loop *frame.Loop, orch *orchestrator.Orchestrator, cat *catalog.Catalog, log zerolog.Logger) *Controller {
	return &Controller{
		loop: loop,
		orch: orch,
		cat:  cat,
		log:  log.With().Str("component", "control").Logger(),
	}
}

// ChangeScene enqueues the requested scene. It returns whether the request
// was queued; false with a nil error means it was dropped as a duplicate.
func (c *Controller) ChangeScene(ctx context.Context, req Request, source string) (bool, error) {
	if req.SceneID == "" {
		return false, ErrMissingSceneID
	}

	s, err := c.cat.Get(req.SceneID)
	if err != nil {
		events.Emit("warning", "scene.rejected", "unknown scene", map[string]interface{}{
			"scene_id": req.SceneID,
			"reason":   "unknown_scene",
			"source":   source,
		})
		return false, err
	}

	events.Emit("info", "operator.scene_change", "", map[string]interface{}{
		"scene_id":         req.SceneID,
		"bypass_animation": req.BypassAnimation,
		"source":           source,
	})

	// A request whose caller gave up while it waited in the loop's ingress
	// is dropped rather than applied behind the caller's back.
	var queued, expired bool
	err = c.loop.Call(ctx, func() {
		if ctx.Err() != nil {
			expired = true
			return
		}
		queued = c.orch.Enqueue(s, scene.Options{BypassAnimation: req.BypassAnimation})
	})
	if err == nil && expired {
		err = ctx.Err()
	}
	if err != nil {
		return false, err
	}
	c.log.Debug().Str("scene_id", req.SceneID).Str("source", source).Bool("queued", queued).Msg("scene change requested")
	return queued, nil
}

// Reset aborts the in-flight transition and clears the queue.
func (c *Controller) Reset(ctx context.Context) error {
	return c.loop.Call(ctx, c.orch.Reset)
}

// Status returns the orchestrator's snapshot.
func (c *Controller) Status(ctx context.Context) (orchestrator.Status, error) {
	var st orchestrator.Status
	err := c.loop.Call(ctx, func() { st = c.orch.Status() })
	return st, err
}

// Scenes lists the catalog.
func (c *Controller) Scenes() []scene.Scene {
	return c.cat.List()
}

// Lookup resolves a scene id against the catalog.
func (c *Controller) Lookup(id string) (scene.Scene, bool) {
	return c.cat.Lookup(id)
}
