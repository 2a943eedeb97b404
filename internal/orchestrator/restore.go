package orchestrator

import (
	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/scene"
	"github.com/AaronLay10/SentientViewer/internal/storage/postgres"
)

// DefaultRestoreLimit is the default number of events to load for restore.
const DefaultRestoreLimit = 1000

// EventSource yields stored events, newest first.
type EventSource interface {
	Query(limit int) ([]postgres.EventRow, error)
}

// RestoredState is what the event log says about the viewer before it
// stopped.
type RestoredState struct {
	// SceneID is the last applied scene. An operator reset leaves it on
	// screen, so it survives a reset too.
	SceneID string
	// Transitions counts transitions that completed in the loaded window.
	Transitions int
}

// RestoreFromEvents replays stored events in chronological order and
// reconstructs the last applied scene. Returns nil if src is nil or holds
// no events.
func RestoreFromEvents(src EventSource, limit int) (*RestoredState, int, error) {
	if src == nil {
		return nil, 0, nil
	}

	if limit <= 0 {
		limit = DefaultRestoreLimit
	}

	rows, err := src.Query(limit)
	if err != nil {
		return nil, 0, err
	}

	if len(rows) == 0 {
		return nil, 0, nil
	}

	// Query returns newest first.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	state := &RestoredState{}
	for _, row := range rows {
		switch row.Event {
		case "scene.applied":
			if id, ok := row.SceneID(); ok {
				state.SceneID = id
			}
		case "transition.completed":
			state.Transitions++
		}
	}

	return state, len(rows), nil
}

// Restore re-enqueues the restored scene on the bypass path so the viewer
// comes back showing it without replaying the warp. lookup resolves the id
// against the current catalog; a scene that no longer exists is skipped.
func (o *Orchestrator) Restore(state *RestoredState, lookup func(id string) (scene.Scene, bool)) bool {
	if state == nil || state.SceneID == "" || lookup == nil {
		return false
	}
	s, ok := lookup(state.SceneID)
	if !ok {
		o.log.Warn().Str("scene_id", state.SceneID).Msg("restored scene missing from catalog")
		return false
	}
	return o.Enqueue(s, scene.Options{BypassAnimation: true})
}

// EmitStartupRestore records how many events were replayed at startup.
func EmitStartupRestore(restored int, sceneID string) {
	events.Emit("info", "system.startup", "state restored", map[string]interface{}{
		"restored": restored,
		"scene_id": sceneID,
	})
}
