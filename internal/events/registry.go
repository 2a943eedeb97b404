package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scene
	"scene.queued":   {},
	"scene.rejected": {},
	"scene.applied":  {},

	// transition
	"transition.started":   {},
	"transition.peak":      {},
	"transition.exiting":   {},
	"transition.completed": {},
	"transition.stalled":   {},
	"transition.forced":    {},

	// queue
	"queue.drained":       {},
	"queue.empty_dequeue": {},

	// cooldown
	"cooldown.armed":    {},
	"cooldown.reset":    {},
	"cooldown.expired":  {},
	"cooldown.extended": {},

	// viewer
	"viewer.ready":    {},
	"viewer.teardown": {},

	// operator
	"operator.scene_change": {},
	"operator.reset":        {},

	// catalog
	"catalog.loaded": {},
	"catalog.error":  {},

	// mqtt
	"mqtt.connected":    {},
	"mqtt.disconnected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate reports an error for event names outside the known set.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
