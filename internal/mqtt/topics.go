package mqtt

// SceneChangeTopic is where scene change requests for viewerID arrive.
func SceneChangeTopic(viewerID string) string {
	return "viewer/" + viewerID + "/scene/change"
}

// EventsTopic is where viewerID's events are published.
func EventsTopic(viewerID string) string {
	return "viewer/" + viewerID + "/events"
}
