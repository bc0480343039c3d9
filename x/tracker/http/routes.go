package http

// Route patterns for the tracked-state HTTP surface.
const (
	routeState = "/v1/state"
)

// Route names for mux URL building.
const (
	routeNameState = "tracker_state"
)
