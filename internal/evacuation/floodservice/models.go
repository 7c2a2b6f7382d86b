package floodservice

import "github.com/evacmap/evacmap/internal/evacuation"

// evacuationResponse is the /evacuation-path response body.
// path may be null; flooded_zones may be absent.
type evacuationResponse struct {
	Path         []evacuation.LatLng  `json:"path"`
	FloodedZones []evacuation.Polygon `json:"flooded_zones"`
	Error        string               `json:"error,omitempty"`
}

// errorResponse covers both FastAPI-style {"detail": ...} and {"error": ...} bodies.
type errorResponse struct {
	Detail any    `json:"detail"`
	Error  string `json:"error"`
}

func (e errorResponse) message() string {
	if e.Error != "" {
		return e.Error
	}
	if s, ok := e.Detail.(string); ok {
		return s
	}
	return ""
}
