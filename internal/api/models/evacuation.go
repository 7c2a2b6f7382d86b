package models

import (
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/weather"
)

// ParametersResponse lists the environmental sliders and accepted network types.
type ParametersResponse struct {
	Parameters   evacuation.ParameterSet  `json:"parameters"`
	NetworkTypes []evacuation.NetworkType `json:"networkTypes"`
}

// WeatherPresetResponse is a suggested environment for a location.
type WeatherPresetResponse struct {
	Location    evacuation.LatLng                   `json:"location"`
	Environment map[evacuation.ParameterKey]float64 `json:"environment"`
	Condition   weather.Condition                   `json:"condition"`
	Description string                              `json:"description,omitempty"`
	ObservedAt  Timestamp                           `json:"observedAt"`
	Source      string                              `json:"source"`
}
