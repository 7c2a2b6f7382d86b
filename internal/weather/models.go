// Package weather suggests starting values for the rain parameters from the
// current observed weather at a location.
package weather

import (
	"errors"
	"time"

	"github.com/evacmap/evacmap/internal/evacuation"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrNotConfigured       = errors.New("weather presets are not configured")
)

// Observation is the current weather at a point.
type Observation struct {
	Location evacuation.LatLng

	// Rain1h and Rain3h are rain volumes in mm over the last hour and three hours.
	// Zero means no rain was reported.
	Rain1h float64
	Rain3h float64

	Condition   Condition
	Description string

	ObservedAt time.Time
	FetchedAt  time.Time
}

// RainLast3h returns the rain volume over the last three hours, extrapolating
// from the hourly volume when only that is reported.
func (o *Observation) RainLast3h() float64 {
	if o.Rain3h > 0 {
		return o.Rain3h
	}
	return o.Rain1h * 3
}

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionUnknown      Condition = "UNKNOWN"
)

// Wet reports whether the condition brings precipitation.
func (c Condition) Wet() bool {
	switch c {
	case ConditionRain, ConditionDrizzle, ConditionThunderstorm, ConditionSnow:
		return true
	default:
		return false
	}
}

// Preset is a suggested environment for the query form.
type Preset struct {
	Environment map[evacuation.ParameterKey]float64 `json:"environment"`
	Condition   Condition                           `json:"condition"`
	Description string                              `json:"description,omitempty"`
	ObservedAt  time.Time                           `json:"observedAt"`
	Source      string                              `json:"source"`
}

// SuggestEnvironment fills every parameter with its default and sets the rain
// level from the observed three-hour volume, clamped into the parameter range.
func SuggestEnvironment(obs *Observation, params evacuation.ParameterSet) map[evacuation.ParameterKey]float64 {
	env := make(map[evacuation.ParameterKey]float64, len(params))
	for _, p := range params {
		env[p.Key] = p.Default
	}
	if obs == nil {
		return env
	}

	if p, ok := params.Lookup(evacuation.ParamRainLevel); ok {
		env[p.Key] = p.Clamp(roundToStep(obs.RainLast3h(), p.Step))
	}
	return env
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := v / step
	if n-float64(int64(n)) >= 0.5 {
		return float64(int64(n)+1) * step
	}
	return float64(int64(n)) * step
}
