package evacuation

import (
	"fmt"
	"math"
)

// ParameterKey identifies a simulated environmental parameter.
type ParameterKey string

// Recognized environmental parameters.
const (
	ParamWaterLevel     ParameterKey = "waterLevel"
	ParamRainLevel      ParameterKey = "rainLevel"
	ParamRiverDischarge ParameterKey = "riverDischarge"
)

// Parameter describes one environmental slider and how it is sent to the service.
type Parameter struct {
	Key     ParameterKey `json:"key"`
	Query   string       `json:"query"` // query-string name expected by the service
	Label   string       `json:"label"`
	Unit    string       `json:"unit"`
	Min     float64      `json:"min"`
	Max     float64      `json:"max"`
	Step    float64      `json:"step"`
	Default float64      `json:"default"`
}

// Contains reports whether v lies within the parameter's declared range.
func (p Parameter) Contains(v float64) bool {
	return finite(v) && v >= p.Min && v <= p.Max
}

// Clamp forces v into the parameter's declared range.
func (p Parameter) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.Default
	}
	return math.Max(p.Min, math.Min(p.Max, v))
}

// ParameterSet is the ordered set of environmental parameters a deployment recognizes.
type ParameterSet []Parameter

// DefaultParameters returns the water level, rain level and river discharge sliders.
func DefaultParameters() ParameterSet {
	return ParameterSet{
		{
			Key:     ParamWaterLevel,
			Query:   "water_level",
			Label:   "Water level",
			Unit:    "m",
			Min:     0,
			Max:     10,
			Step:    0.1,
			Default: 0,
		},
		{
			Key:     ParamRainLevel,
			Query:   "rain",
			Label:   "Rainfall",
			Unit:    "mm",
			Min:     0,
			Max:     300,
			Step:    1,
			Default: 0,
		},
		{
			Key:     ParamRiverDischarge,
			Query:   "riverdischarge",
			Label:   "River discharge",
			Unit:    "m³/s",
			Min:     0,
			Max:     2000,
			Step:    10,
			Default: 0,
		},
	}
}

// Lookup returns the parameter with the given key.
func (s ParameterSet) Lookup(key ParameterKey) (Parameter, bool) {
	for _, p := range s {
		if p.Key == key {
			return p, true
		}
	}
	return Parameter{}, false
}

// Resolve fills in defaults for missing values and rejects unknown keys.
// Range checks are left to the caller so every offending field can be reported.
func (s ParameterSet) Resolve(values map[ParameterKey]float64) (map[ParameterKey]float64, error) {
	for key := range values {
		if _, ok := s.Lookup(key); !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameters, key)
		}
	}

	resolved := make(map[ParameterKey]float64, len(s))
	for _, p := range s {
		v, ok := values[p.Key]
		if !ok {
			v = p.Default
		}
		resolved[p.Key] = v
	}
	return resolved, nil
}

// Validate checks a network type against the values the service accepts.
func (n NetworkType) Validate() error {
	switch n {
	case NetworkDefault, NetworkDrive, NetworkWalk, NetworkBike, NetworkAll:
		return nil
	default:
		return fmt.Errorf("%w: unknown network type %q", ErrInvalidParameters, string(n))
	}
}
