// Package evacuation defines the evacuation query domain: coordinates,
// environmental parameters, query and result types, and the provider
// boundary to the external routing/flood service.
package evacuation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for evacuation queries.
var (
	// ErrInvalidCoordinates indicates coordinate text that does not parse into a valid point.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInvalidParameters indicates an environmental parameter outside its declared range.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrProviderUnavailable indicates the routing/flood service could not be reached.
	ErrProviderUnavailable = errors.New("evacuation provider unavailable")
	// ErrMalformedResponse indicates the service answered with a body that could not be interpreted.
	ErrMalformedResponse = errors.New("malformed evacuation response")
	// ErrNoPathFound indicates the service found no usable path (destination unreachable or flooded).
	ErrNoPathFound = errors.New("no evacuation path found")
)

// Provider computes evacuation paths and flooded zones.
type Provider interface {
	// FindEvacuationPath asks for a path between the query endpoints under the
	// query's simulated conditions. A nil error with an empty path is a valid
	// "no path" answer.
	FindEvacuationPath(ctx context.Context, q Query) (*Result, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// LatLng is a geographic point in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Pair returns the point as a [lat, lng] pair.
func (p LatLng) Pair() [2]float64 {
	return [2]float64{p.Lat, p.Lng}
}

// UnmarshalJSON accepts both {"lat":..,"lng":..} objects and [lat, lng] arrays.
func (p *LatLng) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty point", ErrMalformedResponse)
	}

	var lat, lng float64
	switch data[0] {
	case '[':
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("%w: point has %d components", ErrMalformedResponse, len(pair))
		}
		lat, lng = pair[0], pair[1]
	case '{':
		var obj struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if obj.Lat == nil || obj.Lng == nil {
			return fmt.Errorf("%w: point is missing lat or lng", ErrMalformedResponse)
		}
		lat, lng = *obj.Lat, *obj.Lng
	default:
		return fmt.Errorf("%w: unexpected point encoding %q", ErrMalformedResponse, data)
	}

	if !finite(lat) || !finite(lng) {
		return fmt.Errorf("%w: non-finite point", ErrMalformedResponse)
	}
	p.Lat, p.Lng = lat, lng
	return nil
}

// Polygon is an ordered boundary of a flooded area.
type Polygon []LatLng

// Query is a validated evacuation request.
type Query struct {
	Place       string
	Origin      LatLng
	Destination LatLng
	NetworkType NetworkType
	Environment map[ParameterKey]float64
}

// Result is the service answer for a query.
type Result struct {
	Path         []LatLng
	FloodedZones []Polygon
}

// HasPath reports whether the result carries a path that can be drawn as a route.
// Paths of zero or one point mean no path was found.
func (r *Result) HasPath() bool {
	return r != nil && len(r.Path) >= 2
}

// NetworkType selects the street network the service routes over.
type NetworkType string

const (
	// NetworkDefault lets the service pick its default network (drive).
	NetworkDefault NetworkType = ""
	NetworkDrive   NetworkType = "drive"
	NetworkWalk    NetworkType = "walk"
	NetworkBike    NetworkType = "bike"
	NetworkAll     NetworkType = "all"
)

// Error provides detailed error information from the evacuation provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
