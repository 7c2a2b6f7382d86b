package render

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/evacmap/evacmap/internal/controller"
)

// Feature roles.
const (
	RoleOrigin      = "origin"
	RoleDestination = "destination"
	RoleWaypoint    = "waypoint"
	RoleRoute       = "route"
	RoleFloodedZone = "flooded-zone"
)

// GeoJSON renders the state as a feature collection in [lng, lat] order.
//
// Endpoint and waypoint markers and the route line are only emitted for a
// drawable path. Flooded zones with fewer than three vertices are skipped.
func (r *Renderer) GeoJSON(state controller.DisplayState) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"sequence":    state.Sequence,
		"busy":        state.Busy,
		"noPathFound": state.NoPathFound,
	}
	style := r.cfg.Style

	for i, zone := range state.FloodedZones {
		if len(zone) < 3 {
			continue
		}
		f := geojson.NewFeature(orb.Polygon{closedRing(zone)})
		f.Properties["role"] = RoleFloodedZone
		f.Properties["index"] = i
		f.Properties["fill"] = style.ZoneFill
		f.Properties["fill-opacity"] = style.ZoneOpacity
		f.Properties["stroke"] = style.ZoneStroke
		fc.Append(f)
	}

	if !state.HasPath() {
		return fc
	}

	route := make(orb.LineString, len(state.Path))
	for i, p := range state.Path {
		route[i] = toPoint(p)
	}
	line := geojson.NewFeature(route)
	line.Properties["role"] = RoleRoute
	line.Properties["stroke"] = style.PathColor
	line.Properties["stroke-width"] = style.PathWeight
	line.Properties["distanceMeters"] = state.DistanceMeters
	fc.Append(line)

	last := len(state.Path) - 1
	for i := 1; i < last; i++ {
		wp := geojson.NewFeature(toPoint(state.Path[i]))
		wp.Properties["role"] = RoleWaypoint
		wp.Properties["index"] = i
		wp.Properties["marker-color"] = style.WaypointColor
		wp.Properties["marker-size"] = "small"
		fc.Append(wp)
	}

	fc.Append(endpoint(state.Path[0], RoleOrigin, style.OriginColor))
	fc.Append(endpoint(state.Path[last], RoleDestination, style.DestColor))

	return fc
}

func endpoint(p [2]float64, role, color string) *geojson.Feature {
	f := geojson.NewFeature(toPoint(p))
	f.Properties["role"] = role
	f.Properties["marker-color"] = color
	f.Properties["marker-size"] = "medium"
	return f
}

// toPoint converts a [lat, lng] pair to an orb point, which is [lng, lat].
func toPoint(p [2]float64) orb.Point {
	return orb.Point{p[1], p[0]}
}

func closedRing(zone [][2]float64) orb.Ring {
	ring := make(orb.Ring, 0, len(zone)+1)
	for _, p := range zone {
		ring = append(ring, toPoint(p))
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}
