package render

import (
	"fmt"
	"io"
	"math"
	"strings"

	svg "github.com/ajstarks/svgo"

	"github.com/evacmap/evacmap/internal/controller"
)

// minSpanDegrees keeps the projection finite when everything sits on one point.
const minSpanDegrees = 0.005

// SVG draws the state as a static map: zones, route, waypoints and labelled endpoints.
// A banner is drawn when no path was found.
func (r *Renderer) SVG(w io.Writer, state controller.DisplayState) error {
	ew := &errWriter{w: w}
	cv := r.cfg.Canvas
	style := r.cfg.Style
	proj := r.projection(state)

	canvas := svg.New(ew)
	canvas.Start(cv.Width, cv.Height)
	canvas.Title("Evacuation map")
	canvas.Rect(0, 0, cv.Width, cv.Height, "fill:"+cv.Background)

	canvas.Gid("flooded-zones")
	for _, zone := range state.FloodedZones {
		if len(zone) < 3 {
			continue
		}
		canvas.Path(ringPath(proj, zone), fmt.Sprintf(
			"fill:%s;fill-opacity:%.2f;stroke:%s;stroke-width:1",
			style.ZoneFill, style.ZoneOpacity, style.ZoneStroke))
	}
	canvas.Gend()

	if state.HasPath() {
		xs := make([]int, len(state.Path))
		ys := make([]int, len(state.Path))
		for i, p := range state.Path {
			xs[i], ys[i] = proj.screen(p)
		}

		canvas.Gid("route")
		canvas.Polyline(xs, ys, fmt.Sprintf(
			"fill:none;stroke:%s;stroke-width:%d;stroke-linecap:round;stroke-linejoin:round",
			style.PathColor, style.PathWeight))
		for i := 1; i < len(xs)-1; i++ {
			canvas.Circle(xs[i], ys[i], style.WaypointRadius, "fill:"+style.WaypointColor)
		}
		canvas.Gend()

		last := len(xs) - 1
		canvas.Gid("endpoints")
		r.marker(canvas, xs[0], ys[0], "Origin", style.OriginColor)
		r.marker(canvas, xs[last], ys[last], "Destination", style.DestColor)
		canvas.Gend()
	}

	switch {
	case state.NoPathFound:
		r.banner(canvas, "Destination unreachable or flooded", "#b91c1c")
	case state.Busy:
		r.banner(canvas, "Computing evacuation path...", "#334155")
	}

	canvas.End()
	return ew.err
}

func (r *Renderer) marker(canvas *svg.SVG, x, y int, label, color string) {
	radius := r.cfg.Style.WaypointRadius * 3
	canvas.Circle(x, y, radius, fmt.Sprintf("fill:%s;stroke:#ffffff;stroke-width:2", color))
	canvas.Text(x+radius+4, y+4, label, "font-family:sans-serif;font-size:13px;fill:#0f172a")
}

func (r *Renderer) banner(canvas *svg.SVG, text, color string) {
	cv := r.cfg.Canvas
	height := 36
	canvas.Rect(0, 0, cv.Width, height, "fill:"+color+";fill-opacity:0.9")
	canvas.Text(cv.Width/2, height/2+5, text,
		"font-family:sans-serif;font-size:15px;font-weight:bold;fill:#ffffff;text-anchor:middle")
}

// projection maps [lat, lng] onto the padded canvas with an equirectangular
// projection, keeping the aspect ratio of the drawn area.
type projection struct {
	minLng, maxLat float64
	lngScale       float64 // cos(mid latitude), so east-west distances are not stretched
	scale          float64
	offsetX        float64
	offsetY        float64
}

func (r *Renderer) projection(state controller.DisplayState) projection {
	minLat, minLng := math.Inf(1), math.Inf(1)
	maxLat, maxLng := math.Inf(-1), math.Inf(-1)
	extend := func(p [2]float64) {
		minLat, maxLat = math.Min(minLat, p[0]), math.Max(maxLat, p[0])
		minLng, maxLng = math.Min(minLng, p[1]), math.Max(maxLng, p[1])
	}
	for _, p := range state.Path {
		extend(p)
	}
	for _, zone := range state.FloodedZones {
		for _, p := range zone {
			extend(p)
		}
	}
	if math.IsInf(minLat, 1) {
		extend(r.cfg.Center)
	}

	midLat := (minLat + maxLat) / 2
	if span := maxLat - minLat; span < minSpanDegrees {
		minLat, maxLat = midLat-minSpanDegrees/2, midLat+minSpanDegrees/2
	}
	midLng := (minLng + maxLng) / 2
	if span := maxLng - minLng; span < minSpanDegrees {
		minLng, maxLng = midLng-minSpanDegrees/2, midLng+minSpanDegrees/2
	}

	cv := r.cfg.Canvas
	innerW := float64(cv.Width - 2*cv.Padding)
	innerH := float64(cv.Height - 2*cv.Padding)

	lngScale := math.Cos(midLat * math.Pi / 180)
	width := (maxLng - minLng) * lngScale
	height := maxLat - minLat
	scale := math.Min(innerW/width, innerH/height)

	return projection{
		minLng:   minLng,
		maxLat:   maxLat,
		lngScale: lngScale,
		scale:    scale,
		offsetX:  float64(cv.Padding) + (innerW-width*scale)/2,
		offsetY:  float64(cv.Padding) + (innerH-height*scale)/2,
	}
}

func (p projection) screen(pt [2]float64) (int, int) {
	x := p.offsetX + (pt[1]-p.minLng)*p.lngScale*p.scale
	y := p.offsetY + (p.maxLat-pt[0])*p.scale
	return int(math.Round(x)), int(math.Round(y))
}

func ringPath(proj projection, zone [][2]float64) string {
	var b strings.Builder
	for i, pt := range zone {
		x, y := proj.screen(pt)
		if i == 0 {
			fmt.Fprintf(&b, "M%d %d", x, y)
		} else {
			fmt.Fprintf(&b, " L%d %d", x, y)
		}
	}
	b.WriteString(" Z")
	return b.String()
}

// errWriter keeps the first write error; svgo does not report them.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
