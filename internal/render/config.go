// Package render draws a display state as GeoJSON, SVG or an interactive
// Leaflet page. All styling comes from an explicit Config; nothing is shared
// between renderers.
package render

import (
	"errors"
	"fmt"
	"strings"
)

// TileLayer describes the base map tiles of the interactive page.
type TileLayer struct {
	URLTemplate string `json:"urlTemplate"`
	Attribution string `json:"attribution"`
	Subdomains  string `json:"subdomains"`
	MaxZoom     int    `json:"maxZoom"`
}

// MarkerIcons describes the endpoint marker images of the interactive page.
type MarkerIcons struct {
	IconURL       string `json:"iconUrl"`
	IconRetinaURL string `json:"iconRetinaUrl"`
	ShadowURL     string `json:"shadowUrl"`
	IconSize      [2]int `json:"iconSize"`
	IconAnchor    [2]int `json:"iconAnchor"`
	PopupAnchor   [2]int `json:"popupAnchor"`
	ShadowSize    [2]int `json:"shadowSize"`
}

// Style holds colours and sizes shared by every output format.
type Style struct {
	PathColor      string  `json:"pathColor"`
	PathWeight     int     `json:"pathWeight"`
	ZoneFill       string  `json:"zoneFill"`
	ZoneStroke     string  `json:"zoneStroke"`
	ZoneOpacity    float64 `json:"zoneOpacity"`
	WaypointColor  string  `json:"waypointColor"`
	WaypointRadius int     `json:"waypointRadius"`
	OriginColor    string  `json:"originColor"`
	DestColor      string  `json:"destinationColor"`
}

// Canvas sizes the SVG output.
type Canvas struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Padding    int    `json:"padding"`
	Background string `json:"background"`
}

// Config is the complete renderer configuration.
type Config struct {
	Center [2]float64  `json:"center"` // [lat, lng] shown before the first query
	Zoom   int         `json:"zoom"`
	Tiles  TileLayer   `json:"tiles"`
	Icons  MarkerIcons `json:"icons"`
	Style  Style       `json:"style"`
	Canvas Canvas      `json:"canvas"`
}

const leafletDist = "https://unpkg.com/leaflet@1.7.1/dist/"

// DefaultConfig returns CARTO light tiles centred on Paris with the stock Leaflet markers.
func DefaultConfig() Config {
	return Config{
		Center: [2]float64{48.8566, 2.3522},
		Zoom:   13,
		Tiles: TileLayer{
			URLTemplate: "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
			Attribution: `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors &copy; <a href="https://carto.com/attributions">CARTO</a>`,
			Subdomains:  "abcd",
			MaxZoom:     20,
		},
		Icons: MarkerIcons{
			IconURL:       leafletDist + "images/marker-icon.png",
			IconRetinaURL: leafletDist + "images/marker-icon-2x.png",
			ShadowURL:     leafletDist + "images/marker-shadow.png",
			IconSize:      [2]int{25, 41},
			IconAnchor:    [2]int{12, 41},
			PopupAnchor:   [2]int{1, -34},
			ShadowSize:    [2]int{41, 41},
		},
		Style: Style{
			PathColor:      "#2563eb",
			PathWeight:     5,
			ZoneFill:       "#3b82f6",
			ZoneStroke:     "#1d4ed8",
			ZoneOpacity:    0.35,
			WaypointColor:  "#1e3a8a",
			WaypointRadius: 3,
			OriginColor:    "#16a34a",
			DestColor:      "#dc2626",
		},
		Canvas: Canvas{
			Width:      800,
			Height:     600,
			Padding:    32,
			Background: "#f8fafc",
		},
	}
}

// Validate checks that the configuration can be rendered.
func (c Config) Validate() error {
	var errs []error

	if c.Center[0] < -90 || c.Center[0] > 90 || c.Center[1] < -180 || c.Center[1] > 180 {
		errs = append(errs, fmt.Errorf("center %v out of range", c.Center))
	}
	if c.Zoom < 0 || c.Zoom > 22 {
		errs = append(errs, fmt.Errorf("zoom %d out of range [0, 22]", c.Zoom))
	}
	if !strings.Contains(c.Tiles.URLTemplate, "{z}") ||
		!strings.Contains(c.Tiles.URLTemplate, "{x}") ||
		!strings.Contains(c.Tiles.URLTemplate, "{y}") {
		errs = append(errs, fmt.Errorf("tile URL template %q must contain {z}, {x} and {y}", c.Tiles.URLTemplate))
	}
	if c.Canvas.Width <= 2*c.Canvas.Padding || c.Canvas.Height <= 2*c.Canvas.Padding {
		errs = append(errs, fmt.Errorf("canvas %dx%d too small for padding %d",
			c.Canvas.Width, c.Canvas.Height, c.Canvas.Padding))
	}
	if c.Style.ZoneOpacity < 0 || c.Style.ZoneOpacity > 1 {
		errs = append(errs, fmt.Errorf("zone opacity %g out of range [0, 1]", c.Style.ZoneOpacity))
	}

	return errors.Join(errs...)
}
