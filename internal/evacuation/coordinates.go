package evacuation

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCoordinate parses "lat, lng" text into a point.
// Exactly one comma is accepted; whitespace around either number is ignored.
func ParseCoordinate(s string) (LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return LatLng{}, fmt.Errorf("%w: %q is not a \"lat, lng\" pair", ErrInvalidCoordinates, s)
	}

	lat, err := parseDegrees(parts[0])
	if err != nil {
		return LatLng{}, fmt.Errorf("%w: latitude in %q: %v", ErrInvalidCoordinates, s, err)
	}
	lng, err := parseDegrees(parts[1])
	if err != nil {
		return LatLng{}, fmt.Errorf("%w: longitude in %q: %v", ErrInvalidCoordinates, s, err)
	}

	p := LatLng{Lat: lat, Lng: lng}
	if err := ValidateLatLng(p); err != nil {
		return LatLng{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return p, nil
}

// ValidateLatLng checks that a point lies within valid degree ranges.
func ValidateLatLng(p LatLng) error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", p.Lng)
	}
	return nil
}

// FormatCoordinate renders a point the way ParseCoordinate reads it.
func FormatCoordinate(p LatLng) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + ", " + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

func parseDegrees(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if !finite(f) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return f, nil
}
