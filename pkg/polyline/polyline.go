// Package polyline converts routes to and from Google's encoded polyline
// format and measures them.
//
// Format: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a [lat, lng] pair in degrees.
type Point = [2]float64

// DefaultPrecision is five decimal places, as used by Google and OSRM.
const DefaultPrecision = 5

// ErrTruncated reports input that ends inside a value or between a latitude
// and its longitude.
var ErrTruncated = errors.New("polyline: truncated input")

// ErrInvalidChar reports a byte outside the '?'..'~' alphabet.
var ErrInvalidChar = errors.New("polyline: invalid character")

// Encode encodes a slice of coordinates into a polyline-encoded string.
// The polyline format uses precision of 5 decimal places (standard Google format).
func Encode(points []Point) string {
	return EncodePrecision(points, DefaultPrecision)
}

// EncodePrecision encodes with the given number of decimal places. Each
// coordinate is rounded once, so deltas never accumulate rounding error.
func EncodePrecision(points []Point, precision int) string {
	if len(points) == 0 {
		return ""
	}
	factor := math.Pow10(precision)
	out := make([]byte, 0, 8*len(points))
	var prev [2]int64
	for _, p := range points {
		for i := range p {
			v := int64(math.Round(p[i] * factor))
			out = appendVarint(out, v-prev[i])
			prev[i] = v
		}
	}
	return string(out)
}

// appendVarint zigzags v and writes it as 5-bit groups, least significant first.
func appendVarint(out []byte, v int64) []byte {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for ; u >= 0x20; u >>= 5 {
		out = append(out, byte(0x20|u&0x1f)+63)
	}
	return append(out, byte(u)+63)
}

// Decode decodes a polyline-encoded string into a slice of coordinates.
// The polyline format uses precision of 5 decimal places (standard Google format).
func Decode(encoded string) ([]Point, error) {
	return DecodePrecision(encoded, DefaultPrecision)
}

// DecodePrecision is the inverse of EncodePrecision. An empty string is an
// empty route.
func DecodePrecision(encoded string, precision int) ([]Point, error) {
	if encoded == "" {
		return nil, nil
	}
	factor := math.Pow10(precision)
	var (
		points []Point
		acc    [2]int64
	)
	for pos := 0; pos < len(encoded); {
		for i := range acc {
			if pos == len(encoded) {
				return nil, ErrTruncated
			}
			delta, n, err := readVarint(encoded[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			acc[i] += delta
		}
		points = append(points, Point{float64(acc[0]) / factor, float64(acc[1]) / factor})
	}
	return points, nil
}

func readVarint(s string) (int64, int, error) {
	var (
		u     uint64
		shift uint
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 63 || c > 126 {
			return 0, 0, ErrInvalidChar
		}
		b := uint64(c - 63)
		u |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			v := int64(u >> 1)
			if u&1 != 0 {
				v = ^v
			}
			return v, i + 1, nil
		}
		if shift > 60 {
			break
		}
	}
	return 0, 0, ErrTruncated
}

// Length returns the great-circle length of the route in meters.
func Length(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	return geo.DistanceHaversine(lngLat(a), lngLat(b))
}

func lngLat(p Point) orb.Point {
	return orb.Point{p[1], p[0]}
}
