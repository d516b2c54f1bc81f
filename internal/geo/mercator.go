// Package geo provides web-mercator projection helpers shared by the
// clustering and rendering code.
package geo

import "math"

// TileSize is the logical tile edge in pixels used for world coordinates.
const TileSize = 256

// LngLat is a geographic coordinate pair.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Valid reports whether the coordinate is finite and inside the
// WGS84 range.
func (l LngLat) Valid() bool {
	if math.IsNaN(l.Lng) || math.IsInf(l.Lng, 0) {
		return false
	}
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Project converts a coordinate to world pixel space at the given zoom.
// The world is TileSize*2^zoom pixels on each axis.
func Project(l LngLat, zoom float64) (x, y float64) {
	scale := TileSize * math.Pow(2, zoom)
	sin := math.Sin(l.Lat * math.Pi / 180)
	x = (l.Lng/360 + 0.5) * scale
	y = (0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi) * scale
	return x, y
}

// Unproject converts world pixel coordinates at the given zoom back to
// lng/lat.
func Unproject(x, y float64, zoom float64) LngLat {
	scale := TileSize * math.Pow(2, zoom)
	lng := (x/scale - 0.5) * 360
	lat := math.Atan(math.Sinh(math.Pi*(1-2*y/scale))) * 180 / math.Pi
	return LngLat{Lng: lng, Lat: lat}
}

// ScreenDistance returns the distance in pixels between two coordinates
// when projected at the given zoom.
func ScreenDistance(a, b LngLat, zoom float64) float64 {
	ax, ay := Project(a, zoom)
	bx, by := Project(b, zoom)
	return math.Hypot(ax-bx, ay-by)
}
