package render

import (
	"image/color"
	"math"
)

// Ramp maps normalized values [0, 1] to colors by linear
// interpolation between stops.
type Ramp struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (r Ramp) At(t float64) color.Color {
	if t <= 0 {
		return r.colors[0]
	}
	if t >= 1 {
		return r.colors[len(r.colors)-1]
	}

	idx := t * float64(len(r.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(r.colors) {
		upper = len(r.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(r.colors[lower], r.colors[upper], frac)
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// clusterRamp shades cluster badges from slate to deep red as the
// member count grows.
var clusterRamp = Ramp{
	colors: []color.RGBA{
		{45, 52, 54, 255},
		{108, 92, 231, 255},
		{214, 48, 49, 255},
	},
}

// clusterColor picks the badge color for a cluster of n observations.
// The scale is logarithmic so a 10-point and a 1000-point cluster are
// still distinguishable.
func clusterColor(n int) color.Color {
	if n < 2 {
		n = 2
	}
	t := math.Log2(float64(n)) / 10
	return clusterRamp.At(t)
}
