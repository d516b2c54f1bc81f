package geo

import (
	"math"
	"testing"
)

func TestProjectRoundTrip(t *testing.T) {
	coords := []LngLat{
		{Lng: 0, Lat: 0},
		{Lng: -122.4194, Lat: 37.7749},
		{Lng: 151.2093, Lat: -33.8688},
		{Lng: 179.9, Lat: 84.9},
	}
	for _, c := range coords {
		x, y := Project(c, 12)
		back := Unproject(x, y, 12)
		if math.Abs(back.Lng-c.Lng) > 1e-6 || math.Abs(back.Lat-c.Lat) > 1e-6 {
			t.Errorf("round trip %v -> %v", c, back)
		}
	}
}

func TestProjectOrigin(t *testing.T) {
	x, y := Project(LngLat{}, 0)
	if math.Abs(x-128) > 1e-9 || math.Abs(y-128) > 1e-9 {
		t.Errorf("expected world center (128,128) at zoom 0, got (%f,%f)", x, y)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		l    LngLat
		want bool
	}{
		{LngLat{Lng: 0, Lat: 0}, true},
		{LngLat{Lng: -180, Lat: 90}, true},
		{LngLat{Lng: 0, Lat: 91}, false},
		{LngLat{Lng: 181, Lat: 0}, false},
		{LngLat{Lng: math.NaN(), Lat: 0}, false},
		{LngLat{Lng: 0, Lat: math.Inf(1)}, false},
	}
	for _, c := range cases {
		if got := c.l.Valid(); got != c.want {
			t.Errorf("Valid(%v) = %v, want %v", c.l, got, c.want)
		}
	}
}

func TestScreenDistanceDoublesPerZoom(t *testing.T) {
	a := LngLat{Lng: 10, Lat: 20}
	b := LngLat{Lng: 10.001, Lat: 20}
	d10 := ScreenDistance(a, b, 10)
	d11 := ScreenDistance(a, b, 11)
	if math.Abs(d11/d10-2) > 1e-9 {
		t.Errorf("expected pixel distance to double per zoom level, got ratio %f", d11/d10)
	}
}
