package render

import (
	"bytes"
	"image/png"
	"testing"

	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/surface"
)

func TestRenderEmpty(t *testing.T) {
	s := NewSnapshot(Config{Width: 64, Height: 64})
	data, err := s.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestRenderDrawsVisiblePoints(t *testing.T) {
	s := NewSnapshot(Config{Width: 128, Height: 128})
	center := geo.LngLat{Lng: 24.9, Lat: 60.1}
	s.JumpTo(surface.Viewport{Center: center, Zoom: 14})

	fc := geojson.NewFeatureCollection()
	f := geojson.NewPointFeature([]float64{center.Lng, center.Lat})
	f.SetProperty("lifer", true)
	fc.AddFeature(f)

	s.AddSource("obs", surface.SourceSpec{Data: fc})
	s.AddLayer(surface.LayerSpec{ID: "pts", Source: "obs", RadiusPx: 6, Opacity: 1, Visible: true})

	data, err := s.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not valid PNG: %v", err)
	}
	// Center pixel carries the lifer color, not the white background.
	r, g, b, _ := img.At(64, 64).RGBA()
	if r == 0xffff && g == 0xffff && b == 0xffff {
		t.Error("expected a drawn point at the viewport center")
	}
}

func TestRenderSkipsZeroOpacityLayers(t *testing.T) {
	s := NewSnapshot(Config{Width: 32, Height: 32})
	center := geo.LngLat{Lng: 0, Lat: 0}
	s.JumpTo(surface.Viewport{Center: center, Zoom: 10})

	fc := geojson.NewFeatureCollection()
	fc.AddFeature(geojson.NewPointFeature([]float64{0, 0}))
	s.AddSource("obs", surface.SourceSpec{Data: fc})
	s.AddLayer(surface.LayerSpec{ID: "hidden", Source: "obs", RadiusPx: 10, Opacity: 0})

	data, err := s.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, _ := png.Decode(bytes.NewReader(data))
	r, g, b, _ := img.At(16, 16).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff {
		t.Error("hidden layer must not draw")
	}
}
