// Package render provides an offline rendering surface using
// fogleman/gg: it implements the same capability interface as an
// interactive map widget but rasterizes the current point and cluster
// state to a PNG instead.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"

	"github.com/fogleman/gg"
	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/surface"
	"github.com/birdmap/maplayer/internal/tile"
)

// Config contains snapshot surface configuration.
type Config struct {
	Width  int
	Height int
}

// Point colors by tick status; cluster badges take theirs from the
// density ramp.
var (
	colorLifer   = color.RGBA{R: 0xd6, G: 0x30, B: 0x31, A: 0xff}
	colorCountry = color.RGBA{R: 0xe1, G: 0x70, B: 0x55, A: 0xff}
	colorYear    = color.RGBA{R: 0xfd, G: 0xcb, B: 0x6e, A: 0xff}
	colorPlain   = color.RGBA{R: 0x09, G: 0x84, B: 0xe3, A: 0xff}
)

// Snapshot is an offline Surface. It reuses the in-memory style and
// event bookkeeping of surface.Fake and adds a rasterization pass over
// the GeoJSON sources.
type Snapshot struct {
	*surface.Fake
	cfg Config
}

// NewSnapshot creates an offline surface of the given pixel size.
func NewSnapshot(cfg Config) *Snapshot {
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 768
	}
	return &Snapshot{Fake: surface.NewFake(), cfg: cfg}
}

// Render rasterizes every visible layer, in add order, to a PNG.
func (s *Snapshot) Render() ([]byte, error) {
	dc := gg.NewContext(s.cfg.Width, s.cfg.Height)
	dc.SetColor(color.White)
	dc.Clear()

	vp := s.Viewport()
	cx, cy := geo.Project(vp.Center, vp.Zoom)

	for _, layerID := range s.LayerIDs() {
		spec, ok := s.Layer(layerID)
		if !ok || spec.Opacity <= 0 {
			continue
		}
		src, ok := s.Source(spec.Source)
		if !ok || src.Data == nil {
			continue
		}
		for _, f := range src.Data.Features {
			s.drawFeature(dc, f, spec, vp.Zoom, cx, cy)
		}
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Snapshot) drawFeature(dc *gg.Context, f *geojson.Feature, spec surface.LayerSpec, zoom, cx, cy float64) {
	if f.Geometry == nil || f.Geometry.Type != geojson.GeometryPoint || len(f.Geometry.Point) < 2 {
		return
	}
	loc := geo.LngLat{Lng: f.Geometry.Point[0], Lat: f.Geometry.Point[1]}
	wx, wy := geo.Project(loc, zoom)
	px := wx - cx + float64(s.cfg.Width)/2
	py := wy - cy + float64(s.cfg.Height)/2
	if px < -spec.RadiusPx || px > float64(s.cfg.Width)+spec.RadiusPx ||
		py < -spec.RadiusPx || py > float64(s.cfg.Height)+spec.RadiusPx {
		return
	}

	if isCluster, _ := f.Properties["cluster"].(bool); isCluster {
		count := 0
		switch v := f.Properties["point_count"].(type) {
		case int:
			count = v
		case float64:
			count = int(v)
		}
		r := spec.RadiusPx + 4
		dc.SetColor(clusterColor(count))
		dc.DrawCircle(px, py, r)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawStringAnchored(fmt.Sprintf("%d", count), px, py, 0.5, 0.5)
		return
	}

	dc.SetColor(featureColor(f.Properties))
	dc.DrawCircle(px, py, spec.RadiusPx)
	dc.Fill()
}

func featureColor(props map[string]interface{}) color.Color {
	switch {
	case tile.NormalizeFlag(props["lifer"]):
		return colorLifer
	case tile.NormalizeFlag(props["country_tick"]):
		return colorCountry
	case tile.NormalizeFlag(props["year_tick"]):
		return colorYear
	default:
		return colorPlain
	}
}
