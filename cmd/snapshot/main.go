// Package main renders a static PNG of a set of bird observations,
// clustered the same way the interactive map clusters them. Useful for
// eyeballing grouping behavior at a given zoom without a browser.
package main

import (
	"flag"
	"log"
	"os"

	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/cluster"
	"github.com/birdmap/maplayer/internal/config"
	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/render"
	"github.com/birdmap/maplayer/internal/surface"
	"github.com/birdmap/maplayer/internal/tile"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults when empty)")
	input := flag.String("in", "", "GeoJSON FeatureCollection of observations")
	output := flag.String("out", "snapshot.png", "Output PNG path")
	lng := flag.Float64("lng", 24.94, "Viewport center longitude")
	lat := flag.Float64("lat", 60.17, "Viewport center latitude")
	zoom := flag.Float64("zoom", 12, "Viewport zoom")
	width := flag.Int("width", 1024, "Image width in pixels")
	height := flag.Int("height", 768, "Image height in pixels")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	if *input == "" {
		log.Fatal("No input file; pass -in observations.geojson")
	}

	payload, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *input, err)
	}
	points, skipped, err := tile.DecodeCollection(payload)
	if err != nil {
		log.Fatalf("Failed to decode observations: %v", err)
	}
	if skipped > 0 {
		log.Printf("Skipped %d malformed observation(s)", skipped)
	}
	log.Printf("Loaded %d observation(s) from %s", len(points), *input)

	groups := cluster.GroupByRadius(points, *zoom, float64(cfg.Map.ClusterRadiusPx), 1)
	log.Printf("Grouped into %d marker(s) at zoom %.1f", len(groups), *zoom)

	snap := render.NewSnapshot(render.Config{Width: *width, Height: *height})
	snap.JumpTo(surface.Viewport{
		Center: geo.LngLat{Lng: *lng, Lat: *lat},
		Zoom:   *zoom,
	})
	if err := snap.AddSource("observations", surface.SourceSpec{Data: overlayCollection(groups)}); err != nil {
		log.Fatalf("Failed to add source: %v", err)
	}
	snap.AddLayer(surface.LayerSpec{ID: "observations-points", Source: "observations", RadiusPx: 6, Opacity: 1, Visible: true})

	img, err := snap.Render()
	if err != nil {
		log.Fatalf("Failed to render: %v", err)
	}
	if err := os.WriteFile(*output, img, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *output, err)
	}
	log.Printf("Wrote %s (%d bytes)", *output, len(img))
}

// overlayCollection converts groups to the same GeoJSON shape the
// interactive overlay source carries: cluster badges for multi-member
// groups, plain observation points otherwise.
func overlayCollection(groups []cluster.Group) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, g := range groups {
		f := geojson.NewPointFeature([]float64{g.Representative.Lng, g.Representative.Lat})
		if g.MemberCount > 1 {
			f.SetProperty("cluster", true)
			f.SetProperty("cluster_id", g.ID)
			f.SetProperty("point_count", g.MemberCount)
			f.SetProperty("has_lifer", g.HasLifer)
			f.SetProperty("has_year_tick", g.HasYearTick)
			f.SetProperty("has_country_tick", g.HasCountryTick)
		} else if len(g.Members) == 1 {
			m := g.Members[0]
			f.SetProperty("id", m.ID)
			f.SetProperty("name", m.CommonName)
			f.SetProperty("scientific_name", m.ScientificName)
			f.SetProperty("count", m.Count)
			f.SetProperty("observed_at", m.ObservedAt)
			f.SetProperty("lifer", m.IsLifer)
			f.SetProperty("year_tick", m.IsYearTick)
			f.SetProperty("country_tick", m.IsCountryTick)
		}
		fc.AddFeature(f)
	}
	return fc
}
