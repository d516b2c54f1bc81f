// Package surface defines the capability interface the map core needs
// from a rendering stack. A concrete implementation adapts one widget
// (GPU map library, native SDK, offline rasterizer) to this interface;
// the coordinator and cluster controller only ever talk to it.
package surface

import (
	"context"

	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/geo"
)

// EventType identifies a viewport or data event emitted by the surface.
type EventType string

const (
	// EventZoom fires on every zoom change with the new zoom level.
	EventZoom EventType = "zoom"
	// EventMoveEnd fires when a pan/zoom interaction settles.
	EventMoveEnd EventType = "moveend"
	// EventSourceData fires when a source has loaded new tile data.
	EventSourceData EventType = "sourcedata"
	// EventClick fires on a pointer click with the features under the cursor.
	EventClick EventType = "click"
)

// Event carries the payload of a surface event.
type Event struct {
	Type     EventType
	Zoom     float64
	SourceID string
	Point    geo.LngLat
	// Features under the cursor for click events, ordered top-most first.
	Features []Feature
}

// Feature is one rendered feature returned by the surface. Properties
// hold the raw wire values; flag normalization happens at the tile
// decode boundary, not here.
type Feature struct {
	ID         int64
	LngLat     geo.LngLat
	Layer      string
	Properties map[string]interface{}
}

// Viewport is the full camera state. It is captured and restored
// verbatim around source swaps.
type Viewport struct {
	Center  geo.LngLat
	Zoom    float64
	Bearing float64
	Pitch   float64
}

// TileFetcher is the per-request tile-fetch hook. The surface calls it
// for every tile it needs; the returned payload is a GeoJSON feature
// collection, possibly gzip-encoded.
type TileFetcher func(ctx context.Context, url string) ([]byte, error)

// SourceSpec describes a source to add. Exactly one of Tiles or Data is
// set: Tiles for the primary tiled point source, Data for the secondary
// cluster overlay.
type SourceSpec struct {
	// Tiles is a URL template containing {z}/{x}/{y} placeholders.
	Tiles string
	// Fetch intercepts tile requests for tiled sources.
	Fetch TileFetcher
	// Data is the initial feature collection for a GeoJSON source.
	Data *geojson.FeatureCollection
}

// LayerSpec describes a layer bound to a source.
type LayerSpec struct {
	ID       string
	Source   string
	RadiusPx float64
	Opacity  float64
	// Visible layers draw; invisible ones are still hit-testable.
	Visible bool
}

// Surface is the minimal rendering capability the core depends on.
// Implementations are not required to be safe for concurrent use; the
// coordinator serializes all calls on its run loop.
type Surface interface {
	AddSource(id string, spec SourceSpec) error
	RemoveSource(id string) error
	// SetSourceData replaces the data of a GeoJSON source wholesale.
	SetSourceData(id string, fc *geojson.FeatureCollection) error

	AddLayer(spec LayerSpec) error
	RemoveLayer(id string) error
	// SetLayerOpacity adjusts paint opacity; a zero-opacity layer keeps
	// participating in hit tests.
	SetLayerOpacity(id string, opacity float64) error

	// QueryRenderedFeatures returns the currently rendered features on
	// the given layers, top-most first.
	QueryRenderedFeatures(layerIDs ...string) []Feature

	// On subscribes to an event; the returned func unsubscribes and is
	// safe to call more than once.
	On(t EventType, fn func(Event)) (off func())

	Viewport() Viewport
	// JumpTo restores camera state exactly, with no animation.
	JumpTo(v Viewport)
	// EaseTo animates to a center and zoom.
	EaseTo(center geo.LngLat, zoom float64)
}
