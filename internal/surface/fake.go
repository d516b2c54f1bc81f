package surface

import (
	"fmt"
	"sort"
	"sync"

	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/geo"
)

// Fake is an in-memory Surface for tests and headless use. Tests drive
// it by setting rendered features and emitting events; it records every
// source and layer mutation so lifecycle invariants can be asserted.
type Fake struct {
	mu sync.Mutex

	sources map[string]SourceSpec
	layers  map[string]LayerSpec
	order   []string

	viewport Viewport
	rendered map[string][]Feature

	handlers map[EventType][]*handler

	// EaseCalls records animated navigations in order.
	EaseCalls []Viewport
	// RemovedSources records removals in order, duplicates included.
	RemovedSources []string
}

type handler struct {
	fn func(Event)
}

// NewFake returns a Fake with an empty style and a zeroed viewport.
func NewFake() *Fake {
	return &Fake{
		sources:  make(map[string]SourceSpec),
		layers:   make(map[string]LayerSpec),
		rendered: make(map[string][]Feature),
		handlers: make(map[EventType][]*handler),
	}
}

func (f *Fake) AddSource(id string, spec SourceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	f.sources[id] = spec
	return nil
}

func (f *Fake) RemoveSource(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return fmt.Errorf("source %q does not exist", id)
	}
	delete(f.sources, id)
	f.RemovedSources = append(f.RemovedSources, id)
	return nil
}

func (f *Fake) SetSourceData(id string, fc *geojson.FeatureCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.sources[id]
	if !ok {
		return fmt.Errorf("source %q does not exist", id)
	}
	spec.Data = fc
	f.sources[id] = spec
	return nil
}

func (f *Fake) AddLayer(spec LayerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.layers[spec.ID]; ok {
		return fmt.Errorf("layer %q already exists", spec.ID)
	}
	if _, ok := f.sources[spec.Source]; !ok {
		return fmt.Errorf("layer %q references missing source %q", spec.ID, spec.Source)
	}
	f.layers[spec.ID] = spec
	f.order = append(f.order, spec.ID)
	return nil
}

func (f *Fake) RemoveLayer(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.layers[id]; !ok {
		return fmt.Errorf("layer %q does not exist", id)
	}
	delete(f.layers, id)
	for i, l := range f.order {
		if l == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) SetLayerOpacity(id string, opacity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.layers[id]
	if !ok {
		return fmt.Errorf("layer %q does not exist", id)
	}
	spec.Opacity = opacity
	f.layers[id] = spec
	return nil
}

func (f *Fake) QueryRenderedFeatures(layerIDs ...string) []Feature {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Feature
	for _, id := range layerIDs {
		out = append(out, f.rendered[id]...)
	}
	return out
}

func (f *Fake) On(t EventType, fn func(Event)) func() {
	f.mu.Lock()
	h := &handler{fn: fn}
	f.handlers[t] = append(f.handlers[t], h)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		hs := f.handlers[t]
		for i, cur := range hs {
			if cur == h {
				f.handlers[t] = append(hs[:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (f *Fake) Viewport() Viewport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewport
}

func (f *Fake) JumpTo(v Viewport) {
	f.mu.Lock()
	f.viewport = v
	f.mu.Unlock()
}

func (f *Fake) EaseTo(center geo.LngLat, zoom float64) {
	f.mu.Lock()
	f.viewport.Center = center
	f.viewport.Zoom = zoom
	f.EaseCalls = append(f.EaseCalls, f.viewport)
	f.mu.Unlock()
}

// Emit synchronously delivers an event to all subscribed handlers.
func (f *Fake) Emit(ev Event) {
	f.mu.Lock()
	hs := append([]*handler(nil), f.handlers[ev.Type]...)
	f.mu.Unlock()
	for _, h := range hs {
		h.fn(ev)
	}
}

// SetRendered replaces the rendered feature set reported for a layer.
func (f *Fake) SetRendered(layerID string, feats []Feature) {
	f.mu.Lock()
	f.rendered[layerID] = feats
	f.mu.Unlock()
}

// HasSource reports whether a source with the given id exists.
func (f *Fake) HasSource(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sources[id]
	return ok
}

// Source returns the spec of a source, if present.
func (f *Fake) Source(id string) (SourceSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.sources[id]
	return spec, ok
}

// SourceIDs returns the ids of all live sources, sorted.
func (f *Fake) SourceIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sources))
	for id := range f.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Layer returns the spec of a layer, if present.
func (f *Fake) Layer(id string) (LayerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.layers[id]
	return spec, ok
}

// LayerIDs returns the ids of all live layers in add order.
func (f *Fake) LayerIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// HandlerCount returns the number of live subscriptions for an event.
func (f *Fake) HandlerCount(t EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[t])
}
