package pointlayer

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/birdmap/maplayer/internal/config"
	"github.com/birdmap/maplayer/internal/detail"
	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/species"
	"github.com/birdmap/maplayer/internal/surface"
	"github.com/birdmap/maplayer/internal/tile"
)

type popupHost struct {
	mu     sync.Mutex
	mounts []detail.Content
}

type popupHandle struct{}

func (popupHandle) Close() {}

func (h *popupHost) Mount(c detail.Content, _ geo.LngLat) detail.Handle {
	h.mu.Lock()
	h.mounts = append(h.mounts, c)
	h.mu.Unlock()
	return popupHandle{}
}

func (h *popupHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mounts)
}

type testEnv struct {
	surf  *surface.Fake
	coord *Coordinator
	host  *popupHost
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, cb Callbacks) *testEnv {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/species") {
			json.NewEncoder(w).Encode(species.Info{
				CommonName:           r.URL.Query().Get("name"),
				ExternalReferenceURL: "https://example.org",
			})
			return
		}
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Fetch.TilePathTemplate = srv.URL + "/tiles/{z}/{x}/{y}"
	cfg.Lookup.Endpoint = srv.URL + "/species"
	cfg.Fetch.PayloadCacheMB = 8

	surf := surface.NewFake()
	host := &popupHost{}
	coord, err := New(Options{
		Config:    cfg,
		Surface:   surf,
		Host:      host,
		Callbacks: cb,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(coord.Dispose)

	return &testEnv{surf: surf, coord: coord, host: host, srv: srv}
}

func (e *testEnv) settle() {
	e.coord.Loop().Flush()
}

func renderedPoint(id int64, lng, lat float64, props map[string]interface{}) surface.Feature {
	if props == nil {
		props = map[string]interface{}{}
	}
	return surface.Feature{
		ID:         id,
		LngLat:     geo.LngLat{Lng: lng, Lat: lat},
		Layer:      LayerHit,
		Properties: props,
	}
}

func TestSetParamsCreatesSingleSource(t *testing.T) {
	env := newTestEnv(t, Callbacks{})

	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	if !env.surf.HasSource(SourceID) {
		t.Fatal("expected primary source")
	}
	spec, _ := env.surf.Source(SourceID)
	if !strings.Contains(spec.Tiles, "data_version=1") {
		t.Errorf("source URL missing version: %s", spec.Tiles)
	}
	wantLayers := []string{LayerVisible, LayerHit, LayerOverlayGroup, LayerOverlayPoint}
	got := env.surf.LayerIDs()
	if len(got) != len(wantLayers) {
		t.Fatalf("expected layers %v, got %v", wantLayers, got)
	}
}

func TestSetParamsSameKeyIsNoop(t *testing.T) {
	env := newTestEnv(t, Callbacks{})

	p := Params{UploadID: 1, TickSelection: []string{"lifer", "year"}, DataVersion: 1}
	env.coord.SetParams(p)
	env.settle()

	// Same selection, different ordering: identical key.
	p2 := p
	p2.TickSelection = []string{"year", "lifer"}
	env.coord.SetParams(p2)
	env.settle()

	if len(env.surf.RemovedSources) != 0 {
		t.Errorf("equal key must not rebuild the source, removals: %v", env.surf.RemovedSources)
	}
}

func TestSetParamsSequenceLastKeyWins(t *testing.T) {
	env := newTestEnv(t, Callbacks{})

	for v := int64(1); v <= 4; v++ {
		env.coord.SetParams(Params{UploadID: 1, DataVersion: v})
	}
	env.settle()

	ids := env.surf.SourceIDs()
	if len(ids) != 2 { // primary + overlay
		t.Fatalf("expected exactly primary and overlay sources, got %v", ids)
	}
	spec, _ := env.surf.Source(SourceID)
	if !strings.Contains(spec.Tiles, "data_version=4") {
		t.Errorf("expected final key's source, got %s", spec.Tiles)
	}
	if env.coord.Cache().Len() != 0 {
		t.Errorf("cache must hold nothing from prior keys, has %d", env.coord.Cache().Len())
	}
}

func TestSwapPreservesViewportAndCancelsFetches(t *testing.T) {
	env := newTestEnv(t, Callbacks{})

	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	vp := surface.Viewport{
		Center:  geo.LngLat{Lng: 24.9384, Lat: 60.1699},
		Zoom:    10,
		Bearing: 17.5,
		Pitch:   30,
	}
	env.surf.JumpTo(vp)

	// Seed the cache and a simulated in-flight fetch under key 1.
	env.coord.Loop().Post(func() {
		env.coord.Cache().Put(tile.PointRecord{ID: 11, Location: vp.Center, CommonName: "Old"})
	})
	tok := env.coord.Tokens().Acquire(context.Background(), "/tiles/10/1/1")
	env.settle()

	env.coord.SetParams(Params{UploadID: 1, TickSelection: []string{"lifer"}, DataVersion: 1})
	env.settle()

	if got := env.surf.Viewport(); got != vp {
		t.Errorf("viewport not restored exactly: %+v != %+v", got, vp)
	}
	select {
	case <-tok.Context().Done():
	default:
		t.Error("stale fetch should be cancelled by the swap")
	}
	if env.coord.Tokens().Live() != 0 {
		t.Errorf("expected no live tokens after swap, got %d", env.coord.Tokens().Live())
	}
	if _, ok := env.coord.Cache().Get(11); ok {
		t.Error("cache entry from the previous key must be gone")
	}
	spec, _ := env.surf.Source(SourceID)
	if !strings.Contains(spec.Tiles, "tick_filter=lifer") {
		t.Errorf("new source should carry the new selection: %s", spec.Tiles)
	}
}

func TestSourceDataRefreshesCache(t *testing.T) {
	env := newTestEnv(t, Callbacks{})

	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	env.surf.SetRendered(LayerHit, []surface.Feature{
		renderedPoint(21, 24.9, 60.1, map[string]interface{}{"name": "Smew", "lifer": 1}),
		renderedPoint(22, 24.8, 60.0, map[string]interface{}{"name": "Garganey"}),
	})
	env.surf.Emit(surface.Event{Type: surface.EventSourceData, SourceID: SourceID})
	env.settle()

	rec, ok := env.coord.Cache().Get(21)
	if !ok || rec.CommonName != "Smew" || !rec.IsLifer {
		t.Errorf("expected cached Smew with lifer flag, got %+v ok=%v", rec, ok)
	}
	if _, ok := env.coord.Cache().Get(22); !ok {
		t.Error("expected cached Garganey")
	}
}

func TestClickResolutionPriority(t *testing.T) {
	var clicked []tile.PointRecord
	env := newTestEnv(t, Callbacks{
		OnFeatureClick: func(rec tile.PointRecord) { clicked = append(clicked, rec) },
	})

	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	env.surf.Emit(surface.Event{Type: surface.EventClick, Features: []surface.Feature{
		renderedPoint(1, 24.9, 60.1, map[string]interface{}{"name": "Plain", "count": float64(1)}),
		renderedPoint(2, 24.9, 60.1, map[string]interface{}{"name": "Year", "year_tick": "1"}),
		renderedPoint(3, 24.9, 60.1, map[string]interface{}{"name": "Lifer", "lifer": float64(1)}),
		renderedPoint(4, 24.9, 60.1, map[string]interface{}{"name": "Country", "country_tick": 1}),
	}})
	env.settle()

	if len(clicked) != 1 {
		t.Fatalf("expected one click resolution, got %d", len(clicked))
	}
	if clicked[0].CommonName != "Lifer" || !clicked[0].IsLifer {
		t.Errorf("priority should pick the lifer, got %+v", clicked[0])
	}
	if _, ok := env.coord.Cache().Get(3); !ok {
		t.Error("chosen feature must be cached before dispatch")
	}
}

func TestNavigateToPointValidation(t *testing.T) {
	env := newTestEnv(t, Callbacks{})
	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	loc := geo.LngLat{Lng: 24.9, Lat: 60.1}
	env.coord.Loop().Post(func() {
		env.coord.Cache().Put(tile.PointRecord{ID: 77, Location: loc, CommonName: "Whinchat", Count: 1})
	})
	env.settle()

	t.Run("cachedIDOpensPopup", func(t *testing.T) {
		env.coord.NavigateToPoint(77, 60.1, 24.9)
		env.settle()
		if env.host.count() == 0 {
			t.Error("expected a popup for a cached id")
		}
		if len(env.surf.EaseCalls) == 0 {
			t.Error("expected navigation")
		}
	})

	t.Run("unknownIDIsNoop", func(t *testing.T) {
		before := env.host.count()
		env.coord.NavigateToPoint(99999, 60.1, 24.9)
		env.settle()
		if env.host.count() != before {
			t.Error("unknown id must not open a popup")
		}
	})

	t.Run("invalidInputsRejected", func(t *testing.T) {
		before := env.host.count()
		eases := len(env.surf.EaseCalls)
		env.coord.NavigateToPoint(77, 91, 24.9)
		env.coord.NavigateToPoint(77, 60.1, math.NaN())
		env.coord.NavigateToPoint(math.Inf(1), 60.1, 24.9)
		env.coord.NavigateToPoint(77.5, 60.1, 24.9)
		env.settle()
		if env.host.count() != before {
			t.Error("invalid input must not open a popup")
		}
		if len(env.surf.EaseCalls) != eases {
			t.Error("invalid input must not navigate")
		}
	})
}

func TestDisposeIdempotent(t *testing.T) {
	env := newTestEnv(t, Callbacks{})
	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	env.coord.Dispose()
	sources := env.surf.SourceIDs()
	layers := env.surf.LayerIDs()
	removed := len(env.surf.RemovedSources)

	env.coord.Dispose()

	if got := env.surf.SourceIDs(); len(got) != len(sources) {
		t.Errorf("second dispose changed sources: %v", got)
	}
	if got := env.surf.LayerIDs(); len(got) != len(layers) {
		t.Errorf("second dispose changed layers: %v", got)
	}
	if len(env.surf.RemovedSources) != removed {
		t.Error("second dispose must not remove anything again")
	}
	if len(sources) != 0 || len(layers) != 0 {
		t.Errorf("dispose should tear down everything, left %v %v", sources, layers)
	}
	if env.surf.HandlerCount(surface.EventClick) != 0 {
		t.Error("dispose should unsubscribe handlers")
	}
}

func TestOnMapReadyDeliversNavigate(t *testing.T) {
	var navigate func(id, lat, lng float64)
	env := newTestEnv(t, Callbacks{
		OnMapReady: func(n func(id, lat, lng float64)) { navigate = n },
	})
	if navigate == nil {
		t.Fatal("expected navigate entry point at map-ready")
	}
	env.coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	env.settle()

	// An uncached id through the host-facing entry point: silent no-op.
	navigate(5, 60, 24)
	env.settle()
	if env.host.count() != 0 {
		t.Error("expected no popup for uncached id")
	}
}

func TestVersionAndGoneCallbacks(t *testing.T) {
	var version int64
	var deleted bool
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("X-Data-Version", "12")
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Fetch.TilePathTemplate = srv.URL + "/tiles/{z}/{x}/{y}"
	cfg.Lookup.Endpoint = srv.URL + "/species"

	surf := surface.NewFake()
	coord, err := New(Options{
		Config:  cfg,
		Surface: surf,
		Host:    &popupHost{},
		Callbacks: Callbacks{
			OnRemoteVersionObserved: func(v int64) { mu.Lock(); version = v; mu.Unlock() },
			OnUploadDeleted:         func() { mu.Lock(); deleted = true; mu.Unlock() },
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer coord.Dispose()

	coord.SetParams(Params{UploadID: 1, DataVersion: 1})
	coord.Loop().Flush()

	spec, _ := surf.Source(SourceID)
	if _, err := spec.Fetch(context.Background(), srv.URL+"/tiles/1/0/0"); err != nil {
		t.Fatalf("tile fetch: %v", err)
	}
	if _, err := spec.Fetch(context.Background(), srv.URL+"/tiles/gone/0/0"); err == nil {
		t.Fatal("expected error for deleted upload")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := version == 12 && deleted
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("callbacks not observed: version=%d deleted=%v", version, deleted)
}
