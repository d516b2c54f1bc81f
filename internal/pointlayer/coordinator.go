package pointlayer

import (
	"log"
	"math"
	"net/http"
	"time"

	"github.com/birdmap/maplayer/internal/cache"
	"github.com/birdmap/maplayer/internal/cluster"
	"github.com/birdmap/maplayer/internal/config"
	"github.com/birdmap/maplayer/internal/detail"
	"github.com/birdmap/maplayer/internal/fetch"
	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/runloop"
	"github.com/birdmap/maplayer/internal/species"
	"github.com/birdmap/maplayer/internal/surface"
	"github.com/birdmap/maplayer/internal/tile"
)

// Layer and source ids owned by the coordinator. The hit layer is a
// larger invisible circle above the visible one, so near-misses still
// resolve to a point.
const (
	SourceID          = "observations"
	LayerVisible      = "observations-points"
	LayerHit          = "observations-hit"
	OverlaySourceID   = "observations-overlap"
	LayerOverlayGroup = "observations-overlap-clusters"
	LayerOverlayPoint = "observations-overlap-points"

	visibleRadiusPx = 6
	hitRadiusPx     = 14
)

// Callbacks are the host-facing notifications.
type Callbacks struct {
	// OnFeatureClick fires after a click resolved to one record.
	OnFeatureClick func(rec tile.PointRecord)
	// OnMapReady hands the host the programmatic navigate entry point.
	OnMapReady func(navigate func(id, lat, lng float64))
	// OnRemoteVersionObserved fires with the data version the tile
	// server reports.
	OnRemoteVersionObserved func(version int64)
	// OnUploadDeleted fires when the server reports the upload gone.
	OnUploadDeleted func()
	// Notify surfaces a transient user notification.
	Notify func(msg string)
}

// Options configures a coordinator.
type Options struct {
	Config  *config.Config
	Surface surface.Surface
	// Host mounts detail popups.
	Host detail.Host
	// HTTPClient may be nil for a default client.
	HTTPClient *http.Client
	// Memo may be shared across coordinators; nil creates one sized
	// per the config.
	Memo      *species.Memo
	Callbacks Callbacks
}

// Coordinator owns the single live point-tile source of one mounted
// map instance. All internal state is confined to its run loop.
type Coordinator struct {
	cfg  *config.Config
	surf surface.Surface
	loop *runloop.Loop
	cb   Callbacks

	tokens   *fetch.Store
	client   *fetch.Client
	payloads *cache.Payloads

	clusterCtl *cluster.Controller
	presenter  *detail.Presenter

	cache      *FeatureCache
	key        string
	haveSource bool
	disposed   bool
	unsubs     []func()
}

// New wires a coordinator to a surface. The surface must be ready for
// style mutations when New is called.
func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	payloads, err := cache.New(cache.Config{
		SizeMB: cfg.Fetch.PayloadCacheMB,
		TTL:    time.Duration(cfg.Fetch.PayloadTTLMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	memo := opts.Memo
	if memo == nil {
		memo, err = species.NewMemo(cfg.Lookup.MemoSize)
		if err != nil {
			payloads.Close()
			return nil, err
		}
	}

	c := &Coordinator{
		cfg:   cfg,
		surf:  opts.Surface,
		loop:  runloop.New(),
		cb:    opts.Callbacks,
		cache: NewFeatureCache(),
	}
	if c.cb.Notify == nil {
		c.cb.Notify = func(msg string) { log.Printf("notice: %s", msg) }
	}

	c.tokens = fetch.NewStore(fetch.StoreConfig{
		HighWater:         cfg.Fetch.TokenHighWater,
		LowWater:          cfg.Fetch.TokenLowWater,
		ZoomJumpThreshold: cfg.Fetch.ZoomJumpThreshold,
		ZoomSampleWindow:  cfg.Fetch.ZoomSampleWindow(),
	})
	c.payloads = payloads
	c.client = fetch.NewClient(opts.HTTPClient, c.tokens, payloads)
	c.client.OnVersion = func(v int64) {
		if c.cb.OnRemoteVersionObserved != nil {
			c.cb.OnRemoteVersionObserved(v)
		}
	}
	c.client.OnGone = func() {
		if c.cb.OnUploadDeleted != nil {
			c.cb.OnUploadDeleted()
		}
	}

	lookup := species.NewClient(cfg.Lookup.Endpoint, opts.HTTPClient, memo)
	c.presenter = detail.New(opts.Host, c.loop, lookup, cfg.Lookup.Timeout())

	c.clusterCtl = cluster.New(opts.Surface, c.loop, cluster.Config{
		MaxZoom:             cfg.Map.MaxZoom,
		GateOffset:          cfg.Map.ClusterGateOffset,
		RadiusPx:            cfg.Map.ClusterRadiusPx,
		Debounce:            cfg.Map.ReindexDebounce(),
		PageSize:            cfg.Map.LeafPageSize,
		PrimaryVisibleLayer: LayerVisible,
		PrimaryHitLayer:     LayerHit,
		OverlaySource:       OverlaySourceID,
		ClusterLayer:        LayerOverlayGroup,
		PointLayer:          LayerOverlayPoint,
	}, cluster.Hooks{
		Notify:        c.cb.Notify,
		PresentLeaves: c.presenter.ShowLeaves,
	})

	c.subscribe()

	if c.cb.OnMapReady != nil {
		c.cb.OnMapReady(c.NavigateToPoint)
	}
	return c, nil
}

func (c *Coordinator) subscribe() {
	off := c.surf.On(surface.EventZoom, func(ev surface.Event) {
		// The token store is its own synchronization domain; feeding
		// the zoom sample immediately keeps the bulk-cancel heuristic
		// close to the interaction.
		c.tokens.ObserveZoom(ev.Zoom)
		c.loop.Post(func() {
			if !c.disposed {
				c.clusterCtl.ObserveZoom(ev.Zoom)
			}
		})
	})
	c.unsubs = append(c.unsubs, off)

	off = c.surf.On(surface.EventMoveEnd, func(ev surface.Event) {
		c.loop.Post(func() {
			if !c.disposed {
				c.clusterCtl.ScheduleReindex()
			}
		})
	})
	c.unsubs = append(c.unsubs, off)

	off = c.surf.On(surface.EventSourceData, func(ev surface.Event) {
		if ev.SourceID != SourceID {
			return
		}
		c.loop.Post(func() {
			if c.disposed {
				return
			}
			c.refreshCache()
			c.clusterCtl.ScheduleReindex()
		})
	})
	c.unsubs = append(c.unsubs, off)

	off = c.surf.On(surface.EventClick, func(ev surface.Event) {
		c.loop.Post(func() {
			if !c.disposed {
				c.handleClick(ev)
			}
		})
	})
	c.unsubs = append(c.unsubs, off)
}

// SetParams maps new filter/selection state onto the tile source. The
// source is swapped exactly when the canonical key changes; an
// unchanged key is a no-op. Concurrent calls are last-writer-wins.
func (c *Coordinator) SetParams(p Params) {
	c.loop.Post(func() {
		if c.disposed {
			return
		}
		key := p.Key()
		if !c.haveSource {
			c.addSourceAndLayers(p)
			c.key = key
			c.haveSource = true
			return
		}
		if key == c.key {
			return
		}

		// Capture the exact camera, rebuild, then restore it with no
		// animation.
		vp := c.surf.Viewport()
		c.removeSourceAndLayers()
		c.tokens.CancelAll()
		c.cache.Clear()
		c.addSourceAndLayers(p)
		c.key = key
		c.surf.JumpTo(vp)
	})
}

func (c *Coordinator) addSourceAndLayers(p Params) {
	tileURL := p.TileURL(c.cfg.Fetch.TilePathTemplate)
	if err := c.surf.AddSource(SourceID, surface.SourceSpec{
		Tiles: tileURL,
		Fetch: c.client.FetchTile,
	}); err != nil {
		log.Printf("warning: add source: %v", err)
		return
	}
	c.surf.AddLayer(surface.LayerSpec{
		ID: LayerVisible, Source: SourceID, RadiusPx: visibleRadiusPx, Opacity: 1, Visible: true,
	})
	c.surf.AddLayer(surface.LayerSpec{
		ID: LayerHit, Source: SourceID, RadiusPx: hitRadiusPx, Opacity: 0,
	})
	c.ensureOverlay()
}

// ensureOverlay adds the secondary cluster source and layers once;
// they persist across source swaps because their data is index-owned,
// not key-owned.
func (c *Coordinator) ensureOverlay() {
	if err := c.surf.AddSource(OverlaySourceID, surface.SourceSpec{}); err != nil {
		return
	}
	c.surf.AddLayer(surface.LayerSpec{
		ID: LayerOverlayGroup, Source: OverlaySourceID, RadiusPx: hitRadiusPx, Opacity: 0,
	})
	c.surf.AddLayer(surface.LayerSpec{
		ID: LayerOverlayPoint, Source: OverlaySourceID, RadiusPx: visibleRadiusPx, Opacity: 0,
	})
}

func (c *Coordinator) removeSourceAndLayers() {
	// Removal order mirrors add order in reverse; errors are ignored
	// because the surface may already have dropped its style.
	c.surf.RemoveLayer(LayerHit)
	c.surf.RemoveLayer(LayerVisible)
	c.surf.RemoveSource(SourceID)
}

// refreshCache re-caches every currently rendered point. Entries
// always belong to the current key: the cache is cleared before a new
// source exists, so rendered features can only come from it.
func (c *Coordinator) refreshCache() {
	for _, f := range c.surf.QueryRenderedFeatures(LayerHit) {
		c.cache.Put(tile.FromProperties(f.ID, f.LngLat, f.Properties))
	}
}

// handleClick resolves a click. While clustering is active a cluster
// feature wins; otherwise the best point under the cursor is picked by
// priority lifer > country tick > year tick > plain.
func (c *Coordinator) handleClick(ev surface.Event) {
	if c.clusterCtl.Active() {
		for _, f := range ev.Features {
			if f.Layer != LayerOverlayGroup {
				continue
			}
			if isCluster, _ := f.Properties["cluster"].(bool); !isCluster {
				continue
			}
			count := tileCount(f.Properties["point_count"])
			c.clusterCtl.ClusterClick(f.ID, count, f.LngLat)
			return
		}
	}

	rec, ok := resolveClick(ev.Features)
	if !ok {
		return
	}
	c.cache.Put(rec)
	if c.cb.OnFeatureClick != nil {
		c.cb.OnFeatureClick(rec)
	}
	c.presenter.ShowPoint(rec)
}

// resolveClick picks the highest-priority point among the features
// under the cursor, normalizing flag encodings exactly once.
func resolveClick(feats []surface.Feature) (tile.PointRecord, bool) {
	best := tile.PointRecord{}
	bestRank := -1
	for _, f := range feats {
		switch f.Layer {
		case LayerVisible, LayerHit, LayerOverlayPoint:
		default:
			continue
		}
		rec := tile.FromProperties(f.ID, f.LngLat, f.Properties)
		rank := 0
		switch {
		case rec.IsLifer:
			rank = 3
		case rec.IsCountryTick:
			rank = 2
		case rec.IsYearTick:
			rank = 1
		}
		if rank > bestRank {
			best, bestRank = rec, rank
		}
	}
	return best, bestRank >= 0
}

func tileCount(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

// NavigateToPoint programmatically opens the detail popup for a cached
// record. Out-of-range or non-finite inputs are rejected synchronously
// with a logged warning; an id missing from the cache is a silent
// no-op.
func (c *Coordinator) NavigateToPoint(id, lat, lng float64) {
	if !isFinite(id) || id != math.Trunc(id) {
		log.Printf("warning: navigateToPoint rejected id %v", id)
		return
	}
	loc := geo.LngLat{Lng: lng, Lat: lat}
	if !loc.Valid() {
		log.Printf("warning: navigateToPoint rejected coordinates (%v, %v)", lat, lng)
		return
	}
	c.loop.Post(func() {
		if c.disposed {
			return
		}
		rec, ok := c.cache.Get(int64(id))
		if !ok {
			return
		}
		c.surf.EaseTo(loc, c.surf.Viewport().Zoom)
		c.presenter.ShowPoint(rec)
	})
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Cache exposes the feature cache for tests and diagnostics.
func (c *Coordinator) Cache() *FeatureCache { return c.cache }

// Tokens exposes the token store for tests and diagnostics.
func (c *Coordinator) Tokens() *fetch.Store { return c.tokens }

// Loop exposes the run loop so embedders can sequence with the
// coordinator's turns.
func (c *Coordinator) Loop() *runloop.Loop { return c.loop }

// Cluster exposes the overlap cluster controller.
func (c *Coordinator) Cluster() *cluster.Controller { return c.clusterCtl }

// Dispose tears down every owned layer, source and listener.
// Idempotent, and a safe no-op when the surface already dropped its
// style.
func (c *Coordinator) Dispose() {
	c.loop.Post(func() {
		if c.disposed {
			return
		}
		c.disposed = true

		for _, off := range c.unsubs {
			off()
		}
		c.unsubs = nil

		c.presenter.Close()
		c.clusterCtl.Close()
		c.tokens.CancelAll()

		if c.haveSource {
			c.removeSourceAndLayers()
			c.surf.RemoveLayer(LayerOverlayGroup)
			c.surf.RemoveLayer(LayerOverlayPoint)
			c.surf.RemoveSource(OverlaySourceID)
			c.haveSource = false
		}
		c.cache.Clear()
		c.payloads.Close()
	})
	c.loop.Flush()
	c.loop.Stop()
}
