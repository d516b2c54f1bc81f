package cluster

import (
	"context"
	"errors"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/runloop"
	"github.com/birdmap/maplayer/internal/surface"
	"github.com/birdmap/maplayer/internal/tile"
)

// Config tunes the controller and names the layers it manages.
type Config struct {
	MaxZoom    float64
	GateOffset float64
	RadiusPx   float64
	Debounce   time.Duration
	PageSize   int

	// PrimaryVisibleLayer is hidden (opacity 0, still hit-testable)
	// while clustering is active; PrimaryHitLayer is the invisible
	// larger layer re-indexing queries.
	PrimaryVisibleLayer string
	PrimaryHitLayer     string

	// OverlaySource and its two layers hold the derived groups.
	OverlaySource string
	ClusterLayer  string
	PointLayer    string
}

// Hooks are the controller's outbound collaborators.
type Hooks struct {
	// Notify surfaces a transient user notification.
	Notify func(msg string)
	// PresentLeaves shows a multi-item popup for overlapping leaves.
	PresentLeaves func(leaves []tile.PointRecord)
	// Expander overrides the index-backed expander; leave nil to use
	// the controller's own group snapshot.
	Expander Expander
}

// Controller owns the secondary overlap aggregation. All methods must
// run on the coordinator's run loop; network completions are posted
// back onto it.
type Controller struct {
	surf surface.Surface
	loop *runloop.Loop
	cfg  Config

	index    *indexExpander
	expander Expander
	hooks    Hooks

	active  bool
	pending bool
	timer   *time.Timer
	groups  []Group
	nextID  int64

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a controller in the Inactive state.
func New(surf surface.Surface, loop *runloop.Loop, cfg Config, hooks Hooks) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		surf:   surf,
		loop:   loop,
		cfg:    cfg,
		hooks:  hooks,
		index:  newIndexExpander(cfg.MaxZoom, cfg.RadiusPx),
		ctx:    ctx,
		cancel: cancel,
	}
	c.expander = hooks.Expander
	if c.expander == nil {
		c.expander = c.index
	}
	return c
}

// Active reports whether overlap clustering is on.
func (c *Controller) Active() bool { return c.active }

// Groups returns the current index contents; empty whenever Inactive.
func (c *Controller) Groups() []Group { return c.groups }

// ObserveZoom feeds a zoom sample and transitions between Inactive and
// Active when the gate (MaxZoom − GateOffset) is crossed.
func (c *Controller) ObserveZoom(zoom float64) {
	if c.closed {
		return
	}
	shouldBeActive := zoom >= c.cfg.MaxZoom-c.cfg.GateOffset
	switch {
	case shouldBeActive && !c.active:
		c.enter()
	case !shouldBeActive && c.active:
		c.leave()
	}
}

func (c *Controller) enter() {
	c.active = true
	c.surf.SetLayerOpacity(c.cfg.PrimaryVisibleLayer, 0)
	c.surf.SetLayerOpacity(c.cfg.ClusterLayer, 1)
	c.surf.SetLayerOpacity(c.cfg.PointLayer, 1)
	c.reindex()
}

func (c *Controller) leave() {
	c.active = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
	c.groups = nil
	c.index.update(nil, 0)
	c.surf.SetLayerOpacity(c.cfg.PrimaryVisibleLayer, 1)
	c.surf.SetLayerOpacity(c.cfg.ClusterLayer, 0)
	c.surf.SetLayerOpacity(c.cfg.PointLayer, 0)
	c.surf.SetSourceData(c.cfg.OverlaySource, geojson.NewFeatureCollection())
}

// ScheduleReindex coalesces re-index triggers: every trigger inside
// the debounce window collapses into one run. No-op while Inactive.
func (c *Controller) ScheduleReindex() {
	if !c.active || c.closed || c.pending {
		return
	}
	c.pending = true
	c.timer = time.AfterFunc(c.cfg.Debounce, func() {
		c.loop.Post(func() {
			c.pending = false
			if c.active && !c.closed {
				c.reindex()
			}
		})
	})
}

// reindex rebuilds the overlap index wholesale from the currently
// rendered points. Incremental patching invites stale-membership bugs,
// so the previous index is always discarded.
func (c *Controller) reindex() {
	feats := c.surf.QueryRenderedFeatures(c.cfg.PrimaryHitLayer)

	seen := make(map[int64]struct{}, len(feats))
	points := make([]tile.PointRecord, 0, len(feats))
	for _, f := range feats {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		points = append(points, tile.FromProperties(f.ID, f.LngLat, f.Properties))
	}

	zoom := c.surf.Viewport().Zoom
	groups := GroupByRadius(points, zoom, c.cfg.RadiusPx, c.nextID)
	c.nextID += int64(len(groups))
	c.groups = groups
	c.index.update(groups, zoom)
	c.surf.SetSourceData(c.cfg.OverlaySource, buildOverlay(groups))
}

// buildOverlay converts groups into the secondary source's data.
// Multi-member groups become cluster features; singletons keep their
// record's identity so they render and click like ordinary points.
func buildOverlay(groups []Group) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, g := range groups {
		if g.MemberCount > 1 {
			f := geojson.NewPointFeature([]float64{g.Representative.Lng, g.Representative.Lat})
			f.ID = g.ID
			f.SetProperty("cluster", true)
			f.SetProperty("cluster_id", g.ID)
			f.SetProperty("point_count", g.MemberCount)
			f.SetProperty("has_lifer", g.HasLifer)
			f.SetProperty("has_year_tick", g.HasYearTick)
			f.SetProperty("has_country_tick", g.HasCountryTick)
			fc.AddFeature(f)
			continue
		}
		m := g.Members[0]
		f := geojson.NewPointFeature([]float64{m.Location.Lng, m.Location.Lat})
		f.ID = m.ID
		f.SetProperty("id", m.ID)
		f.SetProperty("name", m.CommonName)
		f.SetProperty("scientific_name", m.ScientificName)
		f.SetProperty("count", m.Count)
		f.SetProperty("observed_at", m.ObservedAt)
		f.SetProperty("lifer", m.IsLifer)
		f.SetProperty("year_tick", m.IsYearTick)
		f.SetProperty("country_tick", m.IsCountryTick)
		fc.AddFeature(f)
	}
	return fc
}

// ClusterClick resolves a click on a cluster feature. Below max zoom
// it navigates to the zoom where the cluster splits; at max zoom, or
// when the expansion query is unavailable, it pages the cluster's full
// membership and presents the leaves in one popup.
func (c *Controller) ClusterClick(clusterID int64, memberCount int, at geo.LngLat) {
	if c.closed {
		return
	}
	zoom := c.surf.Viewport().Zoom
	if zoom >= c.cfg.MaxZoom {
		c.collectLeaves(clusterID, memberCount)
		return
	}

	go func() {
		ez, err := c.expander.ExpansionZoom(c.ctx, clusterID)
		c.loop.Post(func() {
			if c.closed {
				return
			}
			switch {
			case errors.Is(err, ErrUnavailable):
				c.collectLeaves(clusterID, memberCount)
			case err != nil:
				c.notify("Couldn't expand the group. Try zooming in.")
			default:
				c.surf.EaseTo(at, ez)
			}
		})
	}()
}

// collectLeaves pages membership (offset-paginated) until memberCount
// leaves are collected or a page comes back empty, then presents all
// collected leaves at once. Any page failure aborts the whole action.
func (c *Controller) collectLeaves(clusterID int64, memberCount int) {
	go func() {
		var collected []tile.PointRecord
		offset := 0
		for {
			page, err := c.expander.Leaves(c.ctx, clusterID, c.cfg.PageSize, offset)
			if err != nil {
				c.loop.Post(func() {
					if !c.closed {
						c.notify("Couldn't load the observations in this group.")
					}
				})
				return
			}
			collected = append(collected, page...)
			if len(page) == 0 || len(collected) >= memberCount {
				break
			}
			offset += c.cfg.PageSize
		}
		if len(collected) > memberCount {
			collected = collected[:memberCount]
		}
		c.loop.Post(func() {
			if !c.closed && c.hooks.PresentLeaves != nil {
				c.hooks.PresentLeaves(collected)
			}
		})
	}()
}

func (c *Controller) notify(msg string) {
	if c.hooks.Notify != nil {
		c.hooks.Notify(msg)
	}
}

// Close tears the controller down. Idempotent.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.groups = nil
	c.index.update(nil, 0)
}
