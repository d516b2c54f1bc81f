package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/birdmap/maplayer/internal/tile"
)

// ErrUnavailable reports that the expansion-zoom query cannot be
// answered for a cluster; callers fall back to leaf enumeration.
var ErrUnavailable = errors.New("cluster expansion unavailable")

// Expander answers cluster expansion queries. Both calls are
// suspension points: they accept a context and may fail.
type Expander interface {
	// ExpansionZoom returns the zoom level at which the cluster
	// splits, or ErrUnavailable when that cannot be determined.
	ExpansionZoom(ctx context.Context, clusterID int64) (float64, error)
	// Leaves returns one page of the cluster's member records.
	Leaves(ctx context.Context, clusterID int64, limit, offset int) ([]tile.PointRecord, error)
}

// indexExpander answers expansion queries from the controller's own
// group snapshot. Cluster ids are index-local, so this is the one
// expander that can resolve them.
type indexExpander struct {
	mu      sync.Mutex
	groups  map[int64]Group
	zoom    float64
	maxZoom float64
	radius  float64
}

func newIndexExpander(maxZoom, radius float64) *indexExpander {
	return &indexExpander{
		groups:  make(map[int64]Group),
		maxZoom: maxZoom,
		radius:  radius,
	}
}

// update replaces the snapshot wholesale after a re-index.
func (e *indexExpander) update(groups []Group, zoom float64) {
	snap := make(map[int64]Group, len(groups))
	for _, g := range groups {
		snap[g.ID] = g
	}
	e.mu.Lock()
	e.groups = snap
	e.zoom = zoom
	e.mu.Unlock()
}

func (e *indexExpander) ExpansionZoom(_ context.Context, clusterID int64) (float64, error) {
	e.mu.Lock()
	g, ok := e.groups[clusterID]
	zoom := e.zoom
	e.mu.Unlock()
	if !ok {
		return 0, ErrUnavailable
	}
	return splitZoom(g, zoom, e.maxZoom, e.radius), nil
}

func (e *indexExpander) Leaves(_ context.Context, clusterID int64, limit, offset int) ([]tile.PointRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid leaf page limit %d", limit)
	}
	e.mu.Lock()
	g, ok := e.groups[clusterID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown cluster %d", clusterID)
	}
	if offset >= len(g.Members) {
		return nil, nil
	}
	end := offset + limit
	if end > len(g.Members) {
		end = len(g.Members)
	}
	page := make([]tile.PointRecord, end-offset)
	copy(page, g.Members[offset:end])
	return page, nil
}
