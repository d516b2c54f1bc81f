// Package cluster implements the zoom-gated overlap clustering
// controller: it indexes currently rendered points into groups within
// a small pixel radius so coincident points stay individually
// selectable, and resolves cluster clicks into a zoom-in or a leaf
// listing.
package cluster

import (
	"math"

	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/tile"
)

// Group is one derived overlap group. Groups are recomputed wholesale
// on every re-index and never persisted.
type Group struct {
	ID             int64
	Representative geo.LngLat
	MemberCount    int

	// OR-reduced over members.
	HasLifer       bool
	HasYearTick    bool
	HasCountryTick bool

	Members []tile.PointRecord
}

// GroupByRadius unions points lying within radiusPx of each other on
// screen at the given zoom. Points are projected to world pixel space
// and bucketed into a grid with cell edge radiusPx, so each point only
// checks its own and the eight neighboring cells. IDs are assigned in
// input order starting at firstID.
func GroupByRadius(points []tile.PointRecord, zoom, radiusPx float64, firstID int64) []Group {
	if radiusPx <= 0 || len(points) == 0 {
		return nil
	}

	type cell struct{ cx, cy int }
	buckets := make(map[cell][]int) // cell -> group indices
	groups := make([]Group, 0, len(points))
	anchors := make([][2]float64, 0, len(points)) // projected first member per group

	for _, p := range points {
		px, py := geo.Project(p.Location, zoom)
		cx := int(math.Floor(px / radiusPx))
		cy := int(math.Floor(py / radiusPx))

		joined := -1
	scan:
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				for _, gi := range buckets[cell{cx + dx, cy + dy}] {
					a := anchors[gi]
					if math.Hypot(px-a[0], py-a[1]) <= radiusPx {
						joined = gi
						break scan
					}
				}
			}
		}

		if joined >= 0 {
			g := &groups[joined]
			g.MemberCount++
			g.HasLifer = g.HasLifer || p.IsLifer
			g.HasYearTick = g.HasYearTick || p.IsYearTick
			g.HasCountryTick = g.HasCountryTick || p.IsCountryTick
			g.Members = append(g.Members, p)
			continue
		}

		gi := len(groups)
		groups = append(groups, Group{
			ID:             firstID + int64(gi),
			Representative: p.Location,
			MemberCount:    1,
			HasLifer:       p.IsLifer,
			HasYearTick:    p.IsYearTick,
			HasCountryTick: p.IsCountryTick,
			Members:        []tile.PointRecord{p},
		})
		anchors = append(anchors, [2]float64{px, py})
		buckets[cell{cx, cy}] = append(buckets[cell{cx, cy}], gi)
	}

	return groups
}

// splitZoom returns the lowest zoom at which the group's farthest
// member moves more than radiusPx away from the representative. A
// group whose members are exactly coincident never splits; maxZoom is
// returned for those.
func splitZoom(g Group, currentZoom, maxZoom, radiusPx float64) float64 {
	var maxDist float64
	for _, m := range g.Members {
		if d := geo.ScreenDistance(g.Representative, m.Location, currentZoom); d > maxDist {
			maxDist = d
		}
	}
	if maxDist <= 0 {
		return maxZoom
	}
	// Screen distance doubles per zoom level.
	z := currentZoom + math.Log2(radiusPx/maxDist) + 1e-9
	z = math.Ceil(z)
	if z <= currentZoom {
		z = math.Floor(currentZoom) + 1
	}
	if z > maxZoom {
		z = maxZoom
	}
	return z
}
