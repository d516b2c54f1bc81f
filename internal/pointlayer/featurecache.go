package pointlayer

import "github.com/birdmap/maplayer/internal/tile"

// FeatureCache is the id→record cache scoped to the current query key.
// It is cleared synchronously on every key change and never merged
// across keys: a lookup may only succeed for ids sourced from the
// currently active key.
type FeatureCache struct {
	records map[int64]tile.PointRecord
}

// NewFeatureCache returns an empty cache.
func NewFeatureCache() *FeatureCache {
	return &FeatureCache{records: make(map[int64]tile.PointRecord)}
}

// Get returns the cached record for id.
func (c *FeatureCache) Get(id int64) (tile.PointRecord, bool) {
	rec, ok := c.records[id]
	return rec, ok
}

// Put stores a record, overwriting a previous entry for the same id.
func (c *FeatureCache) Put(rec tile.PointRecord) {
	c.records[rec.ID] = rec
}

// Clear drops every entry.
func (c *FeatureCache) Clear() {
	c.records = make(map[int64]tile.PointRecord)
}

// Len returns the number of cached records.
func (c *FeatureCache) Len() int {
	return len(c.records)
}
