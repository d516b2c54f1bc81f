// Package cache provides the byte-payload cache backing tile fetches.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

// Config contains payload cache configuration.
type Config struct {
	SizeMB int
	TTL    time.Duration
}

// Payloads caches raw tile payloads keyed by the full request URL.
// The URL already encodes the data_version token, so a server-side
// edit naturally misses the cache.
type Payloads struct {
	c *bigcache.BigCache
}

// New creates a payload cache.
func New(cfg Config) (*Payloads, error) {
	bcConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TTL,
		CleanWindow:        cfg.TTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.SizeMB,
		Verbose:            false,
	}

	c, err := bigcache.New(context.Background(), bcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload cache: %w", err)
	}
	return &Payloads{c: c}, nil
}

// Get retrieves a payload from cache.
func (p *Payloads) Get(key string) ([]byte, bool) {
	data, err := p.c.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a payload in cache.
func (p *Payloads) Set(key string, data []byte) error {
	return p.c.Set(key, data)
}

// Len returns the number of cached payloads.
func (p *Payloads) Len() int {
	return p.c.Len()
}

// Stats returns cache statistics.
func (p *Payloads) Stats() map[string]interface{} {
	return map[string]interface{}{
		"payload_cache_len": p.c.Len(),
		"payload_cache_cap": p.c.Capacity(),
	}
}

// Close closes the cache.
func (p *Payloads) Close() error {
	return p.c.Close()
}
