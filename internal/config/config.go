// Package config handles configuration loading for the map layer core.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full layer configuration.
type Config struct {
	Map    MapConfig    `yaml:"map"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Lookup LookupConfig `yaml:"lookup"`
}

// MapConfig contains viewport and clustering settings.
type MapConfig struct {
	MaxZoom float64 `yaml:"max_zoom"`
	// ClusterGateOffset is subtracted from MaxZoom to obtain the zoom
	// at which overlap clustering activates.
	ClusterGateOffset float64 `yaml:"cluster_gate_offset"`
	ClusterRadiusPx   float64 `yaml:"cluster_radius_px"`
	ReindexDebounceMS int     `yaml:"reindex_debounce_ms"`
	LeafPageSize      int     `yaml:"leaf_page_size"`
}

// FetchConfig contains tile fetch and cancellation settings.
type FetchConfig struct {
	TilePathTemplate string `yaml:"tile_path_template"`
	// TokenHighWater triggers a purge of the token store; the purge
	// keeps the TokenLowWater most recently created tokens.
	TokenHighWater int `yaml:"token_high_water"`
	TokenLowWater  int `yaml:"token_low_water"`
	// ZoomJumpThreshold is the zoom delta that, observed within
	// ZoomSampleWindowMS of the previous sample, cancels all live
	// fetches. A resource bound, not a correctness requirement.
	ZoomJumpThreshold  float64 `yaml:"zoom_jump_threshold"`
	ZoomSampleWindowMS int     `yaml:"zoom_sample_window_ms"`
	PayloadCacheMB     int     `yaml:"payload_cache_mb"`
	PayloadTTLMinutes  int     `yaml:"payload_ttl_minutes"`
}

// LookupConfig contains species enrichment settings.
type LookupConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MemoSize       int    `yaml:"memo_size"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration. The map defaults
// match the interaction constants the layer was tuned with: clustering
// activates one level below max zoom, re-indexing debounces at 120ms
// and leaf paging reads 25 records per request.
func DefaultConfig() *Config {
	return &Config{
		Map: MapConfig{
			MaxZoom:           22,
			ClusterGateOffset: 1,
			ClusterRadiusPx:   26,
			ReindexDebounceMS: 120,
			LeafPageSize:      25,
		},
		Fetch: FetchConfig{
			TilePathTemplate:   "/tiles/{z}/{x}/{y}",
			TokenHighWater:     100,
			TokenLowWater:      50,
			ZoomJumpThreshold:  2,
			ZoomSampleWindowMS: 100,
			PayloadCacheMB:     64,
			PayloadTTLMinutes:  10,
		},
		Lookup: LookupConfig{
			Endpoint:       "/species",
			TimeoutSeconds: 10,
			MemoSize:       512,
		},
	}
}

// ReindexDebounce returns the re-index debounce as a duration.
func (m MapConfig) ReindexDebounce() time.Duration {
	return time.Duration(m.ReindexDebounceMS) * time.Millisecond
}

// ZoomSampleWindow returns the zoom sample window as a duration.
func (f FetchConfig) ZoomSampleWindow() time.Duration {
	return time.Duration(f.ZoomSampleWindowMS) * time.Millisecond
}

// Timeout returns the lookup timeout as a duration.
func (l LookupConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Map.MaxZoom == 0 {
		cfg.Map.MaxZoom = defaults.Map.MaxZoom
	}
	if cfg.Map.ClusterGateOffset == 0 {
		cfg.Map.ClusterGateOffset = defaults.Map.ClusterGateOffset
	}
	if cfg.Map.ClusterRadiusPx == 0 {
		cfg.Map.ClusterRadiusPx = defaults.Map.ClusterRadiusPx
	}
	if cfg.Map.ReindexDebounceMS == 0 {
		cfg.Map.ReindexDebounceMS = defaults.Map.ReindexDebounceMS
	}
	if cfg.Map.LeafPageSize == 0 {
		cfg.Map.LeafPageSize = defaults.Map.LeafPageSize
	}
	if cfg.Fetch.TilePathTemplate == "" {
		cfg.Fetch.TilePathTemplate = defaults.Fetch.TilePathTemplate
	}
	if cfg.Fetch.TokenHighWater == 0 {
		cfg.Fetch.TokenHighWater = defaults.Fetch.TokenHighWater
	}
	if cfg.Fetch.TokenLowWater == 0 {
		cfg.Fetch.TokenLowWater = defaults.Fetch.TokenLowWater
	}
	if cfg.Fetch.ZoomJumpThreshold == 0 {
		cfg.Fetch.ZoomJumpThreshold = defaults.Fetch.ZoomJumpThreshold
	}
	if cfg.Fetch.ZoomSampleWindowMS == 0 {
		cfg.Fetch.ZoomSampleWindowMS = defaults.Fetch.ZoomSampleWindowMS
	}
	if cfg.Fetch.PayloadCacheMB == 0 {
		cfg.Fetch.PayloadCacheMB = defaults.Fetch.PayloadCacheMB
	}
	if cfg.Fetch.PayloadTTLMinutes == 0 {
		cfg.Fetch.PayloadTTLMinutes = defaults.Fetch.PayloadTTLMinutes
	}
	if cfg.Lookup.Endpoint == "" {
		cfg.Lookup.Endpoint = defaults.Lookup.Endpoint
	}
	if cfg.Lookup.TimeoutSeconds == 0 {
		cfg.Lookup.TimeoutSeconds = defaults.Lookup.TimeoutSeconds
	}
	if cfg.Lookup.MemoSize == 0 {
		cfg.Lookup.MemoSize = defaults.Lookup.MemoSize
	}
}
