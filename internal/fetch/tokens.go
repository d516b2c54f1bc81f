// Package fetch implements the request cancellation layer and the tile
// download client. Every outbound tile fetch is tracked by a token; at
// most one live token exists per URL, large zoom jumps purge all live
// tokens, and the store is capacity-bounded under pan/zoom storms.
package fetch

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token is the cancellation handle for one in-flight fetch.
type Token struct {
	// ID correlates a fetch across log lines.
	ID  uuid.UUID
	URL string

	ctx     context.Context
	cancel  context.CancelFunc
	seq     uint64
	created time.Time
}

// Context returns the context the fetch must run under.
func (t *Token) Context() context.Context { return t.ctx }

// Cancel cancels the fetch. Safe to call more than once.
func (t *Token) Cancel() { t.cancel() }

// StoreConfig tunes the token store.
type StoreConfig struct {
	// HighWater triggers a purge; the purge keeps the LowWater most
	// recently created tokens.
	HighWater int
	LowWater  int
	// ZoomJumpThreshold and ZoomSampleWindow control the bulk-cancel
	// heuristic: a zoom delta above the threshold within the window of
	// the previous sample cancels everything live. This bounds
	// resources; a cancelled fetch means "result unknown", never
	// "tile absent".
	ZoomJumpThreshold float64
	ZoomSampleWindow  time.Duration
}

// Store tracks live tokens by URL.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*Token
	seq    uint64
	cfg    StoreConfig

	lastZoom   float64
	lastZoomAt time.Time
	zoomSeen   bool

	now func() time.Time
}

// NewStore creates a token store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.HighWater <= 0 {
		cfg.HighWater = 100
	}
	if cfg.LowWater <= 0 || cfg.LowWater > cfg.HighWater {
		cfg.LowWater = cfg.HighWater / 2
	}
	if cfg.ZoomJumpThreshold <= 0 {
		cfg.ZoomJumpThreshold = 2
	}
	if cfg.ZoomSampleWindow <= 0 {
		cfg.ZoomSampleWindow = 100 * time.Millisecond
	}
	return &Store{
		tokens: make(map[string]*Token),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Acquire cancels and discards any live token for the URL, then
// creates, stores and returns a fresh one.
func (s *Store) Acquire(parent context.Context, url string) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tokens[url]; ok {
		prev.cancel()
		delete(s.tokens, url)
	}

	ctx, cancel := context.WithCancel(parent)
	s.seq++
	tok := &Token{
		ID:      uuid.New(),
		URL:     url,
		ctx:     ctx,
		cancel:  cancel,
		seq:     s.seq,
		created: s.now(),
	}
	s.tokens[url] = tok
	s.enforceCapLocked()
	return tok
}

// Release removes a completed token from the store, if it is still the
// live one for its URL.
func (s *Store) Release(tok *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tokens[tok.URL]; ok && cur == tok {
		delete(s.tokens, tok.URL)
	}
	tok.cancel()
}

// CancelAll cancels and clears every live token.
func (s *Store) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, tok := range s.tokens {
		tok.cancel()
		delete(s.tokens, url)
	}
}

// Live returns the number of live tokens.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// ObserveZoom feeds a viewport zoom sample into the bulk-cancel
// heuristic.
func (s *Store) ObserveZoom(zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	jump := s.zoomSeen &&
		now.Sub(s.lastZoomAt) <= s.cfg.ZoomSampleWindow &&
		math.Abs(zoom-s.lastZoom) > s.cfg.ZoomJumpThreshold
	s.lastZoom = zoom
	s.lastZoomAt = now
	s.zoomSeen = true

	if jump {
		for url, tok := range s.tokens {
			tok.cancel()
			delete(s.tokens, url)
		}
	}
}

// enforceCapLocked drops all but the LowWater most recently created
// tokens once the store exceeds HighWater. Caller holds s.mu.
func (s *Store) enforceCapLocked() {
	if len(s.tokens) <= s.cfg.HighWater {
		return
	}
	all := make([]*Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		all = append(all, tok)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	for _, tok := range all[s.cfg.LowWater:] {
		tok.cancel()
		delete(s.tokens, tok.URL)
	}
}
