package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/birdmap/maplayer/internal/cache"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	payloads, err := cache.New(cache.Config{SizeMB: 8, TTL: time.Minute})
	if err != nil {
		t.Fatalf("failed to create payload cache: %v", err)
	}
	t.Cleanup(func() { payloads.Close() })

	return NewClient(nil, newTestStore(t), payloads), srv
}

func TestFetchTilePlain(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Data-Version", "7")
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))

	var version atomic.Int64
	c.OnVersion = func(v int64) { version.Store(v) }

	data, err := c.FetchTile(context.Background(), srv.URL+"/tiles/1/0/0")
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if !bytes.Contains(data, []byte("FeatureCollection")) {
		t.Errorf("unexpected payload: %s", data)
	}
	if version.Load() != 7 {
		t.Errorf("expected observed version 7, got %d", version.Load())
	}
}

func TestFetchTileGzip(t *testing.T) {
	payload := []byte(`{"type":"FeatureCollection","features":[]}`)
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("expected gzip accept-encoding, got %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write(payload)
		gz.Close()
	}))

	data, err := c.FetchTile(context.Background(), srv.URL+"/tiles/2/1/1")
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("gzip payload mismatch: %s", data)
	}
}

func TestFetchTileCacheHitSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("payload"))
	}))

	url := srv.URL + "/tiles/5/9/9?data_version=1"
	for i := 0; i < 3; i++ {
		if _, err := c.FetchTile(context.Background(), url); err != nil {
			t.Fatalf("FetchTile %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected a single network hit, got %d", hits.Load())
	}
}

func TestFetchTileGone(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))

	var gone atomic.Bool
	c.OnGone = func() { gone.Store(true) }

	_, err := c.FetchTile(context.Background(), srv.URL+"/tiles/3/0/0")
	if !errors.Is(err, ErrUploadDeleted) {
		t.Fatalf("expected ErrUploadDeleted, got %v", err)
	}
	if !gone.Load() {
		t.Error("expected OnGone callback")
	}
}

func TestFetchTileSupersededIsCancelled(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte("late"))
	}))

	url := srv.URL + "/tiles/8/4/4"
	errc := make(chan error, 1)
	go func() {
		_, err := c.FetchTile(context.Background(), url)
		errc <- err
	}()
	<-started

	go func() {
		<-started
		close(release)
	}()
	if _, err := c.FetchTile(context.Background(), url); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("first fetch should be cancelled, got %v", err)
	}
}
