package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/birdmap/maplayer/internal/cache"
)

// ErrUploadDeleted indicates the server reports the upload behind the
// tile source no longer exists.
var ErrUploadDeleted = errors.New("upload deleted")

// Client downloads tile payloads with per-URL cancellation and a
// payload cache in front of the network.
type Client struct {
	http     *http.Client
	tokens   *Store
	payloads *cache.Payloads

	// OnVersion is invoked with the data version the server reports on
	// each response, letting the host detect server-side edits.
	OnVersion func(version int64)
	// OnGone is invoked when the server reports the upload deleted.
	OnGone func()
}

// NewClient creates a tile client. httpClient may be nil, in which
// case a client with transparent compression disabled is used so the
// gzip path stays under our control.
func NewClient(httpClient *http.Client, tokens *Store, payloads *cache.Payloads) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{DisableCompression: true},
		}
	}
	return &Client{http: httpClient, tokens: tokens, payloads: payloads}
}

// Tokens returns the underlying token store.
func (c *Client) Tokens() *Store { return c.tokens }

// FetchTile downloads one tile payload. A second call for the same URL
// while the first is in flight cancels the first. Cached payloads are
// served without touching the network or the token store.
func (c *Client) FetchTile(parent context.Context, url string) ([]byte, error) {
	if c.payloads != nil {
		if data, ok := c.payloads.Get(url); ok {
			return data, nil
		}
	}

	tok := c.tokens.Acquire(parent, url)
	defer c.tokens.Release(tok)

	req, err := http.NewRequestWithContext(tok.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build tile request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile %s: %w", url, err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("X-Data-Version"); v != "" && c.OnVersion != nil {
		if version, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.OnVersion(version)
		}
	}

	switch {
	case resp.StatusCode == http.StatusGone:
		if c.OnGone != nil {
			c.OnGone()
		}
		return nil, ErrUploadDeleted
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch tile %s: status %d", url, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip tile body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read tile body: %w", err)
	}

	if c.payloads != nil {
		// Cache write failures only cost a refetch.
		_ = c.payloads.Set(url, data)
	}
	return data, nil
}
