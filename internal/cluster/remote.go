package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/birdmap/maplayer/internal/tile"
)

// RemoteExpander answers expansion queries over the documented HTTP
// contract: GET {base}/clusters/{id}/expansion-zoom and
// GET {base}/clusters/{id}/leaves?limit=&offset=. Backends that keep
// durable cluster ids can serve it; a 404 means the id is unknown
// there and the caller falls back to leaf enumeration elsewhere.
type RemoteExpander struct {
	base string
	http *http.Client
}

// NewRemoteExpander creates an expander against the given base URL.
// A nil client uses http.DefaultClient.
func NewRemoteExpander(base string, client *http.Client) *RemoteExpander {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteExpander{base: base, http: client}
}

func (e *RemoteExpander) ExpansionZoom(ctx context.Context, clusterID int64) (float64, error) {
	var payload struct {
		Zoom float64 `json:"zoom"`
	}
	if err := e.get(ctx, fmt.Sprintf("%s/clusters/%d/expansion-zoom", e.base, clusterID), nil, &payload); err != nil {
		return 0, err
	}
	return payload.Zoom, nil
}

func (e *RemoteExpander) Leaves(ctx context.Context, clusterID int64, limit, offset int) ([]tile.PointRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var raw json.RawMessage
	if err := e.get(ctx, fmt.Sprintf("%s/clusters/%d/leaves", e.base, clusterID), q, &raw); err != nil {
		return nil, err
	}
	records, _, err := tile.DecodeCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode leaves for cluster %d: %w", clusterID, err)
	}
	return records, nil
}

func (e *RemoteExpander) get(ctx context.Context, u string, q url.Values, out interface{}) error {
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrUnavailable
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("expansion query %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
