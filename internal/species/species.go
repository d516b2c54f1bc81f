// Package species provides the enrichment lookup collaborator: given a
// common name, it fetches descriptive metadata for the detail popup.
// Results are memoized through an explicitly constructed, bounded cache
// so the lookup stays cheap across a session without hiding global
// mutable state.
package species

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Info is the enrichment payload for one species.
type Info struct {
	ScientificName       string `json:"scientific_name"`
	CommonName           string `json:"common_name"`
	WikipediaSummary     string `json:"wikipedia_summary,omitempty"`
	PhotoURL             string `json:"photo_url,omitempty"`
	PhotoAttribution     string `json:"photo_attribution,omitempty"`
	ExternalReferenceURL string `json:"external_reference_url"`
	ObservationsCount    int    `json:"observations_count,omitempty"`
}

// Memo is the bounded memoization cache for lookups. One Memo lives
// for the whole session and may be shared by every mounted map.
type Memo struct {
	cache *lru.Cache[string, Info]
}

// NewMemo creates a memo cache holding at most size entries.
func NewMemo(size int) (*Memo, error) {
	c, err := lru.New[string, Info](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create species memo: %w", err)
	}
	return &Memo{cache: c}, nil
}

// Get returns a memoized result.
func (m *Memo) Get(commonName string) (Info, bool) {
	return m.cache.Get(commonName)
}

// Put memoizes a successful lookup.
func (m *Memo) Put(commonName string, info Info) {
	m.cache.Add(commonName, info)
}

// Len returns the number of memoized entries.
func (m *Memo) Len() int {
	return m.cache.Len()
}

// Client looks up species metadata over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	memo     *Memo
}

// NewClient creates a lookup client. memo may be shared across
// clients; httpClient may be nil for the default client.
func NewClient(endpoint string, httpClient *http.Client, memo *Memo) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, http: httpClient, memo: memo}
}

// Lookup resolves enrichment info for a common name. Successful
// results are memoized; failures are not, so a later attempt can
// succeed.
func (c *Client) Lookup(ctx context.Context, commonName string) (Info, error) {
	if info, ok := c.memo.Get(commonName); ok {
		return info, nil
	}

	u := c.endpoint + "?name=" + url.QueryEscape(commonName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Info{}, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("lookup %q: %w", commonName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("lookup %q: status %d", commonName, resp.StatusCode)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode lookup response for %q: %w", commonName, err)
	}

	c.memo.Put(commonName, info)
	return info, nil
}
