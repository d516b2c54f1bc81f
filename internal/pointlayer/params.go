// Package pointlayer implements the tile source coordinator: it owns
// the single live point-tile source, maps filter/selection state onto
// it through a canonical query key, and swaps the source exactly when
// the key changes while preserving the viewport.
package pointlayer

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Params is the mutable filter/selection state driving the tile
// source.
type Params struct {
	UploadID int64
	// Filter is the opaque serialized filter expression; empty means
	// unfiltered.
	Filter string
	// TickSelection is a subset of {lifer, year, country, normal};
	// empty means all.
	TickSelection      []string
	YearTickYear       int
	CountryTickCountry string
	// DataVersion is a monotonic token bumped by server-side edits;
	// it cache-busts tiles without changing filter semantics.
	DataVersion int64
}

// Key returns the canonical identity of "which filtered view, which
// version". Equal keys mean the live source needs no rebuild.
func (p Params) Key() string {
	return fmt.Sprintf("u=%d|f=%s|t=%s|y=%d|c=%s|v=%d",
		p.UploadID, p.Filter, strings.Join(p.normalizedTicks(), ","),
		p.YearTickYear, p.CountryTickCountry, p.DataVersion)
}

// TileURL renders the {z}/{x}/{y} tile URL template with the query
// parameters of the documented tile contract appended.
func (p Params) TileURL(template string) string {
	q := url.Values{}
	if p.Filter != "" {
		q.Set("filter", p.Filter)
	}
	if ticks := p.normalizedTicks(); len(ticks) > 0 {
		q.Set("tick_filter", strings.Join(ticks, ","))
	}
	if p.YearTickYear != 0 {
		q.Set("year_tick_year", strconv.Itoa(p.YearTickYear))
	}
	if p.CountryTickCountry != "" {
		q.Set("country_tick_country", p.CountryTickCountry)
	}
	q.Set("data_version", strconv.FormatInt(p.DataVersion, 10))
	return template + "?" + q.Encode()
}

// normalizedTicks returns the tick selection deduplicated and sorted,
// so ordering differences cannot force a spurious source swap.
func (p Params) normalizedTicks() []string {
	if len(p.TickSelection) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(p.TickSelection))
	out := make([]string, 0, len(p.TickSelection))
	for _, t := range p.TickSelection {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
