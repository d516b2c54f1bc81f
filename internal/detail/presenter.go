// Package detail presents a point (or list of overlapping leaves) as a
// popup overlay and enriches it asynchronously from the species
// lookup. Loading and final content never draw in the same frame: the
// loading view is fully unmounted one turn before the final view
// mounts.
package detail

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/runloop"
	"github.com/birdmap/maplayer/internal/species"
	"github.com/birdmap/maplayer/internal/tile"
)

// SummaryLimit is the maximum character count for the enriched
// summary; the text is cut at the nearest sentence boundary inside it.
const SummaryLimit = 350

// Content is the popup payload. Exactly one concrete type is mounted
// at a time.
type Content interface{ isContent() }

// Loading is the immediate placeholder shown while enrichment runs.
type Loading struct {
	CommonName string
}

// PointDetail is the enriched single-point view.
type PointDetail struct {
	Record  tile.PointRecord
	Info    species.Info
	Summary string
}

// Minimal is the degraded view after a failed enrichment.
type Minimal struct {
	CommonName string
	Count      int
}

// LeafList is the multi-item view for overlapping leaves.
type LeafList struct {
	Leaves []tile.PointRecord
}

func (Loading) isContent()     {}
func (PointDetail) isContent() {}
func (Minimal) isContent()     {}
func (LeafList) isContent()    {}

// Handle is a mounted popup.
type Handle interface {
	Close()
}

// Host mounts popup overlays for the presenter. Implemented by the
// embedding UI.
type Host interface {
	Mount(content Content, at geo.LngLat) Handle
}

// Presenter owns the single visible detail popup. All methods must run
// on the coordinator's run loop.
type Presenter struct {
	host    Host
	loop    *runloop.Loop
	lookup  *species.Client
	timeout time.Duration

	current Handle
	gen     uint64
	closed  bool
}

// New creates a presenter. timeout bounds the enrichment fetch; when
// it lapses the popup degrades to the minimal view instead of showing
// the loading state forever.
func New(host Host, loop *runloop.Loop, lookup *species.Client, timeout time.Duration) *Presenter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Presenter{host: host, loop: loop, lookup: lookup, timeout: timeout}
}

// ShowPoint opens the detail popup for one record, replacing any
// existing popup first.
func (p *Presenter) ShowPoint(rec tile.PointRecord) {
	if p.closed {
		return
	}
	p.Dismiss()

	p.current = p.host.Mount(Loading{CommonName: rec.CommonName}, rec.Location)
	gen := p.gen

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		info, err := p.lookup.Lookup(ctx, rec.CommonName)

		p.loop.Post(func() {
			// The popup may have been replaced or closed while the
			// lookup was in flight; its result is then discarded
			// unconditionally.
			if p.closed || p.gen != gen || p.current == nil {
				return
			}
			p.current.Close()
			p.current = nil

			// Mount the final view on the next turn so old and new
			// content never draw in the same frame.
			p.loop.Post(func() {
				if p.closed || p.gen != gen {
					return
				}
				var content Content
				if err != nil {
					content = Minimal{CommonName: rec.CommonName, Count: rec.Count}
				} else {
					content = PointDetail{
						Record:  rec,
						Info:    info,
						Summary: TruncateSummary(info.WikipediaSummary, SummaryLimit),
					}
				}
				p.current = p.host.Mount(content, rec.Location)
			})
		})
	}()
}

// ShowLeaves opens the multi-item popup for overlapping leaves in the
// given order. Leaves carry their display data already, so no
// enrichment pass runs.
func (p *Presenter) ShowLeaves(leaves []tile.PointRecord) {
	if p.closed || len(leaves) == 0 {
		return
	}
	p.Dismiss()
	p.current = p.host.Mount(LeafList{Leaves: leaves}, leaves[0].Location)
}

// Dismiss closes the current popup, if any, and invalidates pending
// enrichment results.
func (p *Presenter) Dismiss() {
	p.gen++
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}
}

// Close tears the presenter down. Idempotent.
func (p *Presenter) Close() {
	if p.closed {
		return
	}
	p.Dismiss()
	p.closed = true
}

// TruncateSummary cuts s at the nearest sentence boundary within
// limit characters. Without a sentence boundary the cut falls at the
// last rune inside the limit, with an ellipsis appended.
func TruncateSummary(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return strings.TrimSpace(cut[:i+1])
	}
	return strings.TrimSpace(cut) + "…"
}
