package detail

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/birdmap/maplayer/internal/geo"
	"github.com/birdmap/maplayer/internal/runloop"
	"github.com/birdmap/maplayer/internal/species"
	"github.com/birdmap/maplayer/internal/tile"
)

// recordingHost records mounts and closes in order.
type recordingHost struct {
	mu     sync.Mutex
	events []string
	mounts []Content
}

type recordingHandle struct {
	host *recordingHost
	name string
}

func (h *recordingHandle) Close() {
	h.host.mu.Lock()
	h.host.events = append(h.host.events, "close:"+h.name)
	h.host.mu.Unlock()
}

func (r *recordingHost) Mount(content Content, _ geo.LngLat) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := contentName(content)
	r.events = append(r.events, "mount:"+name)
	r.mounts = append(r.mounts, content)
	return &recordingHandle{host: r, name: name}
}

func (r *recordingHost) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func contentName(c Content) string {
	switch c.(type) {
	case Loading:
		return "loading"
	case PointDetail:
		return "detail"
	case Minimal:
		return "minimal"
	case LeafList:
		return "leaves"
	default:
		return "unknown"
	}
}

func newTestPresenter(t *testing.T, handler http.HandlerFunc) (*Presenter, *recordingHost, *runloop.Loop) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	memo, err := species.NewMemo(16)
	if err != nil {
		t.Fatalf("memo: %v", err)
	}
	lookup := species.NewClient(srv.URL, nil, memo)

	loop := runloop.New()
	t.Cleanup(loop.Stop)

	host := &recordingHost{}
	return New(host, loop, lookup, 2*time.Second), host, loop
}

func testRecord() tile.PointRecord {
	return tile.PointRecord{
		ID:         5,
		Location:   geo.LngLat{Lng: 24.9, Lat: 60.2},
		CommonName: "Red-throated Loon",
		Count:      2,
	}
}

func waitForEvents(t *testing.T, host *recordingHost, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := host.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %v", n, host.snapshot())
	return nil
}

func TestShowPointSuccess(t *testing.T) {
	p, host, loop := newTestPresenter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(species.Info{
			ScientificName:       "Gavia stellata",
			CommonName:           "Red-throated Loon",
			WikipediaSummary:     "The red-throated loon is a migratory aquatic bird.",
			ExternalReferenceURL: "https://example.org/loon",
		})
	})

	loop.Post(func() { p.ShowPoint(testRecord()) })

	evs := waitForEvents(t, host, 3)
	want := []string{"mount:loading", "close:loading", "mount:detail"}
	for i, w := range want {
		if evs[i] != w {
			t.Fatalf("event %d = %q, want %q (all: %v)", i, evs[i], w, evs)
		}
	}

	detail := host.mounts[1].(PointDetail)
	if detail.Info.ScientificName != "Gavia stellata" {
		t.Errorf("unexpected info: %+v", detail.Info)
	}
	if detail.Summary == "" {
		t.Error("expected summary")
	}
}

func TestShowPointFailureDegrades(t *testing.T) {
	p, host, loop := newTestPresenter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	loop.Post(func() { p.ShowPoint(testRecord()) })

	evs := waitForEvents(t, host, 3)
	if evs[2] != "mount:minimal" {
		t.Fatalf("expected minimal view after failure, got %v", evs)
	}
	m := host.mounts[1].(Minimal)
	if m.CommonName != "Red-throated Loon" || m.Count != 2 {
		t.Errorf("unexpected minimal content: %+v", m)
	}
}

func TestDismissBeforeResultDiscards(t *testing.T) {
	release := make(chan struct{})
	p, host, loop := newTestPresenter(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(species.Info{CommonName: "Red-throated Loon"})
	})

	loop.Post(func() { p.ShowPoint(testRecord()) })
	waitForEvents(t, host, 1)
	loop.Post(func() { p.Dismiss() })
	loop.Flush()
	close(release)

	time.Sleep(100 * time.Millisecond)
	loop.Flush()
	loop.Flush()

	evs := host.snapshot()
	for _, ev := range evs {
		if strings.HasPrefix(ev, "mount:detail") || strings.HasPrefix(ev, "mount:minimal") {
			t.Fatalf("result after dismiss must be discarded, got %v", evs)
		}
	}
}

func TestNewOpenReplacesExisting(t *testing.T) {
	p, host, loop := newTestPresenter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(species.Info{CommonName: "X"})
	})

	rec := testRecord()
	loop.Post(func() { p.ShowPoint(rec) })
	waitForEvents(t, host, 3)

	leaves := []tile.PointRecord{rec, {ID: 6, Location: rec.Location, CommonName: "Other", Count: 1}}
	loop.Post(func() { p.ShowLeaves(leaves) })
	loop.Flush()

	evs := host.snapshot()
	last := evs[len(evs)-1]
	prev := evs[len(evs)-2]
	if prev != "close:detail" || last != "mount:leaves" {
		t.Fatalf("expected existing popup torn down before the new one, got %v", evs)
	}
}

func TestTruncateSummary(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		if got := TruncateSummary("Short.", 350); got != "Short." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("cuts at sentence boundary", func(t *testing.T) {
		long := strings.Repeat("Sentence one is here. ", 30)
		got := TruncateSummary(long, 350)
		if len(got) > 350 {
			t.Errorf("truncated text too long: %d", len(got))
		}
		if !strings.HasSuffix(got, ".") {
			t.Errorf("expected sentence-boundary cut, got %q", got)
		}
	})

	t.Run("no boundary falls back to ellipsis", func(t *testing.T) {
		long := strings.Repeat("a", 400)
		got := TruncateSummary(long, 350)
		if !strings.HasSuffix(got, "…") {
			t.Errorf("expected ellipsis, got tail %q", got[len(got)-10:])
		}
	})
}
