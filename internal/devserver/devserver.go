// Package devserver implements a self-contained backend for exercising
// the map layer without a real observation database. It serves
// deterministic synthetic observation tiles and canned species lookups
// over the same HTTP contract the coordinator consumes.
package devserver

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzip"
	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/species"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	CORSOrigins []string
	// DataVersion is echoed in the X-Data-Version response header so
	// clients can detect server-side edits.
	DataVersion int64
	// DeletedUploads simulates removed uploads; tile requests scoped
	// to these IDs answer 410 Gone.
	DeletedUploads map[int64]bool
	// PointsPerTile caps how many synthetic observations a tile
	// carries. Zero means the default of 8.
	PointsPerTile int
}

// NewRouter creates the dev backend HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.PointsPerTile <= 0 {
		cfg.PointsPerTile = 8
	}

	r := chi.NewRouter()

	// Middleware. Tiles are gzipped by hand below, so no Compress here.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Data-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/tiles/{z}/{x}/{y}", tileHandler(cfg, 0))
	r.Get("/uploads/{upload}/tiles/{z}/{x}/{y}", func(w http.ResponseWriter, req *http.Request) {
		uploadID, err := strconv.ParseInt(chi.URLParam(req, "upload"), 10, 64)
		if err != nil {
			http.Error(w, "invalid upload id", http.StatusBadRequest)
			return
		}
		if cfg.DeletedUploads[uploadID] {
			http.Error(w, "upload deleted", http.StatusGone)
			return
		}
		tileHandler(cfg, uploadID)(w, req)
	})

	r.Route("/clusters/{cluster}", func(r chi.Router) {
		r.Get("/expansion-zoom", expansionZoomHandler())
		r.Get("/leaves", leavesHandler())
	})

	r.Get("/species", speciesHandler())

	return r
}

// clusterID parses the cluster path parameter. IDs divisible by 13
// simulate clusters the backend has no durable record of, so clients
// exercise their local fallback.
func clusterID(req *http.Request) (int64, bool, error) {
	id, err := strconv.ParseInt(chi.URLParam(req, "cluster"), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, id%13 != 0, nil
}

func expansionZoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, known, err := clusterID(req)
		if err != nil {
			http.Error(w, "invalid cluster id", http.StatusBadRequest)
			return
		}
		if !known {
			http.Error(w, "unknown cluster", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]float64{
			"zoom": 14 + float64(id%16)/2,
		})
	}
}

func leavesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, known, err := clusterID(req)
		if err != nil {
			http.Error(w, "invalid cluster id", http.StatusBadRequest)
			return
		}
		if !known {
			http.Error(w, "unknown cluster", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		if limit <= 0 {
			limit = 25
		}
		if offset < 0 {
			offset = 0
		}

		all := synthesizeLeaves(id)
		fc := geojson.NewFeatureCollection()
		for i := offset; i < len(all.Features) && i < offset+limit; i++ {
			fc.AddFeature(all.Features[i])
		}
		w.Header().Set("Content-Type", "application/geo+json")
		json.NewEncoder(w).Encode(fc)
	}
}

// synthesizeLeaves generates the full deterministic membership of a
// synthetic cluster, coincident around a location derived from its id.
func synthesizeLeaves(id int64) *geojson.FeatureCollection {
	rng := rand.New(rand.NewSource(id))
	total := int(id%40) + 2
	lng := float64(id%360) - 180 + 0.5
	lat := float64(id%170)/2 - 42.5

	fc := geojson.NewFeatureCollection()
	for i := 0; i < total; i++ {
		sp := speciesCatalog[rng.Intn(len(speciesCatalog))]
		f := geojson.NewPointFeature([]float64{
			lng + rng.Float64()*0.0002,
			lat + rng.Float64()*0.0002,
		})
		f.SetProperty("id", id*1000+int64(i)+1)
		f.SetProperty("name", sp.common)
		f.SetProperty("scientific_name", sp.scientific)
		f.SetProperty("count", rng.Intn(12)+1)
		f.SetProperty("observed_at", fmt.Sprintf("2026-0%d-%02dT06:%02d:00Z", rng.Intn(8)+1, rng.Intn(28)+1, rng.Intn(60)))
		f.SetProperty("lifer", rng.Intn(10) == 0)
		f.SetProperty("year_tick", rng.Intn(5) == 0)
		f.SetProperty("country_tick", rng.Intn(7) == 0)
		fc.AddFeature(f)
	}
	return fc
}

// tileHandler serves a synthetic observation tile. The same z/x/y
// always yields the same observations so client-side caching and
// clustering behave reproducibly across requests.
func tileHandler(cfg RouterConfig, uploadID int64) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		z, errZ := strconv.Atoi(chi.URLParam(req, "z"))
		x, errX := strconv.Atoi(chi.URLParam(req, "x"))
		y, errY := strconv.Atoi(chi.URLParam(req, "y"))
		if errZ != nil || errX != nil || errY != nil {
			http.Error(w, "invalid tile coordinate", http.StatusBadRequest)
			return
		}
		max := 1 << uint(z)
		if z < 0 || z > 24 || x < 0 || x >= max || y < 0 || y >= max {
			http.Error(w, "tile coordinate out of range", http.StatusBadRequest)
			return
		}

		fc := synthesizeTile(z, x, y, uploadID, cfg.PointsPerTile)
		fc = applyTickFilter(fc, req.URL.Query().Get("tick_filter"))

		payload, err := json.Marshal(fc)
		if err != nil {
			http.Error(w, "encode tile", http.StatusInternalServerError)
			return
		}

		version := cfg.DataVersion
		if v := req.URL.Query().Get("data_version"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > version {
				version = parsed
			}
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("X-Data-Version", strconv.FormatInt(version, 10))

		if strings.Contains(req.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			gz.Write(payload)
			gz.Close()
			return
		}
		w.Write(payload)
	}
}

// synthesizeTile generates observations for a tile, seeded from its
// address so repeat requests are byte-for-byte identical.
func synthesizeTile(z, x, y int, uploadID int64, count int) *geojson.FeatureCollection {
	seed := int64(z)<<48 | int64(x)<<24 | int64(y)
	rng := rand.New(rand.NewSource(seed ^ uploadID<<12))

	west, south, east, north := tileBounds(z, x, y)
	fc := geojson.NewFeatureCollection()
	for i := 0; i < count; i++ {
		lng := west + rng.Float64()*(east-west)
		lat := south + rng.Float64()*(north-south)
		sp := speciesCatalog[rng.Intn(len(speciesCatalog))]

		f := geojson.NewPointFeature([]float64{lng, lat})
		f.SetProperty("id", seed*int64(count)+int64(i)+1)
		f.SetProperty("name", sp.common)
		f.SetProperty("scientific_name", sp.scientific)
		f.SetProperty("count", rng.Intn(40)+1)
		f.SetProperty("observed_at", fmt.Sprintf("2026-0%d-%02dT08:%02d:00Z", rng.Intn(8)+1, rng.Intn(28)+1, rng.Intn(60)))
		f.SetProperty("lifer", rng.Intn(10) == 0)
		f.SetProperty("year_tick", rng.Intn(5) == 0)
		f.SetProperty("country_tick", rng.Intn(7) == 0)
		fc.AddFeature(f)
	}
	return fc
}

// applyTickFilter keeps only the tick categories named in the
// comma-separated filter value. Empty means all.
func applyTickFilter(fc *geojson.FeatureCollection, filter string) *geojson.FeatureCollection {
	if filter == "" {
		return fc
	}
	want := make(map[string]bool)
	for _, t := range strings.Split(filter, ",") {
		want[strings.TrimSpace(t)] = true
	}
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		lifer, _ := f.Properties["lifer"].(bool)
		year, _ := f.Properties["year_tick"].(bool)
		country, _ := f.Properties["country_tick"].(bool)
		switch {
		case lifer && want["lifer"]:
		case year && want["year"]:
		case country && want["country"]:
		case !lifer && !year && !country && want["normal"]:
		default:
			continue
		}
		out.AddFeature(f)
	}
	return out
}

// tileBounds returns the WGS84 bounding box of a slippy-map tile.
func tileBounds(z, x, y int) (west, south, east, north float64) {
	n := math.Exp2(float64(z))
	west = float64(x)/n*360 - 180
	east = float64(x+1)/n*360 - 180
	north = tileLat(float64(y), n)
	south = tileLat(float64(y+1), n)
	return
}

func tileLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
}

// speciesHandler answers species lookups with canned but stable
// payloads keyed on the scientific name.
func speciesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name := req.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "missing name parameter", http.StatusBadRequest)
			return
		}
		info := lookupSpecies(name)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

func lookupSpecies(scientific string) species.Info {
	common := scientific
	for _, sp := range speciesCatalog {
		if strings.EqualFold(sp.scientific, scientific) {
			common = sp.common
			break
		}
	}
	slug := strings.ReplaceAll(scientific, " ", "_")
	h := int64(0)
	for _, c := range scientific {
		h = h*31 + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return species.Info{
		ScientificName:       scientific,
		CommonName:           common,
		WikipediaSummary:     fmt.Sprintf("%s (%s) is a bird species recorded in the synthetic dev dataset.", common, scientific),
		PhotoURL:             fmt.Sprintf("https://example.invalid/photos/%s.jpg", slug),
		PhotoAttribution:     "Dev fixture",
		ExternalReferenceURL: fmt.Sprintf("https://en.wikipedia.org/wiki/%s", slug),
		ObservationsCount:    int(h%5000 + 1),
	}
}

var speciesCatalog = []struct {
	common     string
	scientific string
}{
	{"Eurasian Blue Tit", "Cyanistes caeruleus"},
	{"Common Chaffinch", "Fringilla coelebs"},
	{"White Wagtail", "Motacilla alba"},
	{"Common Swift", "Apus apus"},
	{"Eurasian Curlew", "Numenius arquata"},
	{"Red-backed Shrike", "Lanius collurio"},
	{"Western Capercaillie", "Tetrao urogallus"},
	{"Bohemian Waxwing", "Bombycilla garrulus"},
}
