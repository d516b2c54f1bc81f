// Package tile decodes tiled point payloads into observation records.
// The wire format is a GeoJSON feature collection, optionally
// gzip-encoded; each feature carries an integer id and the observation
// properties described by the tile query contract.
package tile

import (
	"fmt"
	"math"
	"strconv"

	geojson "github.com/paulmach/go.geojson"

	"github.com/birdmap/maplayer/internal/geo"
)

// PointRecord is one geolocated observation. Records are produced by
// tile decode, are immutable afterwards, and are superseded wholesale
// when the source is swapped.
type PointRecord struct {
	ID             int64
	Location       geo.LngLat
	CommonName     string
	ScientificName string
	Count          int
	ObservedAt     string

	IsLifer       bool
	IsYearTick    bool
	IsCountryTick bool
}

// DecodeCollection parses a GeoJSON tile payload. Features with a
// missing id, a non-point geometry, or out-of-range coordinates are
// skipped; the returned count of skipped features lets callers log
// once instead of per feature.
func DecodeCollection(payload []byte) ([]PointRecord, int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("decode tile payload: %w", err)
	}

	records := make([]PointRecord, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		rec, ok := FromGeoJSON(f)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// FromGeoJSON converts one feature into a record, normalizing the
// wire's flag encodings exactly once at this boundary.
func FromGeoJSON(f *geojson.Feature) (PointRecord, bool) {
	if f == nil || f.Geometry == nil || f.Geometry.Type != geojson.GeometryPoint {
		return PointRecord{}, false
	}
	if len(f.Geometry.Point) < 2 {
		return PointRecord{}, false
	}
	loc := geo.LngLat{Lng: f.Geometry.Point[0], Lat: f.Geometry.Point[1]}
	if !loc.Valid() {
		return PointRecord{}, false
	}

	id, ok := asID(f.ID)
	if !ok {
		// Servers may put the id in properties instead of the
		// feature-level id.
		id, ok = asID(f.Properties["id"])
		if !ok {
			return PointRecord{}, false
		}
	}

	rec := PointRecord{
		ID:             id,
		Location:       loc,
		CommonName:     asString(f.Properties["name"]),
		ScientificName: asString(f.Properties["scientific_name"]),
		Count:          asCount(f.Properties["count"]),
		ObservedAt:     asString(f.Properties["observed_at"]),
		IsLifer:        NormalizeFlag(f.Properties["lifer"]),
		IsYearTick:     NormalizeFlag(f.Properties["year_tick"]),
		IsCountryTick:  NormalizeFlag(f.Properties["country_tick"]),
	}
	return rec, true
}

// FromProperties builds a record from a rendered feature's raw
// property map, for the click-resolution path where the surface hands
// back wire-shaped properties rather than decoded records.
func FromProperties(id int64, loc geo.LngLat, props map[string]interface{}) PointRecord {
	return PointRecord{
		ID:             id,
		Location:       loc,
		CommonName:     asString(props["name"]),
		ScientificName: asString(props["scientific_name"]),
		Count:          asCount(props["count"]),
		ObservedAt:     asString(props["observed_at"]),
		IsLifer:        NormalizeFlag(props["lifer"]),
		IsYearTick:     NormalizeFlag(props["year_tick"]),
		IsCountryTick:  NormalizeFlag(props["country_tick"]),
	}
}

// NormalizeFlag converts the wire's boolean encodings (0/1, "0"/"1",
// "true"/"false", bool) to a real boolean. Anything unrecognized is
// false.
func NormalizeFlag(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t == "1" || t == "true"
	default:
		return false
	}
}

func asID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asCount(v interface{}) int {
	switch t := v.(type) {
	case float64:
		if t >= 1 {
			return int(t)
		}
	case int:
		if t >= 1 {
			return t
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil && n >= 1 {
			return n
		}
	}
	return 1
}
