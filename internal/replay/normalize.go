// Package replay turns historical session payloads from the backend into the
// canonical point list drawn by the map renderer.
package replay

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Point is one canonical replay coordinate. Both fields are always finite.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) LatLng() (float64, float64) { return p.Lat, p.Lng }

// Normalize decodes a raw session payload and extracts its points.
// Undecodable input yields an empty list.
func Normalize(raw []byte) []Point {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []Point{}
	}
	return NormalizeValue(v)
}

// NormalizeValue extracts points from an already decoded payload. The list may
// live under points or track_points at the top level, or under points,
// track_points or path inside meta_data, which itself may be a JSON string.
func NormalizeValue(v any) []Point {
	data, _ := v.(map[string]any)

	points := firstTruthy(data, "points", "track_points")
	if _, isList := points.([]any); !isList && truthy(data["meta_data"]) {
		points = metaPoints(data["meta_data"])
	}

	list, ok := points.([]any)
	if !ok {
		return []Point{}
	}

	out := make([]Point, 0, len(list))
	for _, raw := range list {
		if p, ok := toPoint(raw); ok {
			out = append(out, p)
		}
	}
	return out
}

func metaPoints(meta any) any {
	parsed := meta
	if s, ok := meta.(string); ok {
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return []any{}
		}
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return []any{}
	}
	if p := firstTruthy(obj, "points", "track_points", "path"); p != nil {
		return p
	}
	return []any{}
}

func toPoint(raw any) (Point, bool) {
	var latRaw, lngRaw any
	switch el := raw.(type) {
	case map[string]any:
		latRaw = firstPresent(el, "lat", "latitude", "0")
		lngRaw = firstPresent(el, "lng", "longitude", "1")
	case []any:
		if len(el) > 0 {
			latRaw = el[0]
		}
		if len(el) > 1 {
			lngRaw = el[1]
		}
	}

	lat, ok := toFinite(latRaw)
	if !ok {
		return Point{}, false
	}
	lng, ok := toFinite(lngRaw)
	if !ok {
		return Point{}, false
	}
	return Point{Lat: lat, Lng: lng}, true
}

func toFinite(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// firstPresent skips only missing and null fields.
func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstTruthy(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := m[k]; truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}
