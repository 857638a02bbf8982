package geo

import "math"

const earthRadiusKm = 6371.0

// LatLnger is anything that can report a position in degrees.
type LatLnger interface {
	LatLng() (lat, lng float64)
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// PathKm sums the haversine distance between consecutive points.
// Fewer than two points yield 0.
func PathKm[T LatLnger](points []T) float64 {
	if len(points) < 2 {
		return 0
	}
	total := 0.0
	prevLat, prevLng := points[0].LatLng()
	for _, p := range points[1:] {
		lat, lng := p.LatLng()
		total += HaversineKm(prevLat, prevLng, lat, lng)
		prevLat, prevLng = lat, lng
	}
	return total
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
