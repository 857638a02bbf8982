package tracking

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TrackFeature renders the snapshot's track as a GeoJSON LineString feature.
func TrackFeature(s Snapshot) *geojson.Feature {
	line := make(orb.LineString, 0, len(s.Track))
	for _, f := range s.Track {
		line = append(line, orb.Point{f.Lng, f.Lat})
	}

	feature := geojson.NewFeature(line)
	feature.Properties["drive_id"] = s.DriveID
	feature.Properties["status"] = s.Status.String()
	feature.Properties["distance_km"] = s.DistanceKm
	feature.Properties["points"] = len(s.Track)
	if n := len(s.Track); n > 0 {
		feature.Properties["start_time"] = s.Track[0].Timestamp
		feature.Properties["end_time"] = s.Track[n-1].Timestamp
	}
	return feature
}
