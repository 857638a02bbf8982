package journal

import "time"

type Kind string

const (
	KindStarted          Kind = "started"
	KindPermissionDenied Kind = "permission_denied"
	KindTooShort         Kind = "too_short"
	KindStopped          Kind = "stopped"
	KindUploadStarted    Kind = "upload_started"
	KindUploaded         Kind = "uploaded"
	KindUploadFailed     Kind = "upload_failed"
	KindDiscarded        Kind = "discarded"
	KindReplayed         Kind = "replayed"
)

// Entry is one lifecycle event of a drive. It never carries the fixes.
type Entry struct {
	ID         int64     `json:"id"`
	DriveID    string    `json:"drive_id"`
	Kind       Kind      `json:"kind"`
	Status     string    `json:"status"`
	PointCount int       `json:"point_count"`
	DistanceKm float64   `json:"distance_km"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
