package tracking

import (
	"errors"

	"drivetracker/internal/backend"
)

var (
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrDriveTooShort     = errors.New("drive too short")
	ErrUploadInProgress  = errors.New("upload already in progress")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
)

// HighlightColor is the polyline colour for replayed sessions.
const HighlightColor = "#ff6b00"

type Status int

const (
	StatusIdle Status = iota
	StatusTracking
	StatusStopped
	StatusUploading
)

func (s Status) String() string {
	switch s {
	case StatusTracking:
		return "tracking"
	case StatusStopped:
		return "stopped"
	case StatusUploading:
		return "uploading"
	default:
		return "idle"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Fix is one GPS observation. Timestamp is when the controller received it;
// Observed is the receiver's own time and only identifies the observation.
// Speed and heading are optional.
type Fix struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Timestamp int64    `json:"timestamp"`
	Observed  int64    `json:"-"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

func (f Fix) LatLng() (float64, float64) { return f.Lat, f.Lng }

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeInfo    NoticeKind = "info"
	NoticeError   NoticeKind = "error"
)

// Notice is a user-facing message about an operation's outcome.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

type StopResult struct {
	DriveID    string  `json:"drive_id"`
	Points     int     `json:"points"`
	DistanceKm float64 `json:"distance_km"`
}

type Snapshot struct {
	Status     Status        `json:"status"`
	DriveID    string        `json:"drive_id,omitempty"`
	Track      []Fix         `json:"track"`
	DistanceKm float64       `json:"distance_km"`
	Stats      backend.Stats `json:"stats"`
	LastNotice *Notice       `json:"last_notice,omitempty"`
}
