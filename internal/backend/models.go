package backend

import "encoding/json"

// SessionSummary is one recorded drive as listed by the backend. Time and
// distance fields are kept raw so they reach the renderer exactly as sent.
type SessionSummary struct {
	ID        int64           `json:"id"`
	StartTime json.RawMessage `json:"start_time,omitempty"`
	EndTime   json.RawMessage `json:"end_time,omitempty"`
	TotalKm   json.RawMessage `json:"total_km,omitempty"`
	MetaData  json.RawMessage `json:"meta_data,omitempty"`
}

// SessionDetail is a summary plus the full body, which carries the point
// payload in one of several shapes.
type SessionDetail struct {
	SessionSummary
	Raw json.RawMessage `json:"-"`
}

type TrackPoint struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Timestamp int64    `json:"timestamp"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
}

// UploadRequest is the body of POST /drive/add-point.
type UploadRequest struct {
	UserID       any          `json:"userId,omitempty"`
	EmployeeID   string       `json:"employeeId,omitempty"`
	EmployeeName string       `json:"employeeName,omitempty"`
	Email        string       `json:"email,omitempty"`
	Phone        *string      `json:"phone"`
	StartTime    int64        `json:"startTime"`
	EndTime      int64        `json:"endTime"`
	TrackPoints  []TrackPoint `json:"trackPoints"`
	Distance     float64      `json:"distance"`
}

type Stats struct {
	TodayKm float64 `json:"today_km"`
	TotalKm float64 `json:"total_km"`
}
