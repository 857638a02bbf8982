package bridge

import (
	"encoding/json"

	"drivetracker/internal/replay"
)

// Outbound message types understood by the map renderer.
const (
	TypeModeChange   = "modeChange"
	TypeClear        = "clear"
	TypeDisplayTrack = "displayTrack"
	TypeStartLive    = "startLive"
	TypeCoord        = "coord"
)

// TypeMapReady is the only message the renderer sends back.
const TypeMapReady = "mapReady"

// Message is one frame on the bridge. A nil Payload is omitted on the wire.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type ModeChangePayload struct {
	IsDarkMode bool `json:"isDarkMode"`
}

// TrackMeta carries the backend's summary fields through untouched. Fields the
// backend did not send stay off the wire.
type TrackMeta struct {
	StartTime json.RawMessage `json:"start_time,omitempty"`
	EndTime   json.RawMessage `json:"end_time,omitempty"`
	TotalKm   json.RawMessage `json:"total_km,omitempty"`
}

type DisplayTrackPayload struct {
	SessionID int64          `json:"session_id"`
	Points    []replay.Point `json:"points"`
	Meta      TrackMeta      `json:"meta"`
	Color     string         `json:"color"`
}

type StartLivePayload struct {
	StartLocation [2]float64 `json:"startLocation"`
}

type CoordPayload struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

func ModeChange(dark bool) Message {
	return Message{Type: TypeModeChange, Payload: ModeChangePayload{IsDarkMode: dark}}
}

func Clear() Message {
	return Message{Type: TypeClear}
}

func DisplayTrack(sessionID int64, points []replay.Point, meta TrackMeta, color string) Message {
	return Message{Type: TypeDisplayTrack, Payload: DisplayTrackPayload{
		SessionID: sessionID,
		Points:    points,
		Meta:      meta,
		Color:     color,
	}}
}

func StartLive(lat, lng float64) Message {
	return Message{Type: TypeStartLive, Payload: StartLivePayload{StartLocation: [2]float64{lat, lng}}}
}

func Coord(lat, lng float64, timestamp int64) Message {
	return Message{Type: TypeCoord, Payload: CoordPayload{Lat: lat, Lng: lng, Timestamp: timestamp}}
}
