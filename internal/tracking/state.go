package tracking

import (
	"errors"
	"strconv"

	"drivetracker/internal/auth"
	"drivetracker/internal/backend"
	"drivetracker/internal/bridge"
	"drivetracker/internal/journal"
	"drivetracker/internal/replay"
	"drivetracker/internal/shared/geo"
)

// State is everything the drive state machine owns. Watch is the generation
// of the current fix subscription; fixes tagged with an older generation are
// ignored.
type State struct {
	Status  Status
	Track   []Fix
	DriveID string
	Watch   uint64
}

type Event interface{ isEvent() }

type (
	StartRequested struct {
		Granted bool
		DriveID string
	}
	PositionReceived struct {
		Fix     Fix
		Initial bool
		Watch   uint64
	}
	PositionFailed struct {
		Err   error
		Watch uint64
	}
	StopRequested   struct{}
	UploadRequested struct {
		User auth.UserInfo
	}
	UploadCompleted struct {
		Err error
	}
	ReplayLoaded struct {
		SessionID int64
		Points    []replay.Point
		Meta      bridge.TrackMeta
	}
	ReplayFailed struct {
		SessionID int64
		Err       error
	}
)

func (StartRequested) isEvent()   {}
func (PositionReceived) isEvent() {}
func (PositionFailed) isEvent()   {}
func (StopRequested) isEvent()    {}
func (UploadRequested) isEvent()  {}
func (UploadCompleted) isEvent()  {}
func (ReplayLoaded) isEvent()     {}
func (ReplayFailed) isEvent()     {}

type Effect interface{ isEffect() }

type (
	RequestPosition struct{ Watch uint64 }
	WatchPositions  struct{ Watch uint64 }
	ClearWatch      struct{ Watch uint64 }
	Emit            struct{ Message bridge.Message }
	Notify          struct{ Notice Notice }
	Upload          struct{ Request backend.UploadRequest }
	RefreshStats    struct{}
	Record          struct{ Entry journal.Entry }
)

func (RequestPosition) isEffect() {}
func (WatchPositions) isEffect()  {}
func (ClearWatch) isEffect()      {}
func (Emit) isEffect()            {}
func (Notify) isEffect()          {}
func (Upload) isEffect()          {}
func (RefreshStats) isEffect()    {}
func (Record) isEffect()          {}

// Step is the outcome of one transition. Effects must be performed in order.
type Step struct {
	State   State
	Effects []Effect
	Err     error
}

// Transition is the drive state machine. It performs no I/O. The returned
// state may share s.Track's backing array, so s must not be reused.
func Transition(s State, ev Event) Step {
	switch ev := ev.(type) {
	case StartRequested:
		return start(s, ev)
	case PositionReceived:
		return positionReceived(s, ev)
	case PositionFailed:
		if s.Status != StatusTracking || ev.Watch != s.Watch {
			return Step{State: s}
		}
		return Step{State: s, Effects: []Effect{notify(NoticeError, "GPS error")}}
	case StopRequested:
		return stop(s)
	case UploadRequested:
		return uploadRequested(s, ev)
	case UploadCompleted:
		return uploadCompleted(s, ev)
	case ReplayLoaded:
		return replayLoaded(s, ev)
	case ReplayFailed:
		return Step{
			State:   s,
			Effects: []Effect{notify(NoticeError, "Failed to fetch session")},
			Err:     ev.Err,
		}
	default:
		return Step{State: s, Err: ErrInvalidTransition}
	}
}

// start is allowed from Idle and from Stopped. A stopped drive that was never
// uploaded is discarded by the new start.
func start(s State, ev StartRequested) Step {
	if s.Status != StatusIdle && s.Status != StatusStopped {
		return Step{State: s, Err: ErrInvalidTransition}
	}
	if !ev.Granted {
		return Step{
			State: s,
			Effects: []Effect{
				notify(NoticeError, "Location permission denied"),
				record(ev.DriveID, journal.KindPermissionDenied, s.Status, nil),
			},
			Err: ErrPermissionDenied,
		}
	}

	var effects []Effect
	if s.Status == StatusStopped {
		effects = append(effects, record(s.DriveID, journal.KindDiscarded, StatusIdle, s.Track))
	}
	next := State{Status: StatusTracking, Track: []Fix{}, DriveID: ev.DriveID, Watch: s.Watch + 1}
	effects = append(effects,
		notify(NoticeSuccess, "Drive started"),
		record(next.DriveID, journal.KindStarted, next.Status, nil),
		RequestPosition{Watch: next.Watch},
		WatchPositions{Watch: next.Watch},
	)
	return Step{State: next, Effects: effects}
}

func positionReceived(s State, ev PositionReceived) Step {
	if s.Status != StatusTracking || ev.Watch != s.Watch {
		return Step{State: s}
	}
	// the one-shot request and the watch may both report the same observation
	if n := len(s.Track); n > 0 && sameObservation(s.Track[n-1], ev.Fix) {
		return Step{State: s}
	}
	s.Track = append(s.Track, ev.Fix)

	msg := bridge.Coord(ev.Fix.Lat, ev.Fix.Lng, ev.Fix.Timestamp)
	if ev.Initial {
		msg = bridge.StartLive(ev.Fix.Lat, ev.Fix.Lng)
	}
	return Step{State: s, Effects: []Effect{Emit{Message: msg}}}
}

// stop clears the watch before the length check, so no fix can land after
// the decision.
func stop(s State) Step {
	if s.Status != StatusTracking {
		return Step{State: s, Err: ErrInvalidTransition}
	}
	effects := []Effect{ClearWatch{Watch: s.Watch}}

	if len(s.Track) < 2 {
		effects = append(effects,
			notify(NoticeInfo, "Drive too short"),
			record(s.DriveID, journal.KindTooShort, StatusIdle, s.Track),
		)
		return Step{
			State:   State{Status: StatusIdle, Watch: s.Watch},
			Effects: effects,
			Err:     ErrDriveTooShort,
		}
	}

	s.Status = StatusStopped
	effects = append(effects,
		notify(NoticeInfo, "Drive stopped"),
		record(s.DriveID, journal.KindStopped, s.Status, s.Track),
	)
	return Step{State: s, Effects: effects}
}

func uploadRequested(s State, ev UploadRequested) Step {
	switch {
	case s.Status == StatusUploading:
		return Step{State: s, Err: ErrUploadInProgress}
	case s.Status != StatusStopped:
		return Step{State: s, Err: ErrInvalidTransition}
	case len(s.Track) < 2:
		return Step{State: s, Effects: []Effect{notify(NoticeError, "Not enough points")}, Err: ErrDriveTooShort}
	}

	s.Status = StatusUploading
	return Step{
		State: s,
		Effects: []Effect{
			record(s.DriveID, journal.KindUploadStarted, s.Status, s.Track),
			Upload{Request: uploadRequest(ev.User, s.Track)},
		},
	}
}

func uploadCompleted(s State, ev UploadCompleted) Step {
	if s.Status != StatusUploading {
		return Step{State: s}
	}

	if ev.Err != nil {
		s.Status = StatusStopped
		message := "Upload error"
		var te *backend.TransportError
		if errors.As(ev.Err, &te) && te.Status != 0 {
			message = "Upload failed"
		}
		entry := record(s.DriveID, journal.KindUploadFailed, s.Status, s.Track)
		entry.Entry.Detail = ev.Err.Error()
		return Step{
			State:   s,
			Effects: []Effect{notify(NoticeError, message), entry},
			Err:     ev.Err,
		}
	}

	return Step{
		State: State{Status: StatusIdle, Watch: s.Watch},
		Effects: []Effect{
			notify(NoticeSuccess, "Drive uploaded"),
			record(s.DriveID, journal.KindUploaded, StatusIdle, s.Track),
			RefreshStats{},
		},
	}
}

func replayLoaded(s State, ev ReplayLoaded) Step {
	if len(ev.Points) == 0 {
		return Step{State: s, Effects: []Effect{notify(NoticeInfo, "No track points found")}}
	}
	entry := journal.Entry{
		DriveID:    "session-" + strconv.FormatInt(ev.SessionID, 10),
		Kind:       journal.KindReplayed,
		Status:     s.Status.String(),
		PointCount: len(ev.Points),
		DistanceKm: geo.PathKm(ev.Points),
	}
	return Step{
		State: s,
		Effects: []Effect{
			Emit{Message: bridge.Clear()},
			Emit{Message: bridge.DisplayTrack(ev.SessionID, ev.Points, ev.Meta, HighlightColor)},
			Record{Entry: entry},
		},
	}
}

func uploadRequest(user auth.UserInfo, track []Fix) backend.UploadRequest {
	points := make([]backend.TrackPoint, len(track))
	for i, f := range track {
		points[i] = backend.TrackPoint{
			Lat:       f.Lat,
			Lng:       f.Lng,
			Timestamp: f.Timestamp,
			Speed:     f.Speed,
			Heading:   f.Heading,
		}
	}
	return backend.UploadRequest{
		UserID:       user.ID,
		EmployeeID:   user.EmployeeID,
		EmployeeName: user.EmployeeName,
		Email:        user.Email,
		Phone:        user.Phone,
		StartTime:    track[0].Timestamp,
		EndTime:      track[len(track)-1].Timestamp,
		TrackPoints:  points,
		Distance:     geo.PathKm(track),
	}
}

func sameObservation(a, b Fix) bool {
	return a.Observed != 0 && a.Observed == b.Observed && a.Lat == b.Lat && a.Lng == b.Lng
}

func notify(kind NoticeKind, message string) Notify {
	return Notify{Notice: Notice{Kind: kind, Message: message}}
}

func record(driveID string, kind journal.Kind, status Status, track []Fix) Record {
	return Record{Entry: journal.Entry{
		DriveID:    driveID,
		Kind:       kind,
		Status:     status.String(),
		PointCount: len(track),
		DistanceKm: geo.PathKm(track),
	}}
}
