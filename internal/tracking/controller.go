// Package tracking owns the drive session: it records fixes while a drive is
// running, decides whether a stopped drive is worth keeping, uploads it, and
// replays historical sessions on the map.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"drivetracker/internal/auth"
	"drivetracker/internal/backend"
	"drivetracker/internal/bridge"
	"drivetracker/internal/gps"
	"drivetracker/internal/journal"
	"drivetracker/internal/replay"
	"drivetracker/internal/shared/geo"
	"drivetracker/internal/timeutil"

	"github.com/google/uuid"
)

const (
	eventQueueSize  = 128
	positionTimeout = 15 * time.Second
)

var errStopped = errors.New("drive controller stopped")

type Source interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context, opts gps.Options, onFix gps.FixFunc, onErr gps.ErrorFunc)
	WatchPosition(opts gps.Options, onFix gps.FixFunc, onErr gps.ErrorFunc) (gps.WatchID, error)
	ClearWatch(id gps.WatchID)
}

type Emitter interface {
	Send(msg bridge.Message) error
	SetDarkMode(dark bool) error
}

type Backend interface {
	SessionsByDate(ctx context.Context, day time.Time) ([]backend.SessionSummary, error)
	Session(ctx context.Context, id int64) (backend.SessionDetail, error)
	TotalKm(ctx context.Context) (float64, error)
	TodayKm(ctx context.Context) (float64, error)
	UploadDrive(ctx context.Context, req backend.UploadRequest) error
}

type Identity interface {
	UserInfo(ctx context.Context) (auth.UserInfo, error)
}

type Recorder interface {
	Record(e journal.Entry)
}

type Notifier interface {
	Notify(n Notice)
}

type Deps struct {
	Source   Source
	Emitter  Emitter
	Backend  Backend
	Identity Identity
	// Recorder and Notifier are optional.
	Recorder Recorder
	Notifier Notifier
	Clock    timeutil.Clock

	DistanceFilterM float64
	NewDriveID      func() string
}

type request struct {
	event   Event
	inspect func(State)
	reply   chan error
}

// Controller runs the drive state machine on a single goroutine. Every
// operation, fix and backend completion becomes an event on that goroutine,
// so the track and status have exactly one writer.
type Controller struct {
	source   Source
	emitter  Emitter
	backend  Backend
	identity Identity
	recorder Recorder
	notifier Notifier
	clock    timeutil.Clock
	filterM  float64
	newID    func() string

	events chan request
	done   chan struct{}
	runCtx context.Context

	// loop-owned
	state       State
	watchIDs    map[uint64]gps.WatchID
	oneShots    map[uint64]context.CancelFunc
	uploadReply chan error

	mu         sync.RWMutex
	stats      backend.Stats
	lastNotice *Notice
}

func NewController(d Deps) *Controller {
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	if d.NewDriveID == nil {
		d.NewDriveID = uuid.NewString
	}
	return &Controller{
		source:   d.Source,
		emitter:  d.Emitter,
		backend:  d.Backend,
		identity: d.Identity,
		recorder: d.Recorder,
		notifier: d.Notifier,
		clock:    d.Clock,
		filterM:  d.DistanceFilterM,
		newID:    d.NewDriveID,
		events:   make(chan request, eventQueueSize),
		done:     make(chan struct{}),
		runCtx:   context.Background(),
		watchIDs: make(map[uint64]gps.WatchID),
		oneShots: make(map[uint64]context.CancelFunc),
	}
}

// Run processes events until ctx is done. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			for gen := range c.watchIDs {
				c.clearWatch(gen)
			}
			if c.uploadReply != nil {
				c.uploadReply <- ctx.Err()
				c.uploadReply = nil
			}
			return
		case req := <-c.events:
			c.handle(req)
		}
	}
}

// Start asks for location permission and begins a new drive.
func (c *Controller) Start(ctx context.Context) (string, error) {
	granted, err := c.source.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("request location permission: %w", err)
	}
	driveID := c.newID()
	if err := c.dispatch(ctx, StartRequested{Granted: granted, DriveID: driveID}); err != nil {
		return "", err
	}
	return driveID, nil
}

// Stop ends the running drive. A drive with fewer than two fixes is
// discarded and reported as ErrDriveTooShort.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	var res StopResult
	err := c.dispatchInspect(ctx, StopRequested{}, func(s State) {
		res = StopResult{DriveID: s.DriveID, Points: len(s.Track), DistanceKm: geo.PathKm(s.Track)}
	})
	if err != nil {
		return StopResult{}, err
	}
	return res, nil
}

// Upload sends the stopped drive and waits for the backend's answer.
func (c *Controller) Upload(ctx context.Context) error {
	var user auth.UserInfo
	if c.identity != nil {
		u, err := c.identity.UserInfo(ctx)
		if err != nil {
			log.Printf("tracking: uploading without user identity: %v", err)
		}
		user = u
	}
	return c.dispatch(ctx, UploadRequested{User: user})
}

// SelectSession draws a historical drive on the map and returns how many
// points were drawn.
func (c *Controller) SelectSession(ctx context.Context, id int64) (int, error) {
	detail, err := c.backend.Session(ctx, id)
	if err != nil {
		if dErr := c.dispatch(ctx, ReplayFailed{SessionID: id, Err: err}); dErr != nil && !errors.Is(dErr, err) {
			return 0, dErr
		}
		return 0, err
	}

	points := replay.Normalize(detail.Raw)
	meta := bridge.TrackMeta{
		StartTime: detail.StartTime,
		EndTime:   detail.EndTime,
		TotalKm:   detail.TotalKm,
	}
	if err := c.dispatch(ctx, ReplayLoaded{SessionID: id, Points: points, Meta: meta}); err != nil {
		return 0, err
	}
	return len(points), nil
}

func (c *Controller) History(ctx context.Context, day time.Time) ([]backend.SessionSummary, error) {
	return c.backend.SessionsByDate(ctx, day)
}

// SetDarkMode changes the map theme. A renderer that is not ready yet gets
// the theme when it signals mapReady.
func (c *Controller) SetDarkMode(dark bool) error {
	if err := c.emitter.SetDarkMode(dark); err != nil && !errors.Is(err, bridge.ErrNotReady) {
		return err
	}
	return nil
}

// RefreshStats fetches total and today's distance. Without a credential the
// backend is not called and backend.ErrUnauthenticated is returned.
func (c *Controller) RefreshStats(ctx context.Context) (backend.Stats, error) {
	total, err := c.backend.TotalKm(ctx)
	if err != nil {
		return c.Stats(), err
	}
	today, err := c.backend.TodayKm(ctx)
	if err != nil {
		return c.Stats(), err
	}

	stats := backend.Stats{TotalKm: total, TodayKm: today}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return stats, nil
}

func (c *Controller) Stats() backend.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.dispatchInspect(ctx, nil, func(s State) {
		snap = Snapshot{
			Status:     s.Status,
			DriveID:    s.DriveID,
			Track:      append([]Fix{}, s.Track...),
			DistanceKm: geo.PathKm(s.Track),
		}
	})
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.RLock()
	snap.Stats = c.stats
	snap.LastNotice = c.lastNotice
	c.mu.RUnlock()
	return snap, nil
}

func (c *Controller) dispatch(ctx context.Context, ev Event) error {
	return c.dispatchInspect(ctx, ev, nil)
}

// dispatchInspect runs ev on the loop, then inspect on the resulting state,
// and waits for the outcome.
func (c *Controller) dispatchInspect(ctx context.Context, ev Event, inspect func(State)) error {
	req := request{event: ev, inspect: inspect, reply: make(chan error, 1)}
	select {
	case c.events <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errStopped
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errStopped
	}
}

// post queues an event from a callback without waiting for it.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- request{event: ev}:
	case <-c.done:
	}
}

func (c *Controller) handle(req request) {
	var err error
	deferReply := false

	if req.event != nil {
		step := Transition(c.state, req.event)
		c.state = step.State
		err = step.Err
		for _, eff := range step.Effects {
			if _, ok := eff.(Upload); ok && req.reply != nil {
				c.uploadReply = req.reply
				deferReply = true
			}
			c.perform(eff)
		}
		if _, ok := req.event.(UploadCompleted); ok && c.uploadReply != nil {
			c.uploadReply <- err
			c.uploadReply = nil
		}
	}
	if req.inspect != nil {
		req.inspect(c.state)
	}
	if req.reply != nil && !deferReply {
		req.reply <- err
	}
}

func (c *Controller) perform(eff Effect) {
	switch eff := eff.(type) {
	case RequestPosition:
		gen := eff.Watch
		ctx, cancel := context.WithCancel(c.runCtx)
		c.oneShots[gen] = cancel
		c.source.CurrentPosition(ctx, gps.Options{HighAccuracy: true, Timeout: positionTimeout},
			func(p gps.Position) { c.post(PositionReceived{Fix: c.fix(p), Initial: true, Watch: gen}) },
			func(err error) { c.post(PositionFailed{Err: err, Watch: gen}) },
		)
	case WatchPositions:
		gen := eff.Watch
		id, err := c.source.WatchPosition(gps.Options{HighAccuracy: true, DistanceFilterM: c.filterM},
			func(p gps.Position) { c.post(PositionReceived{Fix: c.fix(p), Watch: gen}) },
			func(err error) { c.post(PositionFailed{Err: err, Watch: gen}) },
		)
		if err != nil {
			log.Printf("tracking: watch positions: %v", err)
			go c.post(PositionFailed{Err: err, Watch: gen})
			return
		}
		c.watchIDs[gen] = id
	case ClearWatch:
		c.clearWatch(eff.Watch)
	case Emit:
		if err := c.emitter.Send(eff.Message); err != nil && !errors.Is(err, bridge.ErrNotReady) {
			log.Printf("tracking: emit %s: %v", eff.Message.Type, err)
		}
	case Notify:
		n := eff.Notice
		c.mu.Lock()
		c.lastNotice = &n
		c.mu.Unlock()
		if c.notifier != nil {
			c.notifier.Notify(n)
		}
	case Upload:
		ctx := c.runCtx
		go func() {
			c.post(UploadCompleted{Err: c.backend.UploadDrive(ctx, eff.Request)})
		}()
	case RefreshStats:
		ctx := c.runCtx
		go func() {
			if _, err := c.RefreshStats(ctx); err != nil && !errors.Is(err, backend.ErrUnauthenticated) {
				log.Printf("tracking: refresh stats: %v", err)
			}
		}()
	case Record:
		if c.recorder != nil {
			c.recorder.Record(eff.Entry)
		}
	}
}

// clearWatch ends the fix subscription of generation gen, including a
// position request that is still waiting for its first fix.
func (c *Controller) clearWatch(gen uint64) {
	if cancel, ok := c.oneShots[gen]; ok {
		cancel()
		delete(c.oneShots, gen)
	}
	if id, ok := c.watchIDs[gen]; ok {
		c.source.ClearWatch(id)
		delete(c.watchIDs, gen)
	}
}

// fix stamps p with the time of receipt.
func (c *Controller) fix(p gps.Position) Fix {
	return Fix{
		Lat:       p.Lat,
		Lng:       p.Lng,
		Timestamp: c.clock.Now().UnixMilli(),
		Observed:  p.Timestamp,
		Speed:     p.Speed,
		Heading:   p.Heading,
	}
}
