// Package gps delivers position fixes from a receiver to the drive controller.
// Two sources exist: FeedSource, where fixes are pushed in over HTTP, and
// SerialSource, which reads NMEA 0183 sentences from a serial port.
package gps

import (
	"context"
	"errors"
	"sync"
	"time"

	"drivetracker/internal/shared/geo"
	"drivetracker/internal/timeutil"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("position unavailable")
	ErrTimeout          = errors.New("position request timed out")
)

const defaultPositionTimeout = 15 * time.Second

type Position struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Timestamp int64    `json:"timestamp"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
}

func (p Position) LatLng() (float64, float64) { return p.Lat, p.Lng }

type Options struct {
	HighAccuracy    bool
	DistanceFilterM float64
	Timeout         time.Duration
}

type WatchID int64

type (
	FixFunc   func(Position)
	ErrorFunc func(error)
)

type watcher struct {
	opts  Options
	onFix FixFunc
	onErr ErrorFunc
	last  *Position
}

type oneShot struct {
	once  sync.Once
	done  chan struct{}
	onFix FixFunc
	onErr ErrorFunc
}

func (o *oneShot) fix(p Position) {
	o.once.Do(func() {
		close(o.done)
		o.onFix(p)
	})
}

func (o *oneShot) fail(err error) {
	o.once.Do(func() {
		close(o.done)
		o.onErr(err)
	})
}

// dispatcher fans fixes out to one-shot requests and watchers. Callbacks run
// outside the lock on the publishing goroutine.
type dispatcher struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	nextID   WatchID
	watchers map[WatchID]*watcher
	pending  []*oneShot
}

func newDispatcher(clock timeutil.Clock) *dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &dispatcher{clock: clock, watchers: make(map[WatchID]*watcher)}
}

// CurrentPosition answers with the next published fix, or ErrTimeout once
// opts.Timeout elapses.
func (d *dispatcher) CurrentPosition(ctx context.Context, opts Options, onFix FixFunc, onErr ErrorFunc) {
	req := &oneShot{done: make(chan struct{}), onFix: onFix, onErr: onErr}
	d.mu.Lock()
	d.pending = append(d.pending, req)
	d.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPositionTimeout
	}
	expired := d.clock.After(timeout)
	go func() {
		select {
		case <-req.done:
		case <-expired:
			d.dropPending(req)
			req.fail(ErrTimeout)
		case <-ctx.Done():
			d.dropPending(req)
			req.fail(ctx.Err())
		}
	}()
}

func (d *dispatcher) WatchPosition(opts Options, onFix FixFunc, onErr ErrorFunc) (WatchID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.watchers[d.nextID] = &watcher{opts: opts, onFix: onFix, onErr: onErr}
	return d.nextID, nil
}

func (d *dispatcher) ClearWatch(id WatchID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.watchers, id)
}

func (d *dispatcher) dropPending(req *oneShot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.pending {
		if p == req {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) publish(p Position) {
	if p.Timestamp == 0 {
		p.Timestamp = d.clock.Now().UnixMilli()
	}

	d.mu.Lock()
	shots := d.pending
	d.pending = nil
	var fixes []FixFunc
	for _, w := range d.watchers {
		if w.last != nil && geo.HaversineKm(w.last.Lat, w.last.Lng, p.Lat, p.Lng)*1000 < w.opts.DistanceFilterM {
			continue
		}
		last := p
		w.last = &last
		fixes = append(fixes, w.onFix)
	}
	d.mu.Unlock()

	for _, s := range shots {
		s.fix(p)
	}
	for _, fn := range fixes {
		fn(p)
	}
}

func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	shots := d.pending
	d.pending = nil
	var errs []ErrorFunc
	for _, w := range d.watchers {
		errs = append(errs, w.onErr)
	}
	d.mu.Unlock()

	for _, s := range shots {
		s.fail(err)
	}
	for _, fn := range errs {
		fn(err)
	}
}

func (d *dispatcher) watching() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers)
}
