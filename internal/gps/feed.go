package gps

import (
	"context"
	"sync/atomic"

	"drivetracker/internal/timeutil"
)

// FeedSource is fed from outside the process, typically a phone or a
// companion app posting fixes to the control API.
type FeedSource struct {
	*dispatcher
	denied atomic.Bool
}

func NewFeedSource(clock timeutil.Clock) *FeedSource {
	return &FeedSource{dispatcher: newDispatcher(clock)}
}

func (s *FeedSource) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return !s.denied.Load(), nil
}

func (s *FeedSource) SetPermission(granted bool) {
	s.denied.Store(!granted)
}

func (s *FeedSource) Push(p Position) {
	s.publish(p)
}

func (s *FeedSource) PushError(err error) {
	s.fail(err)
}
