package gps

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"drivetracker/internal/timeutil"

	serial "go.bug.st/serial"
)

const (
	reopenDelay = 2 * time.Second
	halfDay     = 12 * time.Hour
)

var openPortFn = func(device string, baud int) (io.ReadCloser, error) {
	return serial.Open(device, &serial.Mode{BaudRate: baud})
}

// SerialSource reads NMEA sentences from a receiver on a serial port.
type SerialSource struct {
	*dispatcher
	device string
	baud   int

	mu     sync.Mutex
	port   io.ReadCloser
	denied bool
}

func NewSerialSource(device string, baud int, clock timeutil.Clock) *SerialSource {
	return &SerialSource{dispatcher: newDispatcher(clock), device: device, baud: baud}
}

// RequestPermission opens the port if needed. Only an OS permission error
// counts as a denial; a missing receiver is reported through fix errors.
func (s *SerialSource) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := s.ensureOpen(); err != nil {
		if isPermissionDenied(err) {
			return false, nil
		}
		log.Printf("gps: open %s: %v", s.device, err)
	}
	return true, nil
}

// Run keeps the port open and publishes fixes until ctx is done.
func (s *SerialSource) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		port := s.port
		s.port = nil
		s.mu.Unlock()
		if port != nil {
			_ = port.Close()
		}
	}()

	for ctx.Err() == nil {
		port, err := s.ensureOpen()
		if err != nil {
			log.Printf("gps: open %s: %v", s.device, err)
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(reopenDelay):
			}
			continue
		}

		err = s.read(port)
		s.release(port)
		if ctx.Err() != nil {
			return
		}
		log.Printf("gps: receiver on %s lost: %v", s.device, err)
		s.fail(ErrUnavailable)
	}
}

func (s *SerialSource) ensureOpen() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return s.port, nil
	}
	port, err := openPortFn(s.device, s.baud)
	if err != nil {
		s.denied = isPermissionDenied(err)
		return nil, err
	}
	s.port = port
	s.denied = false
	return port, nil
}

func (s *SerialSource) release(port io.ReadCloser) {
	s.mu.Lock()
	owned := s.port == port
	if owned {
		s.port = nil
	}
	s.mu.Unlock()
	if owned {
		_ = port.Close()
	}
}

func (s *SerialSource) read(port io.Reader) error {
	scanner := bufio.NewScanner(port)
	var day time.Time
	var lastTS int64
	hadFix := false

	for scanner.Scan() {
		if day.IsZero() {
			day = s.clock.Now()
		}
		sentence, err := ParseSentence(scanner.Text(), day)
		if errors.Is(err, ErrNoFix) {
			if hadFix {
				hadFix = false
				s.fail(ErrUnavailable)
			}
			continue
		}
		if err != nil {
			continue
		}
		if !sentence.Date.IsZero() {
			day = sentence.Date
		} else if lastTS != 0 && sentence.Position.Timestamp < lastTS-halfDay.Milliseconds() {
			// GGA-only receivers cross UTC midnight without announcing a date
			day = day.AddDate(0, 0, 1)
			sentence.Position.Timestamp += (24 * time.Hour).Milliseconds()
		}
		// RMC and GGA for the same epoch share a timestamp.
		if sentence.Position.Timestamp == lastTS {
			continue
		}
		lastTS = sentence.Position.Timestamp
		hadFix = true
		s.publish(sentence.Position)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func isPermissionDenied(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PermissionDenied
	}
	return errors.Is(err, os.ErrPermission)
}
