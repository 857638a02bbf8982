package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvanceFiresAfter(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	short := c.After(time.Second)
	long := c.After(time.Minute)
	if c.Waiters() != 2 {
		t.Fatalf("expected 2 waiters, got %d", c.Waiters())
	}

	c.Advance(2 * time.Second)
	select {
	case got := <-short:
		if !got.Equal(start.Add(2 * time.Second)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatalf("expected short timer to fire")
	}
	select {
	case <-long:
		t.Fatalf("long timer fired early")
	default:
	}
	if c.Since(start) != 2*time.Second {
		t.Fatalf("unexpected since: %v", c.Since(start))
	}
	if c.Waiters() != 1 {
		t.Fatalf("expected 1 pending waiter, got %d", c.Waiters())
	}
}

func TestMockClockZeroDurationFiresImmediately(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatalf("expected immediate fire")
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	if c.Now().Before(before) {
		t.Fatalf("real clock went backwards")
	}
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatalf("real After never fired")
	}
}
