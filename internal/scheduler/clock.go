package scheduler

import (
	"errors"
	"time"
)

var ErrClockUnavailable = errors.New("clock unavailable")

// Clock is the scheduler's time source.
type Clock interface {
	Now() (time.Time, error)
}

// SystemClock reads the wall clock, optionally converted to Location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() (time.Time, error) {
	now := time.Now()
	if now.IsZero() {
		return time.Time{}, ErrClockUnavailable
	}
	if c.Location != nil {
		now = now.In(c.Location)
	}
	return now, nil
}
