package application

import "time"

// Clock abstracts time so run timestamps are testable
type Clock interface {
	Now() time.Time
}

// SystemClock is the default clock, in UTC to match the database loc setting.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }
