package utils

import (
	"time"
)

// Clock returns the current time. Components take one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock
func SystemClock() time.Time {
	return time.Now()
}

// UnixToTime converts a Unix timestamp (seconds) to time.Time
func UnixToTime(timestamp int64) time.Time {
	return time.Unix(timestamp, 0)
}

// IsWithinWindow checks if t is no older than window relative to now
func IsWithinWindow(t, now time.Time, window time.Duration) bool {
	return now.Sub(t) <= window
}
