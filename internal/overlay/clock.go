package overlay

import "math"

// PlaybackClock turns the engine's fractional position into whole seconds.
// Samples arrive at whatever rate the engine emits time updates.
type PlaybackClock struct {
	tolerance int
	second    int
	seeked    bool
	samples   int
}

func NewPlaybackClock(seekTolerance int) *PlaybackClock {
	if seekTolerance <= 0 {
		seekTolerance = DefaultSeekTolerance
	}
	return &PlaybackClock{tolerance: seekTolerance}
}

// Sample records one engine time update. An engine that has not loaded yet,
// or reports a position that is not a finite non-negative number, reads as 0.
func (c *PlaybackClock) Sample(position float64, loaded bool) int {
	next := 0
	if loaded && !math.IsNaN(position) && !math.IsInf(position, 0) && position > 0 {
		next = int(math.Floor(position))
	}
	c.seeked = c.samples > 0 && IsBackwardSeek(c.second, next, c.tolerance)
	c.second = next
	c.samples++
	return next
}

func (c *PlaybackClock) CurrentSecond() int {
	return c.second
}

// Seeked reports whether the latest sample jumped backwards past the
// tolerance.
func (c *PlaybackClock) Seeked() bool {
	return c.seeked
}

// IsBackwardSeek reports a backward jump larger than natural drift.
func IsBackwardSeek(previous, current, tolerance int) bool {
	return current < previous-tolerance
}
