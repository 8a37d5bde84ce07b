// Package clock turns wall-clock samples into the free-running millisecond
// ticks consumed by the button engine.
package clock

import (
	"time"

	"github.com/sweeney/button-sensor/internal/button"
)

// Millis counts milliseconds since a start time. The count wraps at 2^32
// (about 49.7 days), which the engine tolerates.
//
// The tick value only changes when Set is called, so every channel polled in
// the same loop iteration sees the same time. Not safe for concurrent use.
type Millis struct {
	start time.Time
	now   button.Ticks
}

// NewMillis creates a clock that reads zero at start.
func NewMillis(start time.Time) *Millis {
	return &Millis{start: start}
}

// Set records the wall-clock time of the current poll.
func (m *Millis) Set(t time.Time) {
	m.now = Ticks(t.Sub(m.start))
}

// Now returns the ticks recorded by the last Set.
func (m *Millis) Now() button.Ticks {
	return m.now
}

// Ticks converts a duration to wrapped millisecond ticks.
func Ticks(d time.Duration) button.Ticks {
	return button.Ticks(uint32(d.Milliseconds()))
}
