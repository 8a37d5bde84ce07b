// Package button classifies raw push-button levels into debounced press and
// release events. This package has NO external dependencies (no GPIO, MQTT,
// OS, or time.Sleep). Time and levels are injected through Clock and
// LevelReader.
package button

import (
	"errors"
	"time"
)

// Level is a raw binary input level.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "1"
	}
	return "0"
}

// Ticks is a free-running millisecond counter. Arithmetic on Ticks wraps at
// 2^32, so elapsed time is always now - anchor.
type Ticks uint32

// Elapsed returns the time since anchor, correct across a single wraparound.
func Elapsed(now, anchor Ticks) Ticks {
	return now - anchor
}

// Event is a one-poll signal reported by Process.
type Event string

const (
	EventNone          Event = "NONE"
	EventPressed       Event = "PRESSED"
	EventLongPressed   Event = "LONG_PRESSED"
	EventShortReleased Event = "SHORT_RELEASED"
	EventLongReleased  Event = "LONG_RELEASED"
)

// Phase is the stable, user-visible condition of a channel.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseShortPressed Phase = "SHORT_PRESSED"
	PhaseLongPressed  Phase = "LONG_PRESSED"
	PhaseDisabled     Phase = "DISABLED"
)

// Result is the outcome of a single poll.
type Result struct {
	Event Event
	Phase Phase
}

// Config holds the parameters of one button channel.
type Config struct {
	// ID is the channel number, 1..N. Zero means "take the id given to Register".
	ID int
	// NormalLevel is the level of the released button.
	NormalLevel Level
	// Debounce is how long a new level must persist. Zero disables filtering.
	Debounce Ticks
	// LongPress is how long a confirmed press lasts before it becomes a long press.
	LongPress Ticks
	// Enabled gates the channel. Disabled channels report PhaseDisabled.
	Enabled bool
	// Levels, if set, replaces the registry's shared LevelReader for this channel.
	Levels LevelReader
}

// Runtime is the mutable state of one channel.
type Runtime struct {
	State           State
	DebounceAnchor  Ticks
	LongPressAnchor Ticks
}

// Counts tracks the number of each event since startup.
type Counts struct {
	Pressed       int
	LongPressed   int
	ShortReleased int
	LongReleased  int
}

// Add increments the counter for e. EventNone is ignored.
func (c *Counts) Add(e Event) {
	switch e {
	case EventPressed:
		c.Pressed++
	case EventLongPressed:
		c.LongPressed++
	case EventShortReleased:
		c.ShortReleased++
	case EventLongReleased:
		c.LongReleased++
	}
}

// Total returns the sum of all counters.
func (c Counts) Total() int {
	return c.Pressed + c.LongPressed + c.ShortReleased + c.LongReleased
}

// Report is a non-None result tagged with its channel and wall-clock time.
type Report struct {
	Timestamp time.Time
	Channel   int
	Name      string
	Event     Event
	Phase     Phase
}

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidConfig  = errors.New("invalid config")
	ErrLevelRead      = errors.New("level read failure")
)
