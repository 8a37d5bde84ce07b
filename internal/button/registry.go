package button

import (
	"errors"
	"fmt"
)

// Clock returns a free-running millisecond tick count.
type Clock interface {
	Now() Ticks
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() Ticks

// Now calls f.
func (f ClockFunc) Now() Ticks { return f() }

// LevelReader returns the raw level of a channel.
type LevelReader interface {
	Level(id int) (Level, error)
}

// LevelReaderFunc adapts a function to LevelReader.
type LevelReaderFunc func(id int) (Level, error)

// Level calls f.
func (f LevelReaderFunc) Level(id int) (Level, error) { return f(id) }

type channel struct {
	cfg *Config
	rt  Runtime
}

// Registry owns a fixed number of channels, numbered 1..N.
// Not safe for concurrent use: callers must serialize access.
type Registry struct {
	clock    Clock
	levels   LevelReader
	channels []channel
}

// MaxChannels is the largest channel count a registry accepts.
const MaxChannels = 255

// NewRegistry creates a registry for n channels, 1 <= n <= MaxChannels, that
// reads time from clock and levels from levels.
func NewRegistry(n int, clock Clock, levels LevelReader) (*Registry, error) {
	if n < 1 || n > MaxChannels {
		return nil, fmt.Errorf("channel count %d: %w", n, ErrInvalidConfig)
	}
	if clock == nil {
		return nil, errors.New("nil clock")
	}
	if levels == nil {
		return nil, errors.New("nil level reader")
	}
	return &Registry{
		clock:    clock,
		levels:   levels,
		channels: make([]channel, n),
	}, nil
}

// Len returns the channel capacity N.
func (r *Registry) Len() int {
	return len(r.channels)
}

// Register stores cfg for channel id and resets its runtime to Idle.
// The registry keeps the pointer; SetEnabled writes through it.
func (r *Registry) Register(id int, cfg *Config) error {
	if id < 1 || id > len(r.channels) {
		return fmt.Errorf("channel %d: %w", id, ErrInvalidChannel)
	}
	if cfg == nil {
		return fmt.Errorf("channel %d: nil config: %w", id, ErrInvalidConfig)
	}
	if cfg.NormalLevel != Low && cfg.NormalLevel != High {
		return fmt.Errorf("channel %d: normal level %d: %w", id, cfg.NormalLevel, ErrInvalidConfig)
	}
	if cfg.ID != 0 && cfg.ID != id {
		return fmt.Errorf("channel %d: config is for channel %d: %w", id, cfg.ID, ErrInvalidConfig)
	}

	r.channels[id-1] = channel{cfg: cfg}
	return nil
}

// SetEnabled enables or disables channel id and resets it to Idle.
func (r *Registry) SetEnabled(id int, enabled bool) error {
	ch, err := r.lookup(id)
	if err != nil {
		return err
	}
	ch.cfg.Enabled = enabled
	ch.rt.State = StateIdle
	return nil
}

// Process polls channel id once. A level read failure leaves the channel
// untouched.
func (r *Registry) Process(id int) (Result, error) {
	ch, err := r.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if !ch.cfg.Enabled {
		return Result{Event: EventNone, Phase: PhaseDisabled}, nil
	}

	levels := r.levels
	if ch.cfg.Levels != nil {
		levels = ch.cfg.Levels
	}
	level, err := levels.Level(id)
	if err != nil {
		return Result{}, fmt.Errorf("channel %d: %w: %w", id, ErrLevelRead, err)
	}
	if level != Low && level != High {
		return Result{}, fmt.Errorf("channel %d: level %d: %w", id, level, ErrLevelRead)
	}

	return Step(ch.cfg, &ch.rt, level, r.clock.Now()), nil
}

// Runtime returns a copy of the runtime state of channel id.
func (r *Registry) Runtime(id int) (Runtime, error) {
	ch, err := r.lookup(id)
	if err != nil {
		return Runtime{}, err
	}
	return ch.rt, nil
}

// Config returns a copy of the configuration of channel id.
func (r *Registry) Config(id int) (Config, error) {
	ch, err := r.lookup(id)
	if err != nil {
		return Config{}, err
	}
	return *ch.cfg, nil
}

func (r *Registry) lookup(id int) (*channel, error) {
	if id < 1 || id > len(r.channels) {
		return nil, fmt.Errorf("channel %d: %w", id, ErrInvalidChannel)
	}
	ch := &r.channels[id-1]
	if ch.cfg == nil {
		return nil, fmt.Errorf("channel %d not registered: %w", id, ErrInvalidChannel)
	}
	return ch, nil
}
