// Package gpio provides button level reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"

	"github.com/sweeney/button-sensor/internal/button"
)

// Reader reads the raw level of button channels.
// It satisfies button.LevelReader.
type Reader interface {
	// Level returns the raw level of channel id.
	Level(id int) (button.Level, error)

	// Close releases GPIO resources.
	Close() error
}

// ErrUnknownChannel is returned for a channel that has no line.
var ErrUnknownChannel = errors.New("gpio: unknown channel")

// Bias selects the internal pull resistor of an input line.
type Bias string

const (
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasNone     Bias = "none"
)

// Line maps a button channel to a GPIO line offset.
type Line struct {
	Channel int
	Offset  int
	Bias    Bias
}

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"
