//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/button-sensor/internal/button"
)

// RealReader reads button lines from actual hardware using the Linux GPIO
// character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealReader opens chip and requests every line as an input.
func NewRealReader(chip string, lines []Line) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("button-sensor"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	r := &RealReader{
		chip:  c,
		lines: make(map[int]*gpiocdev.Line, len(lines)),
	}
	for _, l := range lines {
		bias, err := biasOption(l.Bias)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("channel %d: %w", l.Channel, err)
		}
		line, err := c.RequestLine(l.Offset, gpiocdev.AsInput, bias)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request channel %d pin %d: %w", l.Channel, l.Offset, err)
		}
		r.lines[l.Channel] = line
	}

	return r, nil
}

func biasOption(b Bias) (gpiocdev.LineReqOption, error) {
	switch b {
	case BiasPullUp:
		return gpiocdev.WithPullUp, nil
	case BiasPullDown, "":
		return gpiocdev.WithPullDown, nil
	case BiasNone:
		return gpiocdev.WithBiasDisabled, nil
	}
	return nil, fmt.Errorf("unknown bias %q", b)
}

// Level returns the raw level of channel id.
func (r *RealReader) Level(id int) (button.Level, error) {
	line, ok := r.lines[id]
	if !ok {
		return 0, fmt.Errorf("channel %d: %w", id, ErrUnknownChannel)
	}
	v, err := line.Value()
	if err != nil {
		return 0, fmt.Errorf("read channel %d: %w", id, err)
	}
	if v != 0 {
		return button.High, nil
	}
	return button.Low, nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults)
// before closing, so the pins are in a clean state for shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	for ch, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure channel %d: %w", ch, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d: %w", ch, err))
		}
	}
	r.lines = nil

	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
