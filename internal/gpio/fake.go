package gpio

import (
	"errors"
	"fmt"

	"github.com/sweeney/button-sensor/internal/button"
)

// FakeReader is a test double that returns scripted levels per channel.
type FakeReader struct {
	// Samples contains the scripted levels for each channel.
	// Each call to Level(id) consumes the next sample for that channel.
	Samples map[int][]button.Level

	// index tracks the current position per channel
	index map[int]int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Level for every channel.
	ReadError error

	// ChannelErrors, if set for a channel, will be returned by Level for it.
	ChannelErrors map[int]error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples map[int][]button.Level) *FakeReader {
	return &FakeReader{
		Samples:       samples,
		index:         make(map[int]int),
		ChannelErrors: make(map[int]error),
	}
}

// Level returns the next scripted sample for channel id.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Level(id int) (button.Level, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if err := f.ChannelErrors[id]; err != nil {
		return 0, err
	}

	samples, ok := f.Samples[id]
	if !ok {
		return 0, fmt.Errorf("channel %d: %w", id, ErrUnknownChannel)
	}
	if len(samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	i := f.index[id]
	if i < len(samples)-1 {
		f.index[id] = i + 1
	}
	return samples[i], nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds every channel to its first sample.
func (f *FakeReader) Reset() {
	f.index = make(map[int]int)
	f.Closed = false
}
