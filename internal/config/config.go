// Package config loads the daemon configuration from a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/gpio"
)

// Defaults applied to fields left unset in the file.
const (
	DefaultPollMs      = 10
	DefaultBroker      = "tcp://127.0.0.1:1883"
	DefaultClientID    = "button-sensor"
	DefaultTopicPrefix = "home/buttons"
	DefaultBufferSize  = 100
	DefaultHTTPAddr    = ":8080"
	DefaultLogLevel    = "info"
)

// Config is the daemon configuration.
type Config struct {
	PollMs   int64  `toml:"poll_ms"`
	LogLevel string `toml:"log_level"`
	// HeartbeatMs is the status heartbeat interval. Omitted or 0 disables it.
	HeartbeatMs int64 `toml:"heartbeat_ms"`

	GPIO   GPIO     `toml:"gpio"`
	MQTT   MQTT     `toml:"mqtt"`
	HTTP   HTTP     `toml:"http"`
	Button []Button `toml:"button"`
}

type GPIO struct {
	Chip string `toml:"chip"`
}

type MQTT struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	BufferSize  int    `toml:"buffer_size"`
}

type HTTP struct {
	Addr string `toml:"addr"`
}

// Button describes one push-button channel.
type Button struct {
	ID          int    `toml:"id"`
	Name        string `toml:"name"`
	Pin         int    `toml:"pin"`
	NormalLevel int    `toml:"normal_level"`
	Bias        string `toml:"bias"`
	DebounceMs  int64  `toml:"debounce_ms"`
	LongPressMs int64  `toml:"long_press_ms"`
	Enabled     *bool  `toml:"enabled"`
}

// IsEnabled reports whether the button starts enabled. Missing means true.
func (b Button) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode %s: unknown key %q", path, undecoded[0].String())
	}
	return finish(&c, md)
}

// Parse decodes and validates a TOML document.
func Parse(data string) (*Config, error) {
	var c Config
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode: unknown key %q", undecoded[0].String())
	}
	return finish(&c, md)
}

func finish(c *Config, md toml.MetaData) (*Config, error) {
	c.applyDefaults()
	// An explicit empty addr disables the server; a missing one gets the default.
	if !md.IsDefined("http", "addr") {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.PollMs == 0 {
		c.PollMs = DefaultPollMs
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = gpio.DefaultChip
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = DefaultBroker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = DefaultBufferSize
	}
	for i := range c.Button {
		if c.Button[i].Bias == "" {
			c.Button[i].Bias = string(gpio.BiasPullDown)
		}
		if c.Button[i].Name == "" {
			c.Button[i].Name = fmt.Sprintf("button%d", c.Button[i].ID)
		}
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.PollMs <= 0 {
		return fmt.Errorf("poll_ms must be positive, got %d", c.PollMs)
	}
	if c.HeartbeatMs < 0 {
		return fmt.Errorf("heartbeat_ms must not be negative, got %d", c.HeartbeatMs)
	}
	if c.MQTT.BufferSize < 1 {
		return fmt.Errorf("mqtt.buffer_size must be positive, got %d", c.MQTT.BufferSize)
	}
	if len(c.Button) == 0 {
		return fmt.Errorf("no buttons configured")
	}

	ids := make(map[int]bool, len(c.Button))
	pins := make(map[int]int, len(c.Button))
	for i, b := range c.Button {
		if b.ID < 1 || b.ID > button.MaxChannels {
			return fmt.Errorf("button #%d: id must be between 1 and %d, got %d", i, button.MaxChannels, b.ID)
		}
		if ids[b.ID] {
			return fmt.Errorf("button #%d: duplicate id %d", i, b.ID)
		}
		ids[b.ID] = true
		if b.Pin < 0 {
			return fmt.Errorf("button %d: pin must not be negative, got %d", b.ID, b.Pin)
		}
		if other, ok := pins[b.Pin]; ok {
			return fmt.Errorf("button %d: pin %d already used by button %d", b.ID, b.Pin, other)
		}
		pins[b.Pin] = b.ID
		if b.NormalLevel != 0 && b.NormalLevel != 1 {
			return fmt.Errorf("button %d: normal_level must be 0 or 1, got %d", b.ID, b.NormalLevel)
		}
		switch gpio.Bias(b.Bias) {
		case gpio.BiasPullUp, gpio.BiasPullDown, gpio.BiasNone:
		default:
			return fmt.Errorf("button %d: unknown bias %q", b.ID, b.Bias)
		}
		if b.DebounceMs < 0 || b.DebounceMs > maxTicks {
			return fmt.Errorf("button %d: debounce_ms out of range: %d", b.ID, b.DebounceMs)
		}
		if b.LongPressMs < 0 || b.LongPressMs > maxTicks {
			return fmt.Errorf("button %d: long_press_ms out of range: %d", b.ID, b.LongPressMs)
		}
	}
	return nil
}

// Durations longer than half the tick range could be mistaken for a wrap.
const maxTicks = 1<<31 - 1

// Poll returns the polling interval.
func (c *Config) Poll() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// Heartbeat returns the heartbeat interval. Zero disables heartbeats.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// Channels returns the registry size: the highest configured button id.
func (c *Config) Channels() int {
	n := 0
	for _, b := range c.Button {
		if b.ID > n {
			n = b.ID
		}
	}
	return n
}

// ButtonConfigs converts the [[button]] entries into engine configurations.
func (c *Config) ButtonConfigs() []button.Config {
	out := make([]button.Config, 0, len(c.Button))
	for _, b := range c.Button {
		out = append(out, button.Config{
			ID:          b.ID,
			NormalLevel: button.Level(b.NormalLevel),
			Debounce:    clock.Ticks(time.Duration(b.DebounceMs) * time.Millisecond),
			LongPress:   clock.Ticks(time.Duration(b.LongPressMs) * time.Millisecond),
			Enabled:     b.IsEnabled(),
		})
	}
	return out
}

// Lines returns the GPIO line for each button.
func (c *Config) Lines() []gpio.Line {
	out := make([]gpio.Line, 0, len(c.Button))
	for _, b := range c.Button {
		out = append(out, gpio.Line{Channel: b.ID, Offset: b.Pin, Bias: gpio.Bias(b.Bias)})
	}
	return out
}

// Names maps button ids to their names.
func (c *Config) Names() map[int]string {
	out := make(map[int]string, len(c.Button))
	for _, b := range c.Button {
		out[b.ID] = b.Name
	}
	return out
}
