// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sweeney/button-sensor/internal/button"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// System event names published on the system topic.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// ErrBadCommand is returned by ParseCommand for topics or payloads it does not understand.
var ErrBadCommand = errors.New("bad command")

// Topics derives every topic the daemon uses from one prefix.
type Topics struct {
	prefix string
}

// NewTopics returns the topics under prefix. A trailing slash is ignored.
func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.TrimRight(prefix, "/")}
}

// Events is where button events are published.
func (t Topics) Events() string { return t.prefix + "/events" }

// System is where lifecycle events and the last will are published.
func (t Topics) System() string { return t.prefix + "/system" }

// Command is the enable/disable topic for one channel.
func (t Topics) Command(id int) string { return fmt.Sprintf("%s/%d/set", t.prefix, id) }

// CommandFilter matches the command topic of every channel.
func (t Topics) CommandFilter() string { return t.prefix + "/+/set" }

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a button event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(report button.Report) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Button ButtonPayload `json:"button"`
}

// ButtonPayload contains the button event details.
type ButtonPayload struct {
	Timestamp string `json:"timestamp"`
	Channel   int    `json:"channel"`
	Name      string `json:"name"`
	Event     string `json:"event"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a button event.
func FormatPayload(report button.Report) ([]byte, error) {
	payload := Payload{
		Button: ButtonPayload{
			Timestamp: report.Timestamp.UTC().Format(time.RFC3339),
			Channel:   report.Channel,
			Name:      report.Name,
			Event:     string(report.Event),
			State:     string(report.Phase),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command asks the daemon to enable or disable one channel.
type Command struct {
	Channel int
	Enabled bool
}

// ParseCommand decodes a message received on a command topic.
func ParseCommand(t Topics, topic string, payload []byte) (Command, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return Command{}, fmt.Errorf("%w: topic %q", ErrBadCommand, topic)
	}
	idText, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return Command{}, fmt.Errorf("%w: topic %q", ErrBadCommand, topic)
	}
	id, err := strconv.Atoi(idText)
	if err != nil || id < 1 {
		return Command{}, fmt.Errorf("%w: channel %q", ErrBadCommand, idText)
	}

	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ENABLE", "ON", "1":
		return Command{Channel: id, Enabled: true}, nil
	case "DISABLE", "OFF", "0":
		return Command{Channel: id, Enabled: false}, nil
	default:
		return Command{}, fmt.Errorf("%w: payload %q", ErrBadCommand, payload)
	}
}
