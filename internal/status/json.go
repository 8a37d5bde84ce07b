package status

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sweeney/button-sensor/internal/button"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Buttons       []ButtonJSON `json:"buttons"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ButtonJSON is the JSON representation of one channel.
type ButtonJSON struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Enabled     bool       `json:"enabled"`
	LastEvent   string     `json:"last_event,omitempty"`
	LastEventAt string     `json:"last_event_at,omitempty"`
	Counts      CountsJSON `json:"event_counts"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Pressed       int `json:"pressed"`
	LongPressed   int `json:"long_pressed"`
	ShortReleased int `json:"short_released"`
	LongReleased  int `json:"long_released"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
}

func countsJSON(c button.Counts) CountsJSON {
	return CountsJSON{
		Pressed:       c.Pressed,
		LongPressed:   c.LongPressed,
		ShortReleased: c.ShortReleased,
		LongReleased:  c.LongReleased,
	}
}

func buildInner(snap Snapshot) StatusInner {
	buttons := make([]ButtonJSON, 0, len(snap.Channels))
	for _, ch := range snap.Channels {
		b := ButtonJSON{
			ID:      ch.ID,
			Name:    ch.Name,
			State:   string(ch.Phase),
			Enabled: ch.Enabled,
			Counts:  countsJSON(ch.Counts),
		}
		if ch.LastEvent != "" && ch.LastEvent != button.EventNone {
			b.LastEvent = string(ch.LastEvent)
			b.LastEventAt = ch.LastEventAt.UTC().Format(time.RFC3339)
		}
		buttons = append(buttons, b)
	}

	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Buttons:       buttons,
		Counts:        countsJSON(snap.Totals()),
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
