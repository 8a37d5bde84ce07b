// Package status provides a thread-safe status tracker for the button-sensor daemon.
// It is written by the poll loop and read by HTTP handlers and MQTT heartbeats.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/button-sensor/internal/button"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	TopicPrefix string
	HTTPAddr    string
}

// ChannelStatus is the last known state of one button.
type ChannelStatus struct {
	ID          int
	Name        string
	Phase       button.Phase
	Enabled     bool
	Counts      button.Counts
	LastEvent   button.Event
	LastEventAt time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      []ChannelStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Totals sums the event counts of every channel.
func (s Snapshot) Totals() button.Counts {
	var c button.Counts
	for _, ch := range s.Channels {
		c.Pressed += ch.Counts.Pressed
		c.LongPressed += ch.Counts.LongPressed
		c.ShortReleased += ch.Counts.ShortReleased
		c.LongReleased += ch.Counts.LongReleased
	}
	return c
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	channels map[int]*ChannelStatus
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		channels: make(map[int]*ChannelStatus),
	}
}

// AddChannel starts tracking a button. Adding an id twice replaces it.
func (t *Tracker) AddChannel(id int, name string, enabled bool) {
	phase := button.PhaseIdle
	if !enabled {
		phase = button.PhaseDisabled
	}
	t.mu.Lock()
	t.channels[id] = &ChannelStatus{ID: id, Name: name, Phase: phase, Enabled: enabled}
	t.mu.Unlock()
}

// Update records the result of one poll of channel id.
// Unknown ids are ignored.
func (t *Tracker) Update(id int, res button.Result, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[id]
	if !ok {
		return
	}
	ch.Phase = res.Phase
	if res.Event != button.EventNone {
		ch.Counts.Add(res.Event)
		ch.LastEvent = res.Event
		ch.LastEventAt = at
	}
}

// SetEnabled records an enable/disable command applied to channel id.
func (t *Tracker) SetEnabled(id int, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[id]
	if !ok {
		return
	}
	ch.Enabled = enabled
	if enabled {
		ch.Phase = button.PhaseIdle
	} else {
		ch.Phase = button.PhaseDisabled
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state with channels
// ordered by id. The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = make([]ChannelStatus, 0, len(t.channels))
	for _, ch := range t.channels {
		s.Channels = append(s.Channels, *ch)
	}
	t.mu.RUnlock()

	sort.Slice(s.Channels, func(i, j int) bool { return s.Channels[i].ID < s.Channels[j].ID })
	s.Now = time.Now()
	return s
}

// Heartbeat decides when the next periodic heartbeat is due.
// Not safe for concurrent use; the poll loop owns it.
type Heartbeat struct {
	interval time.Duration
	last     time.Time
}

// NewHeartbeat counts the first interval from start. An interval <= 0 never fires.
func NewHeartbeat(interval time.Duration, start time.Time) *Heartbeat {
	return &Heartbeat{interval: interval, last: start}
}

// Due reports whether a heartbeat should be sent at now, and if so starts
// the next interval.
func (h *Heartbeat) Due(now time.Time) bool {
	if h.interval <= 0 || now.Sub(h.last) < h.interval {
		return false
	}
	h.last = now
	return true
}
