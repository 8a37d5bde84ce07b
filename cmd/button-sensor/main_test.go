package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
	"github.com/sweeney/button-sensor/internal/web"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}

	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{Type: "wifi", IP: "192.168.1.100", Status: "connected", SSID: "MyNetwork"}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestDefaultConfigCommand(t *testing.T) {
	var out bytes.Buffer
	mainCmd.SetOut(&out)
	mainCmd.SetArgs([]string{"default-config"})
	defer mainCmd.SetArgs(nil)

	if err := mainCmd.Execute(); err != nil {
		t.Fatalf("default-config: %v", err)
	}
	if out.String() != config.DefaultTOML {
		t.Error("default-config should print the default configuration")
	}
	if _, err := config.Parse(out.String()); err != nil {
		t.Errorf("printed configuration does not parse: %v", err)
	}
}

func TestPressedString(t *testing.T) {
	if got := pressedString(button.Low, button.High); got != "PRESSED" {
		t.Errorf("low on a pull-up button: got %s", got)
	}
	if got := pressedString(button.High, button.High); got != "RELEASED" {
		t.Errorf("high on a pull-up button: got %s", got)
	}
}

// --- runLoop tests ---

const testStart = "2026-01-01T00:00:00Z"

const testTOML = `
[[button]]
id = 1
name = "up"
pin = 5
normal_level = 1
debounce_ms = 50
long_press_ms = 200

[[button]]
id = 2
name = "down"
pin = 6
normal_level = 1
debounce_ms = 50
long_press_ms = 200
`

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// levels builds a sample script from a string of 0s and 1s.
func levels(s string) []button.Level {
	out := make([]button.Level, 0, len(s))
	for _, c := range s {
		if c == '1' {
			out = append(out, button.High)
		} else {
			out = append(out, button.Low)
		}
	}
	return out
}

type testLoop struct {
	loop
	pub      *mqtt.FakePublisher
	commands chan mqtt.Command
	start    time.Time
}

func newTestLoop(t *testing.T, toml string, reader button.LevelReader, heartbeat time.Duration) *testLoop {
	t.Helper()
	cfg, err := config.Parse(toml)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	start, _ := time.Parse(time.RFC3339, testStart)

	clk := clock.NewMillis(start)
	registry, channels, err := newRegistry(cfg, clk, reader)
	if err != nil {
		t.Fatalf("newRegistry: %v", err)
	}

	tracker := status.NewTracker(start, status.Config{PollMs: cfg.PollMs})
	for _, b := range cfg.Button {
		tracker.AddChannel(b.ID, b.Name, b.IsEnabled())
	}

	pub := mqtt.NewFakePublisher()
	commands := make(chan mqtt.Command, 8)
	return &testLoop{
		loop: loop{
			registry:   registry,
			clock:      clk,
			channels:   channels,
			publisher:  pub,
			mqttStatus: pub,
			tracker:    tracker,
			commands:   commands,
			heartbeat:  heartbeat,
		},
		pub:      pub,
		commands: commands,
		start:    start,
	}
}

// run drives runLoop for nTicks 50ms ticks, sending the commands in before[i]
// ahead of tick i (1-based), then delivers signal.
func (tl *testLoop) run(t *testing.T, nTicks int, before map[int][]mqtt.Command, signal os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(tl.loop, fakeClock(tl.start, 50*time.Millisecond), tick, sig)
	}()

	for i := 1; i <= nTicks; i++ {
		for _, cmd := range before[i] {
			tl.commands <- cmd
		}
		tick <- time.Time{}
	}
	sig <- signal

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

type seen struct {
	channel int
	event   button.Event
	phase   button.Phase
	at      time.Duration
}

func (tl *testLoop) seen() []seen {
	var out []seen
	for _, r := range tl.pub.ReportsSnapshot() {
		out = append(out, seen{r.Channel, r.Event, r.Phase, r.Timestamp.Sub(tl.start)})
	}
	return out
}

func assertSeen(t *testing.T, got, want []seen) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d reports, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("report %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRunLoopShortAndLongPress(t *testing.T) {
	// Tick i happens at i*50ms. Button 1 is held from 100ms to 350ms, long
	// enough to pass 200ms after the debounced press at 150ms. Button 2 is a
	// quick tap from 100ms to 150ms.
	reader := gpio.NewFakeReader(map[int][]button.Level{
		1: levels("100000011"),
		2: levels("10011"),
	})
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.run(t, 9, nil, syscall.SIGTERM)

	assertSeen(t, tl.seen(), []seen{
		{1, button.EventPressed, button.PhaseShortPressed, 150 * time.Millisecond},
		{2, button.EventPressed, button.PhaseShortPressed, 150 * time.Millisecond},
		{2, button.EventShortReleased, button.PhaseIdle, 250 * time.Millisecond},
		{1, button.EventLongPressed, button.PhaseLongPressed, 350 * time.Millisecond},
		{1, button.EventLongReleased, button.PhaseIdle, 450 * time.Millisecond},
	})

	reports := tl.pub.ReportsSnapshot()
	if reports[0].Name != "up" || reports[1].Name != "down" {
		t.Errorf("reports should carry button names, got %q and %q", reports[0].Name, reports[1].Name)
	}

	snap := tl.tracker.Snapshot()
	if c := snap.Channels[0].Counts; c.Pressed != 1 || c.LongPressed != 1 || c.LongReleased != 1 {
		t.Errorf("button 1 counts: %+v", c)
	}
	if c := snap.Channels[1].Counts; c.Pressed != 1 || c.ShortReleased != 1 {
		t.Errorf("button 2 counts: %+v", c)
	}
	if snap.Channels[0].Phase != button.PhaseIdle {
		t.Errorf("button 1 should end IDLE, got %s", snap.Channels[0].Phase)
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	// Single-sample glitches never last the 50ms debounce.
	reader := gpio.NewFakeReader(map[int][]button.Level{
		1: levels("1010101011"),
		2: levels("1"),
	})
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.run(t, 10, nil, syscall.SIGTERM)

	if got := tl.seen(); len(got) != 0 {
		t.Errorf("expected no events from bounces, got %+v", got)
	}
}

func TestRunLoopWithHub(t *testing.T) {
	reader := gpio.NewFakeReader(map[int][]button.Level{
		1: levels("1001"),
		2: levels("1"),
	})
	tl := newTestLoop(t, testTOML, reader, 0)
	hub := web.NewHub(4)
	defer hub.Close()
	tl.hub = hub

	tl.run(t, 4, nil, syscall.SIGTERM)

	if len(tl.seen()) != 1 {
		t.Errorf("expected 1 report, got %+v", tl.seen())
	}
}

func TestRunLoopReadErrorSkipsChannel(t *testing.T) {
	reader := gpio.NewFakeReader(map[int][]button.Level{
		1: levels("1001"),
		2: levels("1001"),
	})
	reader.ChannelErrors[2] = errors.New("line 6 gone")
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.run(t, 4, nil, syscall.SIGTERM)

	assertSeen(t, tl.seen(), []seen{
		{1, button.EventPressed, button.PhaseShortPressed, 150 * time.Millisecond},
	})

	found := false
	for _, se := range tl.pub.SystemSnapshot() {
		if se.Event == mqtt.EventShutdown {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after read errors")
	}
}

// flakyReader fails every read of one channel between two call counts.
type flakyReader struct {
	inner   *gpio.FakeReader
	channel int
	call    int
	from    int // first failing call (inclusive)
	to      int // last failing call (exclusive)
}

func (r *flakyReader) Level(id int) (button.Level, error) {
	if id == r.channel {
		i := r.call
		r.call++
		if i >= r.from && i < r.to {
			return 0, errors.New("gpio fault")
		}
	}
	return r.inner.Level(id)
}

func TestRunLoopReadErrorRecovery(t *testing.T) {
	// Reads 1..3 of button 1 fail while it is already pressed. The failed
	// polls leave the channel untouched, so the press is still confirmed
	// once reads resume.
	reader := &flakyReader{
		inner: gpio.NewFakeReader(map[int][]button.Level{
			1: levels("10000"),
			2: levels("1"),
		}),
		channel: 1,
		from:    2,
		to:      4,
	}
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.run(t, 6, nil, syscall.SIGTERM)

	// Call 0 at 50ms, call 1 at 100ms starts the press, calls 2,3 fail,
	// call 4 at 250ms is past the debounce.
	assertSeen(t, tl.seen(), []seen{
		{1, button.EventPressed, button.PhaseShortPressed, 250 * time.Millisecond},
	})
}

// timeline reads the script entry for the current tick, so polls skipped
// while a channel is disabled do not shift the script.
func timeline(clk **clock.Millis, scripts map[int]string) button.LevelReader {
	return button.LevelReaderFunc(func(id int) (button.Level, error) {
		script := levels(scripts[id])
		if len(script) == 0 {
			return 0, gpio.ErrUnknownChannel
		}
		i := int((*clk).Now()/50) - 1
		if i >= len(script) {
			i = len(script) - 1
		}
		return script[i], nil
	})
}

func TestRunLoopCommands(t *testing.T) {
	var clk *clock.Millis
	reader := timeline(&clk, map[int]string{
		1: "1",
		2: "10011110011",
	})
	tl := newTestLoop(t, testTOML, reader, 0)
	clk = tl.clock

	tl.run(t, 11, map[int][]mqtt.Command{
		1: {{Channel: 2, Enabled: false}, {Channel: 9, Enabled: false}},
		6: {{Channel: 2, Enabled: true}},
	}, syscall.SIGTERM)

	// The first tap happens while disabled; only the second one counts.
	assertSeen(t, tl.seen(), []seen{
		{2, button.EventPressed, button.PhaseShortPressed, 450 * time.Millisecond},
		{2, button.EventShortReleased, button.PhaseIdle, 550 * time.Millisecond},
	})

	ch := tl.tracker.Snapshot().Channels[1]
	if !ch.Enabled || ch.Phase != button.PhaseIdle {
		t.Errorf("button 2 after re-enable: %+v", ch)
	}
}

func TestRunLoopDisableReportsDisabled(t *testing.T) {
	reader := gpio.NewFakeReader(map[int][]button.Level{
		1: levels("1"),
		2: levels("1"),
	})
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.run(t, 2, map[int][]mqtt.Command{2: {{Channel: 1, Enabled: false}}}, syscall.SIGTERM)

	ch := tl.tracker.Snapshot().Channels[0]
	if ch.Enabled || ch.Phase != button.PhaseDisabled {
		t.Errorf("button 1 after disable: %+v", ch)
	}
	if cfg, _ := tl.registry.Config(1); cfg.Enabled {
		t.Error("registry should have button 1 disabled")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	reader := gpio.NewFakeReader(map[int][]button.Level{1: levels("1"), 2: levels("1")})
	tl := newTestLoop(t, testTOML, reader, 200*time.Millisecond)
	tl.run(t, 9, nil, syscall.SIGTERM)

	var heartbeats []mqtt.SystemEvent
	for _, se := range tl.pub.SystemSnapshot() {
		if se.Event == mqtt.EventHeartbeat {
			heartbeats = append(heartbeats, se)
		}
	}
	// Due at 200ms and 400ms.
	if len(heartbeats) != 2 {
		t.Fatalf("expected 2 heartbeats, got %d", len(heartbeats))
	}
	payload := string(heartbeats[0].RawPayload)
	for _, want := range []string{`"event":"HEARTBEAT"`, `"ssid":"HomeNet"`, `"buttons"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("heartbeat payload missing %s: %s", want, payload)
		}
	}
	if heartbeats[0].Retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestRunLoopNoHeartbeatWhenDisabled(t *testing.T) {
	reader := gpio.NewFakeReader(map[int][]button.Level{1: levels("1"), 2: levels("1")})
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.run(t, 20, nil, syscall.SIGTERM)

	for _, se := range tl.pub.SystemSnapshot() {
		if se.Event == mqtt.EventHeartbeat {
			t.Fatal("heartbeat published while disabled")
		}
	}
}

func TestRunLoopPublishError(t *testing.T) {
	reader := gpio.NewFakeReader(map[int][]button.Level{1: levels("1001"), 2: levels("1")})
	tl := newTestLoop(t, testTOML, reader, 0)
	tl.pub.PublishError = errors.New("broker unavailable")
	tl.run(t, 4, nil, syscall.SIGTERM)

	if len(tl.seen()) != 0 {
		t.Errorf("expected 0 recorded reports (publish failed), got %d", len(tl.seen()))
	}
	// The press is still tracked for the status page.
	if got := tl.tracker.Snapshot().Channels[0].Counts.Pressed; got != 1 {
		t.Errorf("tracker pressed count: got %d, want 1", got)
	}
	if len(tl.pub.SystemSnapshot()) != 1 {
		t.Error("expected SHUTDOWN despite publish errors")
	}
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		signal os.Signal
		reason string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			reader := gpio.NewFakeReader(map[int][]button.Level{1: levels("1"), 2: levels("1")})
			tl := newTestLoop(t, testTOML, reader, 0)
			tl.pub.SetConnected(true)
			tl.run(t, 2, nil, tt.signal)

			events := tl.pub.SystemSnapshot()
			if len(events) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(events))
			}
			se := events[0]
			if se.Event != mqtt.EventShutdown {
				t.Errorf("expected SHUTDOWN, got %q", se.Event)
			}
			if se.Reason != tt.reason {
				t.Errorf("expected reason %s, got %q", tt.reason, se.Reason)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
			payload := string(se.RawPayload)
			if !strings.Contains(payload, `"reason":"`+tt.reason+`"`) || !strings.Contains(payload, `"connected":true`) {
				t.Errorf("unexpected shutdown payload: %s", payload)
			}
		})
	}
}

func TestNewRegistrySparseIDs(t *testing.T) {
	cfg, err := config.Parse(`
[[button]]
id = 3
name = "c"
pin = 7

[[button]]
id = 1
name = "a"
pin = 8
enabled = false
`)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	reader := gpio.NewFakeReader(map[int][]button.Level{1: levels("0"), 3: levels("0")})
	registry, channels, err := newRegistry(cfg, clock.NewMillis(time.Now()), reader)
	if err != nil {
		t.Fatalf("newRegistry: %v", err)
	}

	if registry.Len() != 3 {
		t.Errorf("Len: got %d, want 3", registry.Len())
	}
	if len(channels) != 2 || channels[0] != (channelInfo{1, "a"}) || channels[1] != (channelInfo{3, "c"}) {
		t.Errorf("channels: got %+v", channels)
	}
	if _, err := registry.Process(2); !errors.Is(err, button.ErrInvalidChannel) {
		t.Errorf("unconfigured slot: expected ErrInvalidChannel, got %v", err)
	}
	if res, _ := registry.Process(1); res.Phase != button.PhaseDisabled {
		t.Errorf("button 1 should start disabled, got %s", res.Phase)
	}
}

type fakeServer struct {
	err      error
	deadline bool
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	_, f.deadline = ctx.Deadline()
	return f.err
}

func TestStopHTTP(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	srv := &fakeServer{}
	stopHTTP(srv, time.Second)
	if !srv.deadline {
		t.Error("shutdown context should carry a deadline")
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("clean shutdown should not log, got %d entries", len(hook.AllEntries()))
	}

	srv.err = context.DeadlineExceeded
	stopHTTP(srv, time.Second)
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("failed shutdown was not logged")
	}
	if entry.Level != log.WarnLevel {
		t.Errorf("level: got %s, want warning", entry.Level)
	}
	if entry.Data[log.ErrorKey] != context.DeadlineExceeded {
		t.Errorf("error field: got %v", entry.Data[log.ErrorKey])
	}
}
