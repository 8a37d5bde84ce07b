// Command button-sensor polls push buttons on GPIO lines, debounces them,
// and publishes press and long-press events to MQTT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
	"github.com/sweeney/button-sensor/internal/web"
)

var (
	configPath string
	logLevel   string

	brokerOverride string
	httpOverride   string
	pollOverride   time.Duration

	mainCmd = &cobra.Command{
		Use:          "button-sensor",
		Short:        "Debounce GPIO push buttons and publish their events to MQTT",
		SilenceUsage: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Print the current level of every configured button and exit",
		Args:  cobra.NoArgs,
		RunE:  runState,
	}
	defaultConfigCmd = &cobra.Command{
		Use:   "default-config",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.DefaultTOML)
		},
	}
)

func init() {
	mainCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/button-sensor.toml", "Config path. The path to the TOML configuration file")
	mainCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level. Overrides log_level from the config file")
	runCmd.Flags().StringVar(&brokerOverride, "broker", "", "MQTT broker address. Overrides mqtt.broker")
	runCmd.Flags().StringVar(&httpOverride, "http", "", "HTTP status address. Overrides http.addr, empty disables")
	runCmd.Flags().DurationVar(&pollOverride, "poll", 0, "GPIO polling interval. Overrides poll_ms")
	mainCmd.AddCommand(runCmd, stateCmd, defaultConfigCmd)
}

func main() {
	if err := mainCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("broker") {
		cfg.MQTT.Broker = brokerOverride
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr = httpOverride
	}
	if flags.Changed("poll") {
		cfg.PollMs = pollOverride.Milliseconds()
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.Lines())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	out := cmd.OutOrStdout()
	for _, b := range cfg.Button {
		level, err := reader.Level(b.ID)
		if err != nil {
			return fmt.Errorf("read button %d: %w", b.ID, err)
		}
		fmt.Fprintf(out, "%d %-12s pin=%-3d level=%s %s\n", b.ID, b.Name, b.Pin, level, pressedString(level, button.Level(b.NormalLevel)))
	}
	return nil
}

func pressedString(level, normal button.Level) string {
	if level != normal {
		return "PRESSED"
	}
	return "RELEASED"
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Initialize GPIO
	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.Lines())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	start := time.Now()
	clk := clock.NewMillis(start)
	registry, channels, err := newRegistry(cfg, clk, reader)
	if err != nil {
		return err
	}

	// Initialize MQTT
	commands := make(chan mqtt.Command, 16)
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Topics:     mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		BufferSize: cfg.MQTT.BufferSize,
		Commands:   commands,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(start, status.Config{
		PollMs:      cfg.PollMs,
		HeartbeatMs: cfg.HeartbeatMs,
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	for _, b := range cfg.Button {
		tracker.AddChannel(b.ID, b.Name, b.IsEnabled())
	}
	tracker.SetMQTTConnected(publisher.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	err = publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	})
	if err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	}

	// Start HTTP status server
	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub(16)
		srv := web.New(cfg.HTTP.Addr, tracker, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server stopped")
			}
		}()
		defer stopHTTP(srv, 2*time.Second)
		log.WithField("addr", cfg.HTTP.Addr).Info("http status server listening")
	}

	log.WithFields(log.Fields{
		"buttons":   len(channels),
		"poll":      cfg.Poll(),
		"broker":    cfg.MQTT.Broker,
		"topics":    cfg.MQTT.TopicPrefix,
		"heartbeat": cfg.Heartbeat(),
	}).Info("started")

	ticker := time.NewTicker(cfg.Poll())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		registry:   registry,
		clock:      clk,
		channels:   channels,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		hub:        hub,
		commands:   commands,
		heartbeat:  cfg.Heartbeat(),
	}, time.Now, ticker.C, sigCh)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// stopHTTP shuts srv down, waiting at most timeout for open requests.
func stopHTTP(srv shutdowner, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
}

// channelInfo names a registered channel. The loop polls channels in slice order.
type channelInfo struct {
	id   int
	name string
}

// newRegistry registers every configured button, in id order.
func newRegistry(cfg *config.Config, clk button.Clock, levels button.LevelReader) (*button.Registry, []channelInfo, error) {
	registry, err := button.NewRegistry(cfg.Channels(), clk, levels)
	if err != nil {
		return nil, nil, fmt.Errorf("init buttons: %w", err)
	}

	names := cfg.Names()
	present := make(map[int]bool)
	for _, bc := range cfg.ButtonConfigs() {
		bc := bc
		if err := registry.Register(bc.ID, &bc); err != nil {
			return nil, nil, fmt.Errorf("register button %d: %w", bc.ID, err)
		}
		present[bc.ID] = true
	}

	channels := make([]channelInfo, 0, len(present))
	for id := 1; id <= registry.Len(); id++ {
		if present[id] {
			channels = append(channels, channelInfo{id: id, name: names[id]})
		}
	}
	return registry, channels, nil
}

// loop holds everything the poll loop touches. The loop goroutine is the only
// one that uses registry and clock.
type loop struct {
	registry   *button.Registry
	clock      *clock.Millis
	channels   []channelInfo
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	hub        *web.Hub // nil when the HTTP server is disabled
	commands   <-chan mqtt.Command
	heartbeat  time.Duration
}

func runLoop(d loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := status.NewHeartbeat(d.heartbeat, now())
	failing := make(map[int]bool)

	for {
		select {
		case s := <-sig:
			log.WithField("signal", s).Info("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     mqtt.EventShutdown,
				Reason:    signalName,
				Retained:  true,
			}
			d.refreshConnection()
			event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), mqtt.EventShutdown, signalName)
			if err := d.publisher.PublishSystem(event); err != nil {
				log.WithError(err).Warn("failed to publish shutdown event")
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case cmd := <-d.commands:
			d.apply(cmd)

		case <-tick:
			// Commands that arrived with this tick are applied before polling.
			d.drainCommands()

			t := now()
			d.clock.Set(t)
			for _, ch := range d.channels {
				d.poll(ch, t, failing)
			}
			d.refreshConnection()

			if hb.Due(t) {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				totals := snap.Totals()
				log.WithFields(log.Fields{
					"uptime":         snap.Uptime().Truncate(time.Second),
					"pressed":        totals.Pressed,
					"long_pressed":   totals.LongPressed,
					"short_released": totals.ShortReleased,
					"long_released":  totals.LongReleased,
				}).Info("heartbeat")
				err := d.publisher.PublishSystem(mqtt.SystemEvent{
					Timestamp:  t,
					Event:      mqtt.EventHeartbeat,
					RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
				})
				if err != nil {
					log.WithError(err).Warn("heartbeat publish error")
				}
			}
		}
	}
}

// poll runs one channel once. Read failures are logged when they start and
// when they clear, not on every tick.
func (d *loop) poll(ch channelInfo, t time.Time, failing map[int]bool) {
	lg := log.WithFields(log.Fields{"channel": ch.id, "name": ch.name})

	res, err := d.registry.Process(ch.id)
	if err != nil {
		if !failing[ch.id] {
			lg.WithError(err).Warn("button read failed")
			failing[ch.id] = true
		}
		return
	}
	if failing[ch.id] {
		lg.Info("button read recovered")
		delete(failing, ch.id)
	}

	d.tracker.Update(ch.id, res, t)
	if res.Event == button.EventNone {
		return
	}

	report := button.Report{
		Timestamp: t,
		Channel:   ch.id,
		Name:      ch.name,
		Event:     res.Event,
		Phase:     res.Phase,
	}
	lg.WithFields(log.Fields{"event": res.Event, "state": res.Phase}).Info("button event")
	if err := d.publisher.Publish(report); err != nil {
		// Don't crash on publish failure
		lg.WithError(err).Warn("publish error")
	}
	if d.hub != nil {
		d.hub.Broadcast(report)
	}
}

func (d *loop) drainCommands() {
	for {
		select {
		case cmd := <-d.commands:
			d.apply(cmd)
		default:
			return
		}
	}
}

func (d *loop) apply(cmd mqtt.Command) {
	lg := log.WithFields(log.Fields{"channel": cmd.Channel, "enabled": cmd.Enabled})
	if err := d.registry.SetEnabled(cmd.Channel, cmd.Enabled); err != nil {
		lg.WithError(err).Warn("ignoring command")
		return
	}
	d.tracker.SetEnabled(cmd.Channel, cmd.Enabled)
	lg.Info("button enable changed")
}

func (d *loop) refreshConnection() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
