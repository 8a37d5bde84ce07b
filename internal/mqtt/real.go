package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/button-sensor/internal/button"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
	// Commands receives parsed enable/disable commands. Nil disables the subscription.
	Commands chan<- Command
}

// RealPublisher publishes to an actual MQTT broker.
// Messages published while the broker is unreachable are buffered and
// replayed in order once the connection is back.
type RealPublisher struct {
	client   paho.Client
	topics   Topics
	commands chan<- Command

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
}

func newRealPublisher(topics Topics, bufferSize int, commands chan<- Command) *RealPublisher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &RealPublisher{
		topics:   topics,
		commands: commands,
		buf:      newRingBuffer(bufferSize),
	}
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// is not reachable within the connect timeout the publisher is still
// returned and keeps retrying in the background.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := newRealPublisher(o.Topics, o.BufferSize, o.Commands)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventOffline,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.Topics.System(), string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.WithField("broker", o.Broker).Warn("mqtt: broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a button event to the MQTT broker.
func (p *RealPublisher) Publish(report button.Report) error {
	payload, err := FormatPayload(report)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	if err := p.send(bufferedMsg{topic: p.topics.Events(), payload: payload}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	msg := bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained}
	if err := p.send(msg); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	p.mu.Unlock()

	return waitToken(token)
}

func waitToken(token paho.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("timeout")
	}
	return token.Error()
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everUp
	p.everUp = true
	p.connected = true
	pending := p.buf.drainAll()
	// Queue the backlog before releasing the lock so nothing published
	// concurrently can overtake it.
	tokens := make([]paho.Token, 0, len(pending))
	for _, msg := range pending {
		tokens = append(tokens, c.Publish(msg.topic, msg.qos, msg.retained, msg.payload))
	}
	p.mu.Unlock()

	lg := log.WithField("replayed", len(pending))
	if reconnect {
		lg.Info("mqtt: reconnected")
	} else {
		lg.Info("mqtt: connected")
	}

	for _, token := range tokens {
		if err := waitToken(token); err != nil {
			log.WithError(err).Warn("mqtt: replay failed")
		}
	}

	if p.commands != nil {
		if err := waitToken(c.Subscribe(p.topics.CommandFilter(), 1, p.onCommand)); err != nil {
			log.WithError(err).WithField("topic", p.topics.CommandFilter()).Error("mqtt: subscribe failed")
		}
	}

	if reconnect {
		err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		if err != nil {
			log.WithError(err).Warn("mqtt: publish RECONNECTED failed")
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.WithError(err).Warn("mqtt: connection lost, buffering")
}

func (p *RealPublisher) onCommand(_ paho.Client, m paho.Message) {
	cmd, err := ParseCommand(p.topics, m.Topic(), m.Payload())
	if err != nil {
		log.WithError(err).Warn("mqtt: ignoring command")
		return
	}
	select {
	case p.commands <- cmd:
	default:
		log.WithFields(log.Fields{
			"channel": cmd.Channel,
			"enabled": cmd.Enabled,
		}).Warn("mqtt: command queue full, dropping")
	}
}
