package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/studywithme/internal/agent"
	"github.com/nugget/studywithme/internal/config"
)

// QueueSize bounds the events waiting to be published.
const QueueSize = 64

// Publisher is an [agent.Observer] that forwards exchange events to
// MQTT.
type Publisher struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	events chan agent.Event
	counts *DailyCounts

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin publishing.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = config.DefaultTopicPrefix
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		events: make(chan agent.Event, QueueSize),
		counts: NewDailyCounts(nil),
	}
}

// ObserveExchange queues ev for publishing. It never blocks; when the
// queue is full the event is dropped.
func (p *Publisher) ObserveExchange(_ context.Context, ev agent.Event) {
	p.counts.Record(ev)
	select {
	case p.events <- ev:
	default:
		p.logger.Debug("mqtt queue full, dropping exchange event", "request_id", ev.RequestID)
	}
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string { return p.cfg.TopicPrefix + "/availability" }
func (p *Publisher) exchangesTopic() string    { return p.cfg.TopicPrefix + "/exchanges" }
func (p *Publisher) statsTopic() string        { return p.cfg.TopicPrefix + "/stats" }

func (p *Publisher) clientID() string {
	if p.cfg.ClientID != "" {
		return p.cfg.ClientID
	}
	return "studywithme-" + uuid.NewString()[:8]
}

// Start connects to the broker and publishes queued events until ctx
// is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx, cm)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) runLoop(ctx context.Context, cm *autopaho.ConnectionManager) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			p.publishEvent(ctx, cm, ev)
		}
	}
}

func (p *Publisher) publishEvent(ctx context.Context, cm *autopaho.ConnectionManager, ev agent.Event) {
	payload, err := encodeEvent(ev)
	if err != nil {
		p.logger.Error("mqtt marshal exchange event", "error", err)
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.exchangesTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt exchange publish failed", "request_id", ev.RequestID, "error", err)
		return
	}

	stats, err := json.Marshal(p.counts.Snapshot())
	if err != nil {
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.statsTopic(),
		Payload: stats,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

type eventPayload struct {
	agent.Event
	DurationMS int64 `json:"duration_ms"`
}

func encodeEvent(ev agent.Event) ([]byte, error) {
	return json.Marshal(eventPayload{Event: ev, DurationMS: ev.Duration.Milliseconds()})
}
