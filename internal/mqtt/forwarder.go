package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/events"
)

// DiscoveryPrefix is Home Assistant's default discovery prefix.
const DiscoveryPrefix = "homeassistant"

// CommandFunc handles a command received on <prefix>/command/<name>.
type CommandFunc func(ctx context.Context, name string, payload []byte)

// publisher is the part of [autopaho.ConnectionManager] forwarding uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Forwarder copies bus events to the broker.
type Forwarder struct {
	cfg      config.MQTTConfig
	id       string
	topics   Topics
	bus      *events.Bus
	commands CommandFunc
	limiter  *rateLimiter
	logger   *slog.Logger
}

// New creates a forwarder. id identifies this instance to the broker
// and to Home Assistant; see [ClientID]. commands may be nil, in which
// case nothing is subscribed.
func New(cfg config.MQTTConfig, id string, bus *events.Bus, commands CommandFunc, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "jarvis"
	}
	return &Forwarder{
		cfg:      cfg,
		id:       id,
		topics:   Topics{Prefix: prefix},
		bus:      bus,
		commands: commands,
		limiter:  newRateLimiter(10, time.Minute, logger),
		logger:   logger,
	}
}

// Topics returns the forwarder's topic layout.
func (f *Forwarder) Topics() Topics { return f.topics }

// Run connects and forwards events until ctx is cancelled, then
// publishes "offline" and disconnects.
func (f *Forwarder) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.topics.Availability(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.onConnect(ctx, cm)
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: f.id,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					return f.handle(ctx, pr.Packet.Topic, pr.Packet.Payload), nil
				},
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	sub := f.bus.Subscribe(64)
	defer f.bus.Unsubscribe(sub)
	go f.limiter.start(ctx)

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			f.publishAvailability(stopCtx, cm, "offline")
			return cm.Disconnect(stopCtx)
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if err := f.forward(ctx, cm, ev); err != nil {
				f.logger.Debug("mqtt event publish failed", "source", ev.Source, "kind", ev.Kind, "error", err)
			}
		}
	}
}

func (f *Forwarder) onConnect(ctx context.Context, cm *autopaho.ConnectionManager) {
	payload, err := json.Marshal(f.topics.ModelSensor(f.id))
	if err == nil {
		_, err = cm.Publish(ctx, &paho.Publish{
			Topic:   f.topics.Discovery(DiscoveryPrefix, f.id),
			Payload: payload,
			QoS:     1,
			Retain:  true,
		})
	}
	if err != nil {
		f.logger.Warn("mqtt discovery publish failed", "error", err)
	}
	f.publishAvailability(ctx, cm, "online")

	if f.commands == nil {
		return
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: f.topics.Command(), QoS: 1}},
	}); err != nil {
		f.logger.Warn("mqtt command subscribe failed", "topic", f.topics.Command(), "error", err)
	}
}

func (f *Forwarder) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.topics.Availability(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	f.logger.Debug("mqtt availability published", "status", status)
}

// forward publishes ev, and for model status events also the retained
// state document.
func (f *Forwarder) forward(ctx context.Context, pub publisher, ev events.Event) error {
	payload, err := Payload(ev)
	if err != nil {
		return err
	}
	if _, err := pub.Publish(ctx, &paho.Publish{Topic: f.topics.Event(ev), Payload: payload}); err != nil {
		return err
	}
	if ev.Source != events.SourceResource || ev.Kind != events.KindStatus {
		return nil
	}
	state, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = pub.Publish(ctx, &paho.Publish{
		Topic:   f.topics.ModelState(),
		Payload: state,
		QoS:     1,
		Retain:  true,
	})
	return err
}

// handle dispatches an inbound message and reports whether it was one
// of ours.
func (f *Forwarder) handle(ctx context.Context, topic string, payload []byte) bool {
	name, ok := f.topics.CommandName(topic)
	if !ok || f.commands == nil {
		return false
	}
	if !f.limiter.allow() {
		return true
	}
	f.logger.Info("mqtt command received", "command", name, "payload_size", len(payload))
	go f.commands(ctx, name, payload)
	return true
}

// ClientID returns the configured client id, or "jarvis-" plus an
// instance id persisted under dataDir so that it survives restarts.
func ClientID(cfg config.MQTTConfig, dataDir string) (string, error) {
	if cfg.ClientID != "" {
		return cfg.ClientID, nil
	}
	path := filepath.Join(dataDir, "instance_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return "jarvis-" + id, nil
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := config.WriteFileAtomic(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	return "jarvis-" + id.String(), nil
}

// rateLimiter bounds inbound commands per interval.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{limit: limit, interval: interval, logger: logger}
}

func (r *rateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			if dropped := r.dropped.Swap(0); dropped > 0 {
				r.logger.Warn("mqtt commands dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
				)
			}
		}
	}
}

func (r *rateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
