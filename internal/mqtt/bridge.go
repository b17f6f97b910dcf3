package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/piggy-diary/piggy/internal/config"
	"github.com/piggy-diary/piggy/internal/events"
)

// publisher is the subset of the connection manager the bridge needs.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Bridge forwards bus events to the broker.
type Bridge struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
}

// New creates a bridge but does not connect. Call [Bridge.Start].
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, clientID: clientID, bus: bus, logger: logger}
}

// Start connects and forwards events until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.AvailabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.clientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	ch := b.bus.Subscribe(64)
	defer b.bus.Unsubscribe(ch)
	b.forward(ctx, cm, ch)
	return nil
}

// Stop publishes "offline" and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// AvailabilityTopic is the retained online/offline topic.
func (b *Bridge) AvailabilityTopic() string {
	return b.cfg.TopicPrefix + "/availability"
}

// EventTopic is the topic an event is published to.
func (b *Bridge) EventTopic(e events.Event) string {
	return b.cfg.TopicPrefix + "/events/" + e.Source + "/" + e.Kind
}

func (b *Bridge) forward(ctx context.Context, pub publisher, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b.publishEvent(ctx, pub, e)
		}
	}
}

func (b *Bridge) publishEvent(ctx context.Context, pub publisher, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := b.EventTopic(e)
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		b.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
		return
	}
	b.logger.Log(ctx, config.LevelTrace, "mqtt event published", "topic", topic)
}

func (b *Bridge) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	b.logger.Info("mqtt availability published", "status", status)
}
