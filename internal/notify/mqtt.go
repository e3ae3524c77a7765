package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/menta2k/lensclip/internal/errors"
)

const component = "notify"

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT publishes events as JSON to <topic>/<status>
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *slog.Logger
}

// NewMQTT connects to the broker
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lensclip"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", component, "broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	m := newMQTT(mqtt.NewClient(opts), cfg, logger)
	token := m.client.Connect()
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return nil, errors.Newf("mqtt connection timeout").
			Category(errors.CategoryPublish).
			Component(component).
			Build()
	}
	if err := token.Error(); err != nil {
		return nil, errors.New(fmt.Errorf("mqtt connection error: %w", err)).
			Category(errors.CategoryPublish).
			Component(component).
			Build()
	}
	return m, nil
}

func newMQTT(client mqtt.Client, cfg MQTTConfig, logger *slog.Logger) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "lensclip/observations"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{client: client, cfg: cfg, logger: logger}
}

// Topic returns the topic events with status are published to
func (m *MQTT) Topic(status string) string {
	return strings.TrimSuffix(m.cfg.Topic, "/") + "/" + status
}

// Publish implements Publisher
func (m *MQTT) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.client.IsConnected() {
		return errors.Newf("not connected to mqtt broker").
			Category(errors.CategoryPublish).
			Component(component).
			Build()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	topic := m.Topic(string(e.Status))
	token := m.client.Publish(topic, m.cfg.QoS, m.cfg.Retain, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		return errors.Newf("mqtt publish timeout").
			Category(errors.CategoryPublish).
			Component(component).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).Category(errors.CategoryPublish).Component(component).Context("topic", topic).Build()
	}
	m.logger.Debug("published event", "topic", topic, "observation_id", e.ObservationID)
	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
