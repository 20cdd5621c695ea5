// Package notify publishes engine events to an MQTT broker so other
// services can react to sessions and metrics without holding a
// websocket open.
package notify

import (
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oculab/go-oculab/internal/log"
	"github.com/oculab/go-oculab/pkg/protocol"
)

// Config holds the MQTT connection settings.
type Config struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// DefaultConfig returns the recommended MQTT settings.
func DefaultConfig() Config {
	return Config{
		Broker:      "tcp://localhost:1883",
		ClientID:    "oculab-engine",
		TopicPrefix: "oculab",
		QoS:         0,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("notify: broker address is required")
	}
	if c.ClientID == "" {
		return errors.New("notify: client id is required")
	}
	if c.TopicPrefix == "" {
		return errors.New("notify: topic prefix is required")
	}
	return nil
}

// Publisher forwards engine events to MQTT. Metrics land on
// <prefix>/metrics, session events on <prefix>/sessionComplete, and so
// on per message type.
type Publisher struct {
	config Config
	client mqtt.Client
}

// NewPublisher connects to the broker.
func NewPublisher(config Config) (*Publisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("notify: connect to %s: %w", config.Broker, token.Error())
	}
	log.Info("connected to MQTT broker", "broker", config.Broker)

	return &Publisher{config: config, client: client}, nil
}

// Publish sends one event to its topic. Errors are returned, not fatal;
// the event stream continues regardless.
func (p *Publisher) Publish(msg *protocol.Message) error {
	payload, err := msg.Bytes()
	if err != nil {
		return err
	}
	token := p.client.Publish(Topic(p.config.TopicPrefix, msg.Type), p.config.QoS, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("notify: publish %s: %w", msg.Type, token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Topic maps a message type to its MQTT topic.
func Topic(prefix string, t protocol.MessageType) string {
	return prefix + "/" + string(t)
}
