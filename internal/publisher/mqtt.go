package publisher

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mcp-hub/internal/config"
)

// MQTTPublisher publishes over a persistent paho client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("publisher: broker is required")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("publisher: invalid qos %d", cfg.QoS)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("publisher: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publisher: connect to %s: %w", cfg.Broker, err)
	}

	return &MQTTPublisher{client: client, qos: byte(cfg.QoS)}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
