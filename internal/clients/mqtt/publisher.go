package mqtt

import (
	"context"
	"fmt"
	"time"

	"gate-server/internal/observability"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish quality of service: at least once. The gate controller is the
// single consumer and is idempotent, so duplicates are harmless.
const qosAtLeastOnce = 1

// publishWait bounds how long a publish may sit waiting for broker
// acknowledgment before being abandoned as failed.
const publishWait = 5 * time.Second

// Publisher handles publishing actuator events to the MQTT broker
type Publisher struct {
	client pahomqtt.Client
	topic  string
	logger *observability.Logger
}

// PublisherConfig contains configuration for the MQTT publisher
type PublisherConfig struct {
	BrokerURL string
	Username  string
	Password  string
	Topic     string
}

// NewPublisher creates the process-wide MQTT client and starts its initial
// connection attempt. Reconnection after broker loss is the client's own
// responsibility (AutoReconnect), not reimplemented here.
func NewPublisher(config PublisherConfig, logger *observability.Logger) *Publisher {
	opts := pahomqtt.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	opts.OnConnect = func(_ pahomqtt.Client) {
		logger.Info(context.Background(), "Connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logger.Error(context.Background(), "MQTT connection lost", err)
	}

	client := pahomqtt.NewClient(opts)
	client.Connect()

	return &Publisher{
		client: client,
		topic:  config.Topic,
		logger: logger,
	}
}

// Publish sends a message to the configured topic at QoS 1. Gate opening is
// best-effort: when the broker is unreachable the failure is logged and
// swallowed so the caller's response path is unaffected.
func (p *Publisher) Publish(ctx context.Context, payload string) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "mqtt_topic", Value: p.topic})

	if !p.client.IsConnectionOpen() {
		p.logger.Error(ctx, "MQTT client not connected, dropping publish", nil)
		return
	}

	p.logger.Info(ctx, fmt.Sprintf("Publishing %q to MQTT topic", payload))
	token := p.client.Publish(p.topic, qosAtLeastOnce, false, payload)
	if !token.WaitTimeout(publishWait) {
		p.logger.Error(ctx, "timed out waiting for MQTT publish ack", nil)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error(ctx, "failed to publish MQTT message", err)
	}
}

// Close disconnects from the broker, allowing in-flight messages to drain
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
