package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher mirrors lifecycle events to an MQTT broker for lot signage
// and gateways. Each event goes to <prefix>/<space>/<kind>; status changes
// are retained so a display that connects late sees the current status.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

// NewMQTTPublisher connects to broker (host:port or a full URL) and returns a
// publisher using prefix as the topic root.
func NewMQTTPublisher(broker, clientID, prefix string, logger *slog.Logger) (*MQTTPublisher, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "err", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection to %s: %w", broker, err)
	}
	return newMQTTPublisher(client, prefix), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = "atlasgrid"
	}
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), timeout: 2 * time.Second}
}

// mqttTopic maps an event topic to the MQTT topic tree. Unkeyed events go
// under <prefix>/_/<kind>.
func (p *MQTTPublisher) mqttTopic(topic string, event any) string {
	key := KeyOf(event)
	if key == "" {
		key = "_"
	}
	kind := topic[strings.LastIndex(topic, ".")+1:]
	return p.prefix + "/" + key + "/" + kind
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, event any) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	retained := topic == TopicStatusChanged
	token := p.client.Publish(p.mqttTopic(topic, event), 1, retained, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
