package transport

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/hummel22/bambuQueue/internal/logging"
)

const (
	mqttPort           = 8883
	mqttUser           = "bblp"
	mqttConnectTimeout = 10 * time.Second
)

// MQTTClient is one printer's message-bus connection over TLS 1.2 in
// insecure mode. The same connection carries the report subscription and
// request publishes. The client does not reconnect on its own; a later
// Publish opens a fresh connection, but the report subscription is not
// restored on it and comes back only on process restart.
type MQTTClient struct {
	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTClient() *MQTTClient {
	return &MQTTClient{}
}

func (m *MQTTClient) connect(host, accessCode string) (mqtt.Client, error) {
	if m.client != nil && m.client.IsConnected() {
		return m.client, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", host, mqttPort)).
		SetClientID("bambuqueue-" + uuid.NewString()).
		SetUsername(mqttUser).
		SetPassword(accessCode).
		SetTLSConfig(&tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
			MaxVersion:         tls.VersionTLS12,
		}).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", host)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", host, err)
	}

	m.client = client
	return client, nil
}

func (m *MQTTClient) Publish(host, accessCode, topic, payload string) error {
	if host == "" || accessCode == "" || topic == "" {
		return fmt.Errorf("mqtt publish failed: missing host, access code, or topic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.connect(host, accessCode)
	if err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s failed: %w", topic, err)
	}

	logging.Component("mqtt").WithField("topic", topic).Info("published command")
	return nil
}

func (m *MQTTClient) Subscribe(host, accessCode, topic string, handler func(topic, payload string)) error {
	if host == "" || accessCode == "" || topic == "" {
		return fmt.Errorf("mqtt subscribe failed: missing host, access code, or topic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.connect(host, accessCode)
	if err != nil {
		return fmt.Errorf("mqtt subscribe failed: %w", err)
	}

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), string(msg.Payload()))
	})
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe to %s failed: %w", topic, err)
	}

	logging.Component("mqtt").WithField("topic", topic).Info("subscribed")
	return nil
}

// Stop disconnects, allowing a short drain for in-flight messages.
func (m *MQTTClient) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
}
