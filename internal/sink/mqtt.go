package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Broker   string
	Port     int
	Topic    string // deliveries go to <Topic>/<stream_id>
	ClientID string
	Username string
	Password string
	QoS      byte
}

// publisher is the part of mqtt.Client the sink uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes deliveries to a broker
type MQTT struct {
	config MQTTConfig
	client publisher
	logger *slog.Logger
}

// NewMQTT connects to the broker. The client reconnects on its own after
// the first successful connection.
func NewMQTT(config MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("broker cannot be empty")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if config.ClientID == "" {
		config.ClientID = fmt.Sprintf("modemd-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", config.Broker, config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", slog.String("broker", brokerURL))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, reconnecting",
			slog.String("broker", brokerURL),
			slog.String("error", err.Error()),
		)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", brokerURL, token.Error())
	}

	return newMQTT(config, client, logger), nil
}

func newMQTT(config MQTTConfig, client publisher, logger *slog.Logger) *MQTT {
	return &MQTT{config: config, client: client, logger: logger}
}

// Name identifies the sink in logs and metrics
func (m *MQTT) Name() string {
	return "mqtt"
}

// TopicFor returns the topic a stream's deliveries are published to
func (m *MQTT) TopicFor(streamID uint32) string {
	return m.config.Topic + "/" + strconv.FormatUint(uint64(streamID), 10)
}

// Deliver publishes one delivery and waits for the broker acknowledgement
// required by the configured QoS.
func (m *MQTT) Deliver(ctx context.Context, d *Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	token := m.client.Publish(m.TopicFor(d.StreamID), m.config.QoS, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", m.TopicFor(d.StreamID), err)
	}
	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
