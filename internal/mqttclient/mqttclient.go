// Package mqttclient wraps the paho MQTT client for the collector and the
// sensor simulator: connect/disconnect, subscribe with a byte-payload
// handler, publish with JSON marshalling, plus a readiness check.
package mqttclient

import (
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/internal/backoff"
	"github.com/pyrowatch/pyrowatch/internal/config"
)

// Prometheus metrics
var mqttConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "pyrowatch_mqtt_up",
		Help: "Connection with the MQTT broker",
	},
)

// Handler receives inbound payloads as raw bytes.
type Handler func(topic string, payload []byte)

type Client struct {
	client MQTT.Client
}

// New configures a client with auto-reconnect and connection logging. The
// broker is not contacted until Connect.
func New(clientID string, cfg config.MQTT) *Client {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetKeepAlive(time.Duration(cfg.KeepaliveS) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(onConnectionLost)

	return &Client{client: MQTT.NewClient(opts)}
}

func onConnect(c MQTT.Client) {
	optionsReader := c.OptionsReader()
	zap.S().Infof("Connected to MQTT broker as %s", optionsReader.ClientID())
	mqttConnected.Inc()
}

func onConnectionLost(c MQTT.Client, err error) {
	optionsReader := c.OptionsReader()
	zap.S().Warnf("MQTT connection lost (%s): %s", optionsReader.ClientID(), err)
	mqttConnected.Dec()
}

const connectAttempts = 5

// Connect establishes the broker connection, retrying with randomized
// exponential backoff so a start racing the broker does not fail outright.
func (c *Client) Connect() error {
	var lastErr error
	for attempt := int64(1); attempt <= connectAttempts; attempt++ {
		token := c.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		lastErr = token.Error()
		zap.S().Warnf("MQTT connect attempt %d failed: %s", attempt, lastErr)
		backoff.SleepBackedOff(attempt, 100*time.Millisecond, 5*time.Second)
	}
	return fmt.Errorf("failed to connect to MQTT broker: %w", lastErr)
}

// Disconnect closes the connection, allowing one second for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// Subscribe registers the handler for a topic. The handler runs on paho's
// delivery goroutines.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	token := c.client.Subscribe(topic, qos, func(_ MQTT.Client, message MQTT.Message) {
		handler(message.Topic(), message.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	zap.S().Infof("MQTT subscribed to %s (qos %d)", topic, qos)
	return nil
}

// Publish sends payload to topic. Non-byte payloads are JSON encoded.
func (c *Client) Publish(topic string, qos byte, payload interface{}) error {
	data, isBytes := payload.([]byte)
	if !isBytes {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
		}
	}
	token := c.client.Publish(topic, qos, false, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Check is a healthcheck readiness probe for the connection.
func (c *Client) Check() healthcheck.Check {
	return func() error {
		if c.client.IsConnected() {
			return nil
		}
		return fmt.Errorf("not connected")
	}
}
