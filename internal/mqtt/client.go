// Package mqtt bridges the viewer to an MQTT broker: scene change requests
// come in on viewer/<id>/scene/change and every emitted event goes out on
// viewer/<id>/events.
package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/events"
)

const opTimeout = 10 * time.Second

// Broker is the subset of the client the bridge needs.
type Broker interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	url    string
	log    zerolog.Logger
	mu     sync.Mutex

	// OnReconnect runs after every successful (re)connect, from paho's
	// goroutine. Subscriptions are restored here.
	OnReconnect func()
	// OnConnectionLost runs when paho reports a dropped connection.
	OnConnectionLost func(error)
}

// NewClient creates a client for url but does not connect.
func NewClient(url, clientID string, log zerolog.Logger) *Client {
	c := &Client{
		url: url,
		log: log.With().Str("component", "mqtt").Logger(),
	}

	opts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			c.log.Info().Str("broker", url).Msg("connected")
			events.Emit("info", "mqtt.connected", "", map[string]interface{}{"broker": url})
			if c.OnReconnect != nil {
				c.OnReconnect()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn().Err(err).Msg("connection lost")
			events.Emit("warning", "mqtt.disconnected", "", map[string]interface{}{
				"broker": url,
				"error":  err.Error(),
			})
			if c.OnConnectionLost != nil {
				c.OnConnectionLost(err)
			}
		})

	c.client = paho.NewClient(opts)
	return c
}

// URL returns the broker address.
func (c *Client) URL() string {
	return c.url
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(opTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends payload at QoS 0 without retaining it.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(opTimeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// Start connects, logging failures instead of returning them. Paho keeps
// retrying in the background either way and subscriptions are installed
// from OnReconnect.
func (c *Client) Start() bool {
	if err := c.Connect(); err != nil {
		c.log.Error().Err(err).Str("broker", c.url).Msg("failed to connect")
		return false
	}
	return true
}
