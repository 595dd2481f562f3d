// Package mqttclient manages the MQTT broker connection for the pipeline:
// connect with TLS and credentials, track connection status, subscribe the
// sink routes, and publish republished documents.
package mqttclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/pkg/tlsutil"
)

// ConnectionStatus represents the state of the broker connection.
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned for operations against a closed client.
var ErrNotConnected = stderrors.New("not connected to MQTT broker")

// MessageHandler receives inbound messages for a subscribed route.
type MessageHandler func(topic string, payload []byte)

// Config holds broker connection settings.
type Config struct {
	BrokerURL string
	// ClientIDPrefix is suffixed with a random id so parallel instances never
	// collide. Defaults to "unsmesh".
	ClientIDPrefix string
	Username       string
	Password       string
	QoS            byte
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	TLSEnabled    bool
	TLSCAFile     string
	TLSCertFile   string
	TLSKeyFile    string
	TLSSkipVerify bool

	// WillTopic/WillPayload register the broker-side last-will message, used
	// to announce Sparkplug node death.
	WillTopic   string
	WillPayload []byte
	WillRetain  bool
}

func (c *Config) validate() error {
	if c.BrokerURL == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: broker url is required", errors.ErrMissingConfig),
			"mqttclient.Client", "NewClient", "config validation")
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "unsmesh"
	}
	if c.QoS > 2 {
		return errors.WrapFatal(
			fmt.Errorf("%w: qos %d out of range", errors.ErrInvalidConfig, c.QoS),
			"mqttclient.Client", "NewClient", "config validation")
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	return nil
}

// Client wraps the paho MQTT client with status tracking and route
// subscriptions.
type Client struct {
	cfg    Config
	client mqtt.Client
	status atomic.Int32
	logger *slog.Logger

	mu     sync.Mutex
	routes map[string]MessageHandler

	// onStatusChange fires on connect and connection-loss transitions; the
	// pipeline wires the broker-connected gauge here.
	onStatusChange func(ConnectionStatus)
}

// NewClient builds a Client; it does not connect.
func NewClient(cfg Config, logger *slog.Logger, onStatusChange func(ConnectionStatus)) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:            cfg,
		logger:         logger,
		routes:         map[string]MessageHandler{},
		onStatusChange: onStatusChange,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(cfg.CleanSession).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(true)

	if cfg.WillTopic != "" {
		opts.SetBinaryWill(cfg.WillTopic, cfg.WillPayload, cfg.QoS, cfg.WillRetain)
	}

	if cfg.TLSEnabled {
		tlsCfg, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{
			CAFile:             cfg.TLSCAFile,
			CertFile:           cfg.TLSCertFile,
			KeyFile:            cfg.TLSKeyFile,
			InsecureSkipVerify: cfg.TLSSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		c.setStatus(StatusConnected)
		c.logger.Info("connected to MQTT broker", "broker", cfg.BrokerURL)
		c.resubscribe(mc)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setStatus(StatusReconnecting)
		c.logger.Error("lost MQTT broker connection", "broker", cfg.BrokerURL, "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes the broker connection, honoring the context deadline.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	token := c.client.Connect()

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "mqttclient.Client", "Connect", "broker connection")
	case <-done:
	}

	if err := token.Error(); err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "mqttclient.Client", "Connect", "broker connection")
	}
	return nil
}

// Subscribe registers a handler for a topic filter. Subscriptions survive
// reconnects; the on-connect handler replays them.
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	c.mu.Lock()
	c.routes[filter] = handler
	c.mu.Unlock()

	if !c.client.IsConnected() {
		// Deferred until the on-connect handler replays routes.
		return nil
	}
	token := c.client.Subscribe(filter, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqttclient.Client", "Subscribe", fmt.Sprintf("subscription to %s", filter))
	}
	return nil
}

func (c *Client) resubscribe(mc mqtt.Client) {
	c.mu.Lock()
	routes := make(map[string]MessageHandler, len(c.routes))
	for f, h := range c.routes {
		routes[f] = h
	}
	c.mu.Unlock()

	for filter, handler := range routes {
		h := handler
		token := mc.Subscribe(filter, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			h(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("failed to restore subscription", "filter", filter, "error", err)
		} else {
			c.logger.Debug("subscribed", "filter", filter)
		}
	}
}

// Publish sends a payload, honoring the context deadline.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "mqttclient.Client", "Publish", "message publish")
	}
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "mqttclient.Client", "Publish", "message publish")
	case <-done:
	}

	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqttclient.Client", "Publish", "message publish")
	}
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Close disconnects, allowing in-flight messages the given grace period.
func (c *Client) Close(grace time.Duration) {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(uint(grace.Milliseconds()))
	}
	c.setStatus(StatusDisconnected)
}

func (c *Client) setStatus(s ConnectionStatus) {
	old := ConnectionStatus(c.status.Swap(int32(s)))
	if old != s && c.onStatusChange != nil {
		c.onStatusChange(s)
	}
}
