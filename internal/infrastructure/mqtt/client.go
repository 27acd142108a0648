package mqtt

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Client is the gateway's connection to the MQTT event bus.
//
// The client remembers its subscriptions and the last retained payload on
// each topic. After a reconnect both are replayed, so the broker's retained
// status and readiness documents never lag behind the gateway's own view,
// even when transitions happened during the outage.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	mu            sync.Mutex
	subscriptions map[string]subscription
	retained      map[string][]byte
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Logger is the logging surface the client uses for handler failures and
// reconnects. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one inbound message. The topic has wildcards
// expanded. A returned error is logged; the message is acknowledged either
// way.
type MessageHandler func(topic string, payload []byte) error

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		retained:      make(map[string][]byte),
		logger:        noopLogger{},
	}
}

// Connect dials the broker in cfg and waits for the first CONNACK.
//
// The broker is told to publish a retained offline message on
// graylogic/gateway/availability if the gateway disappears, and the client
// publishes a retained online message on every connect.
//
// Returns ErrConnectionFailed when the broker cannot be reached within the
// connect timeout. Later outages are handled by paho's auto-reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs on its own goroutine and may not have run yet.
	c.connected.Store(true)
	return c, nil
}

// handleConnect restores subscriptions, announces the gateway and replays
// retained state. Publish results are not awaited on the paho callback
// goroutine.
func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.mu.Lock()
	subs := maps.Clone(c.subscriptions)
	retained := maps.Clone(c.retained)
	callback := c.onConnect
	c.mu.Unlock()

	for topic, s := range subs {
		c.client.Subscribe(topic, s.qos, c.wrapHandler(s.handler))
	}

	qos := byte(c.cfg.QoS)
	c.client.Publish(Topics{}.Availability(), qos, true, availabilityPayload("online", c.cfg.Broker.ClientID, ""))
	for topic, payload := range retained {
		c.client.Publish(topic, qos, true, payload)
	}

	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	callback := c.onDisconnect
	c.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

// Close publishes a graceful offline message, which replaces the will, and
// disconnects. Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		payload := availabilityPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown")
		c.client.Publish(Topics{}.Availability(), byte(c.cfg.QoS), true, payload).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after every connect, once subscriptions
// and retained state have been replayed.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger replaces the logger. A nil logger silences the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging handler errors and
// recovering panics so one bad payload cannot kill the paho router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
