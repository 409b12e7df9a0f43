package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
)

// Client is a publish-only paho client for the state mirror.
//
// It keeps a retained presence message on the status topic: online on
// every (re)connect, offline on Close, and an offline will the broker
// sends if the session dies. Reconnection is left to paho.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// topics builds every topic under the configured prefix.
	topics Topics

	// up tracks the session as reported by paho's handlers.
	up atomic.Bool

	// Connection callbacks, set via SetOnConnect and SetOnDisconnect.
	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
}

// Connect dials the broker and waits for the first session.
//
// Returns ErrDisabled when cfg.Enabled is false and ErrConnectionFailed
// when no session is established within the connect timeout. An online
// status is published on every (re)connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{cfg: cfg, topics: NewTopics(cfg.TopicPrefix)}

	opts := clientOptions(cfg)
	setWill(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })

	c.client = pahomqtt.NewClient(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The paho handler runs on its own goroutine and may lag behind.
	c.up.Store(true)
	return c, nil
}

// connected is paho's OnConnect handler.
func (c *Client) connected() {
	c.up.Store(true)
	c.announce("online", "")

	c.hookMu.RLock()
	fn := c.onConnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// lost is paho's ConnectionLost handler.
func (c *Client) lost(err error) {
	c.up.Store(false)

	c.hookMu.RLock()
	fn := c.onDisconnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// announce publishes a retained presence message and returns its token.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	payload := statusPayload(status, c.cfg.Broker.ClientID, reason)
	return c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, payload)
}

// SetOnConnect sets a callback run after the first connect and every
// reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onConnect = fn
}

// SetOnDisconnect sets a callback run when the session is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onDisconnect = fn
}

// IsConnected reports the last known session state. It does not contact
// the broker.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.up.Load() && c.client.IsConnected()
}

// HealthCheck fails when ctx is done or the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close replaces the will with a graceful offline status and disconnects.
// Safe on a zero Client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce("offline", reasonShutdown).WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}
