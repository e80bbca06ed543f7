package mqtt

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger receives handler failures. *logging.Logger and *slog.Logger
// both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one inbound message. It runs on a paho goroutine,
// so it must return quickly; a returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

// hooks are the optional callbacks installed after New.
type hooks struct {
	onConnect      func()
	onLost         func(error)
	onReconnecting func()
	logger         Logger
}

// Client is one paho.mqtt.golang session. Build it with New, install
// callbacks, then Connect. A closed Client cannot be reconnected.
// Methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	opts Options
	live atomic.Bool

	mu    sync.RWMutex
	hooks hooks
	subs  map[string]byte // topic filter -> granted qos, current connection only
}

// New validates opts and prepares the session. Nothing is sent until
// Connect.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	pahoOpts, err := buildClientOptions(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{opts: opts, subs: make(map[string]byte)}
	pahoOpts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	pahoOpts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if cb := c.snapshot().onReconnecting; cb != nil {
			cb()
		}
	})
	c.paho = pahomqtt.NewClient(pahoOpts)
	return c, nil
}

func (c *Client) snapshot() hooks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

func (c *Client) setHook(fn func(*hooks)) {
	c.mu.Lock()
	fn(&c.hooks)
	c.mu.Unlock()
}

// SetOnConnect runs cb after the first connect and after every reconnect.
func (c *Client) SetOnConnect(cb func()) { c.setHook(func(h *hooks) { h.onConnect = cb }) }

// SetOnDisconnect runs cb when an established connection drops.
func (c *Client) SetOnDisconnect(cb func(error)) { c.setHook(func(h *hooks) { h.onLost = cb }) }

// SetOnReconnecting runs cb before each automatic reconnect attempt.
func (c *Client) SetOnReconnecting(cb func()) { c.setHook(func(h *hooks) { h.onReconnecting = cb }) }

func (c *Client) SetLogger(l Logger) { c.setHook(func(h *hooks) { h.logger = l }) }

// Connect sends CONNECT and waits for CONNACK, bounded by both ctx and
// Options.ConnectTimeout.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	token := c.paho.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// paho fires OnConnect on its own goroutine; IsConnected must already
	// hold when Connect returns.
	c.live.Store(true)
	return nil
}

func (c *Client) connected() {
	c.live.Store(true)
	if cb := c.snapshot().onConnect; cb != nil {
		cb()
	}
}

// lost forgets subscriptions: the session is clean, so the broker dropped
// them too.
func (c *Client) lost(err error) {
	c.live.Store(false)
	c.forgetSubscriptions()
	if cb := c.snapshot().onLost; cb != nil {
		cb(err)
	}
}

func (c *Client) forgetSubscriptions() {
	c.mu.Lock()
	clear(c.subs)
	c.mu.Unlock()
}

// Close disconnects and stops paho's reconnect loop. It is safe on a
// client that never connected.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.live.Store(false)
	c.forgetSubscriptions()
	return nil
}

func (c *Client) IsConnected() bool {
	return c.live.Load() && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected unless the session is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Subscriptions returns the filters subscribed on this connection, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// await waits for a paho token up to the publish timeout.
func await(token pahomqtt.Token, failed error, what string) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", failed, what, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", failed, what, err)
	}
	return nil
}

// guard converts a handler into a paho callback that logs errors and
// survives panics.
func (c *Client) guard(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := c.snapshot().logger
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}

