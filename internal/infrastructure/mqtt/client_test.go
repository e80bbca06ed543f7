package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
)

func connectedClient(t *testing.T, uri string) *Client {
	t.Helper()
	c, err := New(Options{ServerURI: uri, ClientID: t.Name(), ConnectTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// =============================================================================
// Options
// =============================================================================

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty uri", Options{ClientID: "c"}},
		{"bad uri", Options{ServerURI: "::nope", ClientID: "c"}},
		{"empty client id", Options{ServerURI: "tcp://localhost:1883"}},
		{"missing ca file", Options{ServerURI: "ssl://localhost:8883", ClientID: "c", CAFile: "/nonexistent/ca.pem"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("New() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:         config.MQTTBrokerConfig{Host: "iot.example.com", Port: 8883, TLS: true},
		KeepAlive:      30,
		ConnectTimeout: 7,
		Reconnect:      config.MQTTReconnectConfig{MaxDelay: 20},
	}

	opts := OptionsFromConfig(cfg, "cid", "user", "pw")

	if opts.ServerURI != "ssl://iot.example.com:8883" {
		t.Errorf("ServerURI = %q", opts.ServerURI)
	}
	if opts.KeepAlive != 30*time.Second {
		t.Errorf("KeepAlive = %v, want 30s", opts.KeepAlive)
	}
	if opts.ConnectTimeout != 7*time.Second {
		t.Errorf("ConnectTimeout = %v, want 7s", opts.ConnectTimeout)
	}
	if opts.MaxReconnectInterval != 20*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 20s", opts.MaxReconnectInterval)
	}
	if opts.ClientID != "cid" || opts.Username != "user" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q/%q", opts.ClientID, opts.Username, opts.Password)
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.KeepAlive != defaultKeepAlive {
		t.Errorf("KeepAlive = %v, want %v", o.KeepAlive, defaultKeepAlive)
	}
	if o.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", o.ConnectTimeout, defaultConnectTimeout)
	}
	if o.MaxReconnectInterval != defaultMaxReconnectInterval {
		t.Errorf("MaxReconnectInterval = %v, want %v", o.MaxReconnectInterval, defaultMaxReconnectInterval)
	}
}

func TestUsesTLS(t *testing.T) {
	tests := map[string]bool{
		"ssl://h:8883":   true,
		"tls://h:8883":   true,
		"mqtts://h:8883": true,
		"wss://h:443":    true,
		"tcp://h:1883":   false,
		"ws://h:80":      false,
	}
	for uri, want := range tests {
		if got := usesTLS(uri); got != want {
			t.Errorf("usesTLS(%q) = %v, want %v", uri, got, want)
		}
	}
}

// =============================================================================
// Connection
// =============================================================================

func TestConnect(t *testing.T) {
	_, uri := startBroker(t)

	c := connectedClient(t, uri)

	if !c.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	c, err := New(Options{ServerURI: "tcp://127.0.0.1:1", ClientID: "refused", ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = c.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestConnect_ContextCancelled(t *testing.T) {
	c, err := New(Options{ServerURI: "tcp://10.255.255.1:1883", ClientID: "cancelled", ConnectTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Connect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
}

func TestOnConnectCallback(t *testing.T) {
	_, uri := startBroker(t)

	c, err := New(Options{ServerURI: uri, ClientID: "callback"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	called := make(chan struct{}, 1)
	c.SetOnConnect(func() { called <- struct{}{} })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Error("OnConnect callback not invoked")
	}
}

func TestClose(t *testing.T) {
	_, uri := startBroker(t)
	c := connectedClient(t, uri)

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	_, uri := startBroker(t)
	c := connectedClient(t, uri)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Publish / Subscribe
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	_, uri := startBroker(t)
	c := connectedClient(t, uri)

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("a/b", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("a/b", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v, want ErrPublishFailed", err)
	}
}

func TestPublish_Disconnected(t *testing.T) {
	c, err := New(Options{ServerURI: "tcp://127.0.0.1:1", ClientID: "offline"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Publish("a/b", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_ReachesBroker(t *testing.T) {
	server, uri := startBroker(t)
	c := connectedClient(t, uri)

	got := make(chan string, 1)
	err := server.Subscribe("$oc/devices/+/sys/commands/+", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		got <- pk.TopicName + " " + string(pk.Payload)
	})
	if err != nil {
		t.Fatalf("inline Subscribe() error = %v", err)
	}

	topic := Topics{}.CommandRequest("d1", "r1")
	if err := c.Publish(topic, []byte(`{"paras":{}}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != topic+` {"paras":{}}` {
			t.Errorf("broker received %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not receive the publish")
	}
}

func TestSubscribe_ReceivesMessages(t *testing.T) {
	server, uri := startBroker(t)
	c := connectedClient(t, uri)

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)

	topic := Topics{}.CommandResponse("d1")
	err := c.Subscribe(topic, 1, func(tp string, payload []byte) error {
		mu.Lock()
		received = append(received, tp+"="+string(payload))
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}
	if subs := c.Subscriptions(); len(subs) != 1 || subs[0] != topic {
		t.Errorf("Subscriptions() = %v", subs)
	}

	if err := server.Publish(topic, []byte(`{"result_code":0}`), false, 1); err != nil {
		t.Fatalf("inline Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != topic+`={"result_code":0}` {
		t.Errorf("received = %v", received)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	_, uri := startBroker(t)
	c := connectedClient(t, uri)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/b", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestHandlerPanicAndErrorAreLogged(t *testing.T) {
	server, uri := startBroker(t)
	c := connectedClient(t, uri)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	done := make(chan struct{}, 2)
	if err := c.Subscribe("t/panic", 1, func(string, []byte) error {
		defer func() { done <- struct{}{} }()
		panic("boom")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Subscribe("t/error", 1, func(string, []byte) error {
		defer func() { done <- struct{}{} }()
		return errors.New("bad payload")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_ = server.Publish("t/panic", []byte("x"), false, 1)
	_ = server.Publish("t/error", []byte("x"), false, 1)

	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handlers not invoked")
		}
	}

	// The deferred send runs before the guard's recover logs; give it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		logger.mu.Lock()
		ok := len(logger.errors) == 1 && len(logger.warns) == 1
		logger.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("errors = %v, warns = %v; want one of each", logger.errors, logger.warns)
}
