package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petnestiq/habitat-gateway/internal/audit"
	"github.com/petnestiq/habitat-gateway/internal/gateway"
	"github.com/petnestiq/habitat-gateway/internal/history"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/logging"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// deviceSession is an in-memory session that answers command requests
// the way a habitat device would.
type deviceSession struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	connected  bool
	resultCode int
	silent     bool
	published  []string
}

func (s *deviceSession) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *deviceSession) Publish(topic string, payload []byte, _ byte, _ bool) error {
	s.mu.Lock()
	s.published = append(s.published, topic)
	silent, code := s.silent, s.resultCode
	s.mu.Unlock()

	_, id, ok := strings.Cut(topic, "/sys/commands/request_id=")
	if !ok || silent {
		return nil
	}
	deviceID := strings.Split(topic, "/")[2]
	go s.deliver(
		"$oc/devices/"+deviceID+"/sys/commands/response/request_id="+id,
		fmt.Appendf(nil, `{"result_code":%d}`, code),
	)
	return nil
}

func (s *deviceSession) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[string]mqtt.MessageHandler)
	}
	s.handlers[topic] = handler
	return nil
}

func (s *deviceSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *deviceSession) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// deliver hands payload to the first handler whose filter matches topic.
func (s *deviceSession) deliver(topic string, payload []byte) {
	s.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range s.handlers {
		if filterMatches(filter, topic) {
			handler = h
			break
		}
	}
	s.mu.Unlock()
	if handler != nil {
		handler(topic, payload) //nolint:errcheck // test delivery
	}
}

func filterMatches(filter, topic string) bool {
	f, t := strings.Split(filter, "/"), strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) || (part != "+" && part != t[i]) {
			return false
		}
	}
	return len(f) == len(t)
}

func (s *deviceSession) publishedCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, topic := range s.published {
		if strings.Contains(topic, substr) {
			n++
		}
	}
	return n
}

type testEnv struct {
	srv     *Server
	gw      *gateway.Gateway
	session *deviceSession
	http    *httptest.Server
}

type envOptions struct {
	secret  string
	history history.Repository
	audit   audit.Repository
	timeout time.Duration
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	session := &deviceSession{}
	reg := prometheus.NewRegistry()
	timeout := opts.timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	gw, err := gateway.New(gateway.Options{
		CommandTimeout: timeout,
		SessionFactory: func(gateway.ConnectionConfig, mqtt.Credentials, gateway.SessionEvents) (gateway.Session, error) {
			return session, nil
		},
		Metrics: gateway.NewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Auth: config.APIAuthConfig{JWTSecret: opts.secret},
		},
		WS:       config.WebSocketConfig{PingInterval: 30, PongTimeout: 10},
		Logger:   logging.Discard(),
		Gateway:  gw,
		Default:  gateway.ConnectionConfig{BrokerURI: "tcp://broker.local:1883", DeviceID: "habitat-01", Password: "pw"},
		History:  opts.history,
		Audit:    opts.audit,
		Gatherer: reg,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.StartRelays(ctx)
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		hs.Close()
		cancel()
		srv.relays.Wait()
		gw.Disconnect()
	})
	return &testEnv{srv: srv, gw: gw, session: session, http: hs}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	if err := e.gw.Connect(e.srv.deps.Default); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitUntil(t, "connected", func() bool { return e.gw.State() == gateway.Connected })
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
