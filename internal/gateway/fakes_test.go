package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	done    bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that falls due,
// including ones scheduled by timers that ran.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.done && !t.stopped && !t.at.After(c.now) {
				due = append(due, t)
			}
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		for _, t := range due {
			t.done = true
		}
		c.mu.Unlock()

		if len(due) == 0 {
			return
		}
		for _, t := range due {
			t.f()
		}
	}
}

// pending counts timers that have neither fired nor been stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done && !t.stopped {
			n++
		}
	}
	return n
}

type publishedMessage struct {
	Topic   string
	Payload []byte
}

// fakeSession records traffic and lets tests inject inbound messages
// and lifecycle events.
type fakeSession struct {
	events     SessionEvents
	connectErr error

	mu           sync.Mutex
	connected    bool
	closed       bool
	publishErr   error
	subscribeErr map[string]error
	handlers     map[string]mqtt.MessageHandler
	subscribes   []string
	published    []publishedMessage

	publishes chan publishedMessage
}

func newFakeSession(events SessionEvents) *fakeSession {
	return &fakeSession{
		events:       events,
		subscribeErr: make(map[string]error),
		handlers:     make(map[string]mqtt.MessageHandler),
		publishes:    make(chan publishedMessage, 256),
	}
}

func (s *fakeSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.connectErr != nil {
		return s.connectErr
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Publish(topic string, payload []byte, _ byte, _ bool) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	if s.publishErr != nil {
		err := s.publishErr
		s.mu.Unlock()
		return err
	}
	msg := publishedMessage{Topic: topic, Payload: append([]byte(nil), payload...)}
	s.published = append(s.published, msg)
	s.mu.Unlock()

	s.publishes <- msg
	return nil
}

func (s *fakeSession) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.subscribeErr[topic]; err != nil {
		return err
	}
	s.handlers[topic] = handler
	s.subscribes = append(s.subscribes, topic)
	return nil
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribes)
}

func (s *fakeSession) publishedOn(prefix string) []publishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []publishedMessage
	for _, m := range s.published {
		if strings.HasPrefix(m.Topic, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// deliver hands payload to the handler whose filter matches topic.
func (s *fakeSession) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	s.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range s.handlers {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	s.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription matches %q", topic)
	}
	if err := handler(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%q) error = %v", topic, err)
	}
}

func (s *fakeSession) dropConnection(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.events.OnConnectionLost(err)
}

func (s *fakeSession) restoreConnection() {
	s.events.OnReconnecting()
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.events.OnConnect()
}

// waitPublish returns the next message published on a topic with prefix.
func (s *fakeSession) waitPublish(t *testing.T, prefix string) publishedMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.publishes:
			if strings.HasPrefix(msg.Topic, prefix) {
				return msg
			}
		case <-deadline:
			t.Fatalf("no publish on %q", prefix)
		}
	}
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

// fakeFactory hands out fakeSessions. Each entry of connectErrs fails
// one handshake in order; failAll fails every handshake.
type fakeFactory struct {
	mu          sync.Mutex
	sessions    []*fakeSession
	creds       []mqtt.Credentials
	connectErrs []error
	failAll     error
}

func (f *fakeFactory) New(_ ConnectionConfig, creds mqtt.Credentials, events SessionEvents) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSession(events)
	switch {
	case f.failAll != nil:
		s.connectErr = f.failAll
	case len(f.connectErrs) > 0:
		s.connectErr = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	f.sessions = append(f.sessions, s)
	f.creds = append(f.creds, creds)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func testConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BrokerURI: "tcp://broker.local:1883",
		DeviceID:  "habitat-01",
		Password:  "pw",
	}
}

func newTestGateway(t *testing.T, mutate func(*Options)) (*Gateway, *fakeFactory, *fakeClock) {
	t.Helper()

	factory := &fakeFactory{}
	clock := newFakeClock()
	var ids atomic.Int64
	opts := Options{
		SessionFactory: factory.New,
		Clock:          clock,
		NewRequestID:   func() string { return fmt.Sprintf("req-%d", ids.Add(1)) },
		Reconnect: ReconnectPolicy{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	gw, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(gw.Disconnect)
	return gw, factory, clock
}

// connectAndWait connects with the default config and waits for Connected.
func connectAndWait(t *testing.T, gw *Gateway, factory *fakeFactory) *fakeSession {
	t.Helper()
	if err := gw.Connect(testConnectionConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, gw, Connected)
	return factory.last()
}

func waitForState(t *testing.T, gw *Gateway, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gw.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", gw.State(), want)
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: "+format, args...)
}

// resultRecorder counts callback invocations.
type resultRecorder struct {
	mu      sync.Mutex
	results []CommandResult
	ch      chan CommandResult
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{ch: make(chan CommandResult, 8)}
}

func (r *resultRecorder) callback(res CommandResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.ch <- res
}

func (r *resultRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *resultRecorder) wait(t *testing.T) CommandResult {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
		return CommandResult{}
	}
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }
