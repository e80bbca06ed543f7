package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// Defaults applied by New when Options leaves a field zero.
const (
	DefaultServiceID       = "ControlService"
	DefaultShadowServiceID = "dataText"
	DefaultCommandTimeout  = 10 * time.Second
	DefaultQoS             = 1

	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 60 * time.Second
)

// ReconnectPolicy governs retries after a failed handshake.
// Reconnects after a lost session are left to the MQTT client.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 = unlimited
}

// Options configures a Gateway.
type Options struct {
	ServiceID       string
	ShadowServiceID string
	QoS             byte

	PollInterval   time.Duration
	PollBackoff    time.Duration
	CommandTimeout time.Duration
	DebugCapacity  int
	Reconnect      ReconnectPolicy

	// SessionFactory is required.
	SessionFactory SessionFactory

	// Optional collaborators.
	Clock        Clock
	Logger       Logger
	Metrics      *Metrics
	NewRequestID func() string
}

// OptionsFromConfig maps the device, mqtt and gateway config sections.
func OptionsFromConfig(cfg *config.Config, factory SessionFactory) Options {
	return Options{
		ServiceID:       cfg.Device.ServiceID,
		ShadowServiceID: cfg.Device.ShadowServiceID,
		QoS:             byte(cfg.MQTT.QoS),
		PollInterval:    cfg.Gateway.PollInterval,
		PollBackoff:     cfg.Gateway.PollBackoff,
		CommandTimeout:  cfg.Gateway.CommandTimeout,
		DebugCapacity:   cfg.Gateway.DebugCapacity,
		Reconnect: ReconnectPolicy{
			InitialDelay: time.Duration(cfg.MQTT.Reconnect.InitialDelay) * time.Second,
			MaxDelay:     time.Duration(cfg.MQTT.Reconnect.MaxDelay) * time.Second,
			MaxAttempts:  cfg.MQTT.Reconnect.MaxAttempts,
		},
		SessionFactory: factory,
	}
}

func (o Options) withDefaults() Options {
	if o.ServiceID == "" {
		o.ServiceID = DefaultServiceID
	}
	if o.ShadowServiceID == "" {
		o.ShadowServiceID = DefaultShadowServiceID
	}
	if o.QoS == 0 || o.QoS > 2 {
		o.QoS = DefaultQoS
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Reconnect.InitialDelay <= 0 {
		o.Reconnect.InitialDelay = defaultReconnectInitial
	}
	if o.Reconnect.MaxDelay <= 0 {
		o.Reconnect.MaxDelay = defaultReconnectMax
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.NewRequestID == nil {
		o.NewRequestID = uuid.NewString
	}
	return o
}

// ConnectionInfo describes the current session for display.
type ConnectionInfo struct {
	State     ConnectionState `json:"state"`
	DeviceID  string          `json:"device_id,omitempty"`
	BrokerURI string          `json:"broker_uri,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
}

// Gateway manages the device session and orchestrates decoding, state,
// command correlation, polling and tracing around it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - No method blocks on the network except Send, which waits for the
//     command result or its context.
type Gateway struct {
	opts    Options
	logger  Logger
	metrics *Metrics

	store *StateStore
	debug *DebugRecorder
	state *Observable[ConnectionState]

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex

	mu  sync.RWMutex
	run *connectionRun
}

// connectionRun is everything scoped to one Connect call. A later
// Connect or Disconnect retires it; a retired run's callbacks are ignored.
type connectionRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cfg    ConnectionConfig
	uri    string
	topics TopicSet
	corr   *ResponseCorrelator
	poller *PollingScheduler

	// mu guards connected and orders state changes with poller start/stop.
	mu        sync.Mutex
	connected bool

	// sessMu guards the session so publishers never wait on mu.
	sessMu   sync.RWMutex
	session  Session
	clientID string
}

func (r *connectionRun) currentSession() Session {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return r.session
}

func (r *connectionRun) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected && r.ctx.Err() == nil
}

// New creates a disconnected gateway.
func New(opts Options) (*Gateway, error) {
	if opts.SessionFactory == nil {
		return nil, fmt.Errorf("%w: session factory is required", ErrConfiguration)
	}
	opts = opts.withDefaults()

	g := &Gateway{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		store:   NewStateStore(opts.Clock),
		debug:   NewDebugRecorder(opts.DebugCapacity, opts.Clock),
		state:   NewObservable(Disconnected),
	}
	g.metrics.setState(Disconnected)
	return g, nil
}

// Store returns the device state store.
func (g *Gateway) Store() *StateStore { return g.store }

// Debug returns the trace recorder.
func (g *Gateway) Debug() *DebugRecorder { return g.debug }

// State returns the current connection state.
func (g *Gateway) State() ConnectionState { return g.state.Get() }

// SubscribeState observes connection state. See Observable.Subscribe.
func (g *Gateway) SubscribeState() (<-chan ConnectionState, func()) {
	return g.state.Subscribe()
}

// Connection returns the current state and session identity.
func (g *Gateway) Connection() ConnectionInfo {
	info := ConnectionInfo{State: g.State()}
	if run := g.current(); run != nil {
		info.DeviceID = run.cfg.DeviceID
		info.BrokerURI = run.uri
		run.sessMu.RLock()
		info.ClientID = run.clientID
		run.sessMu.RUnlock()
	}
	return info
}

func (g *Gateway) current() *connectionRun {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.run
}

// Connect validates cfg, retires any previous session and starts
// connecting in the background. Only configuration errors are returned;
// progress is reported through the connection state.
func (g *Gateway) Connect(cfg ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		g.logger.Error("invalid connection config", "error", err)
		g.debug.Append("connect rejected: " + err.Error())
		return err
	}
	uri, err := cfg.ServerURI()
	if err != nil {
		return err
	}

	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.retire()

	ctx, cancel := context.WithCancel(context.Background())
	run := &connectionRun{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		cfg:    cfg,
		uri:    uri,
		topics: NewTopicSet(cfg.DeviceID),
		corr:   NewResponseCorrelator(g.opts.CommandTimeout, g.opts.Clock, g.logger),
	}
	run.poller = NewPollingScheduler(
		g.opts.PollInterval,
		g.opts.PollBackoff,
		func() error { return g.publishShadowRequest(run) },
		g.opts.Clock,
		g.logger,
		g.metrics,
	)

	g.mu.Lock()
	g.run = run
	g.mu.Unlock()

	g.setState(run, Connecting)
	go g.connectLoop(run)
	return nil
}

// Disconnect stops polling and reconnect attempts, closes the session and
// leaves the gateway Disconnected. Pending commands keep their timeouts.
// Safe to call at any time and more than once.
func (g *Gateway) Disconnect() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.retire()
	if g.state.Get() == Disconnected {
		return
	}
	g.state.Set(Disconnected)
	g.metrics.setState(Disconnected)
}

// Close is Disconnect for use with defer.
func (g *Gateway) Close() error {
	g.Disconnect()
	return nil
}

// retire tears down the current run, if any. Callers hold lifecycle.
func (g *Gateway) retire() {
	g.mu.Lock()
	run := g.run
	g.run = nil
	g.mu.Unlock()
	if run == nil {
		return
	}

	run.mu.Lock()
	run.cancel()
	run.connected = false
	run.poller.Stop()
	run.mu.Unlock()

	// Closing first unblocks a handshake or subscribe still in flight.
	// connectOnce checks ctx under sessMu, so no session appears later.
	if sess := run.currentSession(); sess != nil {
		if err := sess.Close(); err != nil {
			g.logger.Warn("closing session", "error", err)
		}
	}
	<-run.done
	g.logger.Info("session closed", "device_id", run.cfg.DeviceID)
}

// setState publishes s if run is still the live run.
func (g *Gateway) setState(run *connectionRun, s ConnectionState) {
	run.mu.Lock()
	defer run.mu.Unlock()
	g.setStateLocked(run, s)
}

func (g *Gateway) setStateLocked(run *connectionRun, s ConnectionState) {
	if run.ctx.Err() != nil {
		return
	}
	if g.state.Get() == s {
		return
	}
	g.state.Set(s)
	g.metrics.setState(s)
	g.debug.Append("connection state: " + s.String())
	g.logger.Info("connection state changed", "state", s.String(), "device_id", run.cfg.DeviceID)
}

func (g *Gateway) connectLoop(run *connectionRun) {
	defer close(run.done)

	policy := g.opts.Reconnect
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if err := run.ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if attempt > 1 {
			g.setState(run, Connecting)
		}

		err := g.connectOnce(run)
		if err == nil {
			return struct{}{}, nil
		}
		g.setState(run, ConnectFailed)
		g.debug.Append("connect failed: " + err.Error())
		if errors.Is(err, ErrConfiguration) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn("connect attempt failed",
				"device_id", run.cfg.DeviceID,
				"attempt", attempt,
				"error", err,
				"retry_in", next,
			)
		}),
	}
	if policy.MaxAttempts > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(uint(policy.MaxAttempts)))
	}

	if _, err := backoff.Retry(run.ctx, operation, retryOpts...); err != nil {
		if run.ctx.Err() != nil {
			return
		}
		g.logger.Error("giving up connecting", "device_id", run.cfg.DeviceID, "attempts", attempt, "error", err)
	}
}

// connectOnce builds a fresh session and performs one handshake.
func (g *Gateway) connectOnce(run *connectionRun) error {
	cfg := run.cfg
	creds := mqtt.ResolveCredentials(cfg.DeviceID, cfg.ClientID, cfg.Username, cfg.Password, cfg.DeviceSecret, g.opts.Clock.Now())

	sess, err := g.opts.SessionFactory(cfg, creds, g.sessionEvents(run))
	if err != nil {
		return err
	}

	run.sessMu.Lock()
	if run.ctx.Err() != nil {
		run.sessMu.Unlock()
		_ = sess.Close()
		return backoff.Permanent(run.ctx.Err())
	}
	previous := run.session
	run.session = sess
	run.clientID = creds.ClientID
	run.sessMu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	g.logger.Info("connecting",
		"broker", run.uri,
		"device_id", cfg.DeviceID,
		"client_id", creds.ClientID,
	)
	if err := sess.Connect(run.ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	g.enterConnected(run)
	return nil
}

func (g *Gateway) sessionEvents(run *connectionRun) SessionEvents {
	return SessionEvents{
		OnConnect: func() { g.enterConnected(run) },
		OnConnectionLost: func(err error) {
			run.mu.Lock()
			defer run.mu.Unlock()
			if run.ctx.Err() != nil {
				return
			}
			run.connected = false
			run.poller.Stop()
			g.logger.Warn("connection lost", "device_id", run.cfg.DeviceID, "error", err)
			g.setStateLocked(run, ConnectionLost)
		},
		OnReconnecting: func() {
			g.setState(run, Connecting)
		},
	}
}

// enterConnected subscribes the topic set and starts polling. The
// handshake return and the client's connect callback both call it; the
// first one wins.
func (g *Gateway) enterConnected(run *connectionRun) {
	run.mu.Lock()
	if run.connected || run.ctx.Err() != nil {
		run.mu.Unlock()
		return
	}
	run.connected = true
	run.mu.Unlock()
	sess := run.currentSession()

	g.subscribeAll(run, sess)

	run.mu.Lock()
	defer run.mu.Unlock()
	if !run.connected || run.ctx.Err() != nil {
		return
	}
	run.poller.Start()
	g.setStateLocked(run, Connected)
}

// subscribeAll subscribes every topic of the run. A failed topic is
// logged and does not stop the others.
func (g *Gateway) subscribeAll(run *connectionRun, sess Session) {
	handler := func(topic string, payload []byte) error {
		g.handleMessage(run, topic, payload)
		return nil
	}

	subs := run.topics.Subscriptions()
	failed := 0
	for _, sub := range subs {
		if run.ctx.Err() != nil {
			return
		}
		if err := sess.Subscribe(sub.Topic, g.opts.QoS, handler); err != nil {
			failed++
			g.logger.Error("subscribe failed", "topic", sub.Topic, "error", err)
		}
	}
	g.logger.Info("subscribed",
		"device_id", run.cfg.DeviceID,
		"topics", len(subs)-failed,
		"failed", failed,
	)
}

// handleMessage routes one inbound message by topic kind.
func (g *Gateway) handleMessage(run *connectionRun, topic string, payload []byte) {
	if run.ctx.Err() != nil {
		return
	}
	g.debug.RecordReceived(topic, payload)

	kind := run.topics.Kind(topic)
	g.metrics.received(kind)

	switch {
	case kind.carriesTelemetry():
		g.applyTelemetry(kind, payload)
	case kind == KindCommandResponse:
		resp, err := ParseCommandResponse(topic, payload)
		if err != nil {
			g.logger.Warn("bad command response", "topic", topic, "error", err)
			return
		}
		run.corr.Resolve(resp)
	case kind == KindMessagesUp || kind == KindEventsUp:
		g.logger.Debug("device message", "kind", kind.String(), "bytes", len(payload))
	default:
		g.logger.Debug("message on unexpected topic", "topic", topic)
	}
}

func (g *Gateway) applyTelemetry(kind TopicKind, payload []byte) {
	res, err := DecodePayload(payload)
	if err != nil {
		g.metrics.decodeMiss()
		g.logger.Warn("undecodable telemetry", "kind", kind.String(), "error", err)
		return
	}
	for _, ferr := range res.FieldErrors {
		g.logger.Debug("field skipped", "kind", kind.String(), "error", ferr)
	}
	if res.Patch.Empty() {
		g.metrics.decodeMiss()
		g.logger.Debug("decode miss", "kind", kind.String(), "strategy", res.Strategy)
		return
	}
	g.store.Merge(res.Patch)
	g.logger.Debug("properties merged",
		"kind", kind.String(),
		"strategy", res.Strategy,
		"fields", res.Patch.Fields(),
	)
}

// publish sends payload on the run's session and traces it.
func (g *Gateway) publish(run *connectionRun, topic string, payload []byte) error {
	sess := run.currentSession()
	if sess == nil || !sess.IsConnected() {
		return ErrNotConnected
	}
	if err := sess.Publish(topic, payload, g.opts.QoS, false); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	g.debug.RecordSent(topic, payload)
	return nil
}

func (g *Gateway) publishShadowRequest(run *connectionRun) error {
	payload, err := json.Marshal(shadowRequest{
		ObjectDeviceID: run.cfg.DeviceID,
		ServiceID:      g.opts.ShadowServiceID,
	})
	if err != nil {
		return err
	}
	return g.publish(run, run.topics.ShadowRequest(g.opts.NewRequestID()), payload)
}

// GetShadow requests a shadow refresh in the background. The answer
// arrives as a state change.
func (g *Gateway) GetShadow() error {
	run := g.current()
	if run == nil || !run.isConnected() {
		return ErrNotConnected
	}
	go func() {
		if err := g.publishShadowRequest(run); err != nil {
			g.logger.Error("shadow request failed", "error", err)
		}
	}()
	return nil
}

// SendBatch validates cmd, publishes it and delivers exactly one result
// to callback. Rejections are delivered before SendBatch returns;
// everything else arrives later from another goroutine.
func (g *Gateway) SendBatch(cmd BatchCommand, callback func(CommandResult)) {
	if callback == nil {
		callback = func(CommandResult) {}
	}
	reject := func(outcome string, err error) {
		g.metrics.command(outcome)
		g.logger.Warn("command rejected", "command", cmd.String(), "error", err)
		callback(CommandResult{Message: err.Error(), Err: err})
	}

	if cmd.Empty() {
		reject(outcomeInvalid, fmt.Errorf("%w: command has no fields", ErrInvalidArgument))
		return
	}
	if err := CheckConflict(cmd.Effective(g.store.Snapshot())); err != nil {
		reject(outcomeConflict, err)
		return
	}
	run := g.current()
	if run == nil || !run.isConnected() {
		reject(commandOutcome(ErrNotConnected), ErrNotConnected)
		return
	}

	id := g.opts.NewRequestID()
	payload, err := json.Marshal(newCommandDocument(run.cfg.DeviceID, g.opts.ServiceID, cmd))
	if err != nil {
		reject(outcomeInvalid, fmt.Errorf("%w: %w", ErrInvalidArgument, err))
		return
	}

	err = run.corr.Register(id, func(res CommandResult) {
		g.metrics.command(commandOutcome(res.Err))
		callback(res)
	})
	if err != nil {
		reject(outcomeInvalid, err)
		return
	}

	topic := run.topics.CommandRequest(id)
	g.logger.Info("sending command", "request_id", id, "command", cmd.String())
	go func() {
		if err := g.publish(run, topic, payload); err != nil {
			g.logger.Error("command publish failed", "request_id", id, "error", err)
			run.corr.Fail(id, err)
		}
	}()
}

// Send is SendBatch for callers that can block. Cancelling ctx stops the
// wait only; the command keeps its own timeout.
func (g *Gateway) Send(ctx context.Context, cmd BatchCommand) (CommandResult, error) {
	results := make(chan CommandResult, 1)
	g.SendBatch(cmd, func(res CommandResult) { results <- res })

	select {
	case res := <-results:
		return res, res.Err
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// ReportControlStatus publishes the control switches to messages/up.
// Absent fields take the stored value; a conflicting combination is
// rejected without publishing. callback, if set, receives the outcome.
func (g *Gateway) ReportControlStatus(cmd BatchCommand, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}

	current := g.store.Snapshot()
	ventilation, disinfection, heating := cmd.Effective(current)
	if err := CheckConflict(ventilation, disinfection, heating); err != nil {
		callback(err)
		return
	}
	run := g.current()
	if run == nil || !run.isConnected() {
		callback(ErrNotConnected)
		return
	}

	target := current.TargetTemperature
	if cmd.TargetTemperature != nil {
		target = *cmd.TargetTemperature
	}
	payload, err := json.Marshal(statusReport{Services: []statusService{{
		ServiceID: g.opts.ShadowServiceID,
		Properties: statusProperties{
			Temperature:       current.Temperature,
			Humidity:          current.Humidity,
			FoodAmount:        current.FoodAmount,
			WaterAmount:       current.WaterAmount,
			Ventilation:       ventilation,
			Disinfection:      disinfection,
			Heating:           heating,
			TargetTemperature: target,
		},
		EventTime: g.opts.Clock.Now().UTC().Format(eventTimeLayout),
	}}})
	if err != nil {
		callback(err)
		return
	}

	go func() {
		err := g.publish(run, run.topics.MessagesUp(), payload)
		if err != nil {
			g.logger.Error("status report failed", "error", err)
		}
		callback(err)
	}()
}
