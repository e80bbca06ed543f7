package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/logging"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

const (
	DefaultReportInterval  = 30 * time.Second
	DefaultShadowServiceID = "dataText"

	keepAliveSeconds  = 20
	requestQueueSize  = 64
	publishTimeout    = 5 * time.Second
	disconnectTimeout = 2 * time.Second

	resultSuccess  = 0
	resultRejected = 1
)

// Options configures a Device.
type Options struct {
	BrokerURL string
	DeviceID  string
	ClientID  string
	Username  string
	Password  string

	ShadowServiceID string
	ReportInterval  time.Duration

	// RejectCommands answers every command with result_code 1 and leaves
	// the state untouched.
	RejectCommands bool

	Initial State
	Seed    uint64
	Logger  *logging.Logger
}

// outbound is one message queued for the connection loop.
type outbound struct {
	topic   string
	payload []byte
}

// Device is a simulated habitat device.
type Device struct {
	opts   Options
	broker *url.URL
	topics mqtt.Topics
	logger *logging.Logger

	mu    sync.Mutex
	state State
	rng   *rand.Rand

	replies chan outbound
}

// New validates opts and returns an unconnected device.
func New(opts Options) (*Device, error) {
	if strings.TrimSpace(opts.DeviceID) == "" {
		return nil, errors.New("simulator: device id is required")
	}
	u, err := url.Parse(opts.BrokerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("simulator: invalid broker url %q", opts.BrokerURL)
	}
	if opts.ClientID == "" {
		opts.ClientID = "habitat-sim-" + opts.DeviceID
	}
	if opts.ShadowServiceID == "" {
		opts.ShadowServiceID = DefaultShadowServiceID
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.Initial == (State{}) {
		opts.Initial = DefaultState()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Device{
		opts:    opts,
		broker:  u,
		logger:  opts.Logger.With("component", "simulator", "device_id", opts.DeviceID),
		state:   opts.Initial,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)), //nolint:gosec // simulation noise
		replies: make(chan outbound, requestQueueSize),
	}, nil
}

// State returns a snapshot of the simulated properties.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run connects and serves requests until ctx is cancelled.
//
// Replies are published from this loop rather than from the receive
// callback, which must not block on acknowledgements.
func (d *Device) Run(ctx context.Context) error {
	cm, err := autopaho.NewConnection(ctx, d.clientConfig())
	if err != nil {
		return fmt.Errorf("starting device connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("awaiting device connection: %w", err)
	}
	d.logger.Info("simulated device online", "broker", d.broker.String())

	ticker := time.NewTicker(d.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			cm.Disconnect(dctx) //nolint:errcheck // shutting down
			<-cm.Done()
			return nil

		case msg := <-d.replies:
			d.publish(ctx, cm, msg)

		case <-ticker.C:
			d.mu.Lock()
			d.state.drift(d.rng)
			d.mu.Unlock()
			d.publish(ctx, cm, d.report())
		}
	}
}

func (d *Device) clientConfig() autopaho.ClientConfig {
	requests := []string{
		d.topics.AllShadowGetRequests(d.opts.DeviceID),
		d.topics.AllCommandRequests(d.opts.DeviceID),
	}
	return autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{d.broker},
		KeepAlive:                     keepAliveSeconds,
		CleanStartOnInitialConnection: true,
		ConnectUsername:               d.opts.Username,
		ConnectPassword:               []byte(d.opts.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			subs := make([]paho.SubscribeOptions, 0, len(requests))
			for _, topic := range requests {
				subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: 1})
			}
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{Subscriptions: subs}); err != nil {
				d.logger.Error("subscribing to request topics", "error", err)
			}
		},
		OnConnectError: func(err error) {
			d.logger.Warn("device connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: d.opts.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					d.enqueue(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				d.logger.Warn("device client error", "error", err)
			},
		},
	}
}

func (d *Device) enqueue(topic string, payload []byte) {
	reply, ok := d.handle(topic, payload)
	if !ok {
		return
	}
	select {
	case d.replies <- reply:
	default:
		d.logger.Warn("reply queue full, dropping", "topic", topic)
	}
}

func (d *Device) publish(ctx context.Context, cm *autopaho.ConnectionManager, msg outbound) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := cm.Publish(pctx, &paho.Publish{QoS: 1, Topic: msg.topic, Payload: msg.payload}); err != nil {
		d.logger.Warn("publish failed", "topic", msg.topic, "error", err)
		return
	}
	d.logger.Debug("published", "topic", msg.topic, "bytes", len(msg.payload))
}

// handle turns one inbound request into its reply. Messages without a
// request id, including the device's own replies, are ignored.
func (d *Device) handle(topic string, payload []byte) (outbound, bool) {
	requestID := mqtt.RequestID(topic)
	if requestID == "" {
		return outbound{}, false
	}
	prefix := fmt.Sprintf("%s/%s/sys/", mqtt.TopicPrefixDevice, d.opts.DeviceID)
	switch {
	case strings.HasPrefix(topic, prefix+"shadow/get/"):
		return d.shadowReply(requestID), true
	case strings.HasPrefix(topic, prefix+"commands/"+mqtt.RequestIDMarker):
		return d.commandReply(requestID, payload), true
	}
	return outbound{}, false
}

func (d *Device) shadowReply(requestID string) outbound {
	doc := map[string]any{
		"object_device_id": d.opts.DeviceID,
		"request_id":       requestID,
		"shadow": []any{
			map[string]any{
				"service_id": d.opts.ShadowServiceID,
				"reported": map[string]any{
					"properties": d.State().wireProperties(),
					"event_time": eventTime(time.Now()),
				},
			},
		},
	}
	return outbound{topic: d.topics.ShadowGetResponse(d.opts.DeviceID), payload: mustJSON(doc)}
}

// commandRequest is the control document the gateway sends.
type commandRequest struct {
	ObjectDeviceID string `json:"object_device_id"`
	ServiceID      string `json:"service_id"`
	Paras          struct {
		Ventilation       *int     `json:"ventilation"`
		Disinfection      *int     `json:"disinfection"`
		Heating           *int     `json:"heating"`
		TargetTemperature *float64 `json:"target_temperature"`
	} `json:"paras"`
}

func (d *Device) commandReply(requestID string, payload []byte) outbound {
	code, desc := resultSuccess, "ok"

	var cmd commandRequest
	switch {
	case json.Unmarshal(payload, &cmd) != nil:
		code, desc = resultRejected, "malformed command"
	case d.opts.RejectCommands:
		code, desc = resultRejected, "rejected by simulator"
	default:
		d.apply(cmd)
	}

	d.logger.Info("command handled", "request_id", requestID, "result_code", code)
	doc := map[string]any{
		"result_code":   code,
		"response_name": "COMMAND_RESPONSE",
		"result_desc":   desc,
	}
	topic := d.topics.CommandResponse(d.opts.DeviceID) + "/" + mqtt.RequestIDMarker + requestID
	return outbound{topic: topic, payload: mustJSON(doc)}
}

func (d *Device) apply(cmd commandRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := cmd.Paras
	if p.Ventilation != nil {
		d.state.Ventilation = *p.Ventilation == 1
	}
	if p.Disinfection != nil {
		d.state.Disinfection = *p.Disinfection == 1
	}
	if p.Heating != nil {
		d.state.Heating = *p.Heating == 1
	}
	if p.TargetTemperature != nil {
		d.state.TargetTemperature = *p.TargetTemperature
	}
}

// report builds a properties/report message from the current state.
func (d *Device) report() outbound {
	doc := map[string]any{
		"object_device_id": d.opts.DeviceID,
		"service_id":       d.opts.ShadowServiceID,
		"properties":       d.State().wireProperties(),
		"event_time":       eventTime(time.Now()),
	}
	return outbound{topic: d.topics.PropertiesReport(d.opts.DeviceID), payload: mustJSON(doc)}
}

// eventTime is the platform's compact UTC stamp, e.g. 20261019T080000Z.
func eventTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("simulator: encoding reply: %v", err))
	}
	return b
}
