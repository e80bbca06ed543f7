package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "petnest"
const metricsSubsystem = "gateway"

// Command outcome labels.
const (
	outcomeSuccess      = "success"
	outcomeFailure      = "failure"
	outcomeTimeout      = "timeout"
	outcomeConflict     = "conflict"
	outcomeInvalid      = "invalid"
	outcomePublishError = "publish_error"
	outcomeNotConnected = "not_connected"
)

// commandOutcome labels a finished command by its error. The label for a
// given error is the same whether SendBatch refused the command up front
// or the publish failed later.
func commandOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrNotConnected):
		return outcomeNotConnected
	case errors.Is(err, ErrCommandTimeout):
		return outcomeTimeout
	case errors.Is(err, ErrPublish):
		return outcomePublishError
	}
	return outcomeFailure
}

// Metrics holds the gateway's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionState  prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	decodeMisses     prometheus.Counter
	commands         *prometheus.CounterVec
	polls            *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 connection lost, 4 connect failed).",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_received_total",
			Help:      "Inbound MQTT messages by topic kind.",
		}, []string{"kind"}),
		decodeMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decode_misses_total",
			Help:      "Telemetry payloads that yielded no known property.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "commands_total",
			Help:      "Control commands by outcome.",
		}, []string{"outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "polls_total",
			Help:      "Shadow polls by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionState, m.messagesReceived, m.decodeMisses, m.commands, m.polls)
	}
	return m
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}

func (m *Metrics) received(kind TopicKind) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) decodeMiss() {
	if m == nil {
		return
	}
	m.decodeMisses.Inc()
}

func (m *Metrics) command(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}
