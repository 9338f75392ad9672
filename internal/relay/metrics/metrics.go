// Package metrics exports relay counters to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

// Call outcomes.
const (
	ResultOK        = "ok"
	ResultNoPort    = "no_port"
	ResultBadOffer  = "bad_offer"
	ResultCollision = "collision"
	ResultReoffer   = "reoffer"
)

// Metrics holds every collector of the relay.
type Metrics struct {
	legs        *prometheus.GaugeVec
	calls       *prometheus.GaugeVec
	freePorts   *prometheus.GaugeVec
	callResults *prometheus.CounterVec
	ends        *prometheus.CounterVec
	packets     *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	bindErrors  *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
	commands    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		legs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "legs_active",
			Help:      "Number of live relay legs",
		}, []string{"shard"}),
		calls: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls with at least one live leg",
		}, []string{"shard"}),
		freePorts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ports_free",
			Help:      "Ports left in the pool",
		}, []string{"shard"}),
		callResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_requests_total",
			Help:      "Call requests by outcome",
		}, []string{"shard", "result"}),
		ends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "end_requests_total",
			Help:      "End requests that removed a call",
		}, []string{"shard"}),
		packets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Relayed datagrams",
		}, []string{"shard", "direction"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Relayed payload bytes",
		}, []string{"shard", "direction"}),
		bindErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_failures_total",
			Help:      "Socket binds the backend could not complete",
		}, []string{"shard"}),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_timeouts_total",
			Help:      "Legs reclaimed because their bind never confirmed",
		}, []string{"shard"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_commands_total",
			Help:      "Control commands by transport, command and result",
		}, []string{"transport", "command", "result"}),
	}
}

// Shard returns the view used by one worker. A nil Metrics yields a nil
// view, whose methods do nothing.
func (m *Metrics) Shard(id int) *Shard {
	if m == nil {
		return nil
	}
	return &Shard{m: m, label: strconv.Itoa(id)}
}

// Command counts one control command.
func (m *Metrics) Command(transport, command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(transport, command, result).Inc()
}

// Shard is the per-worker view of Metrics.
type Shard struct {
	m     *Metrics
	label string
}

func (s *Shard) CallResult(result string) {
	if s == nil {
		return
	}
	s.m.callResults.WithLabelValues(s.label, result).Inc()
}

func (s *Shard) CallEnded() {
	if s == nil {
		return
	}
	s.m.ends.WithLabelValues(s.label).Inc()
}

func (s *Shard) PacketIn(n int) {
	if s == nil {
		return
	}
	s.m.packets.WithLabelValues(s.label, "in").Inc()
	s.m.bytes.WithLabelValues(s.label, "in").Add(float64(n))
}

func (s *Shard) PacketOut(n int) {
	if s == nil {
		return
	}
	s.m.packets.WithLabelValues(s.label, "out").Inc()
	s.m.bytes.WithLabelValues(s.label, "out").Add(float64(n))
}

func (s *Shard) BindFailed() {
	if s == nil {
		return
	}
	s.m.bindErrors.WithLabelValues(s.label).Inc()
}

func (s *Shard) BindTimedOut() {
	if s == nil {
		return
	}
	s.m.timeouts.WithLabelValues(s.label).Inc()
}

// Occupancy sets the gauges after every state change.
func (s *Shard) Occupancy(legs, calls, freePorts int) {
	if s == nil {
		return
	}
	s.m.legs.WithLabelValues(s.label).Set(float64(legs))
	s.m.calls.WithLabelValues(s.label).Set(float64(calls))
	s.m.freePorts.WithLabelValues(s.label).Set(float64(freePorts))
}
