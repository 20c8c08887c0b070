package metrics

import (
	"strconv"

	"github.com/devrev/ringconductor/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Control loop metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration prometheus.Histogram
	ClaimHeld    prometheus.Gauge

	// Orchestration metrics
	RingTransitions  *prometheus.CounterVec
	HostCommands     *prometheus.CounterVec
	RingState        *prometheus.GaugeVec
	UpdateProgress   prometheus.Gauge
	UpdatesCompleted prometheus.Counter
}

// ringStateValues maps ring states to the value exported by conductor_ring_state
var ringStateValues = map[model.RingState]float64{
	model.RingStateOpen:     0,
	model.RingStateClosing:  1,
	model.RingStateClosed:   2,
	model.RingStateUpdating: 3,
	model.RingStateUpdated:  4,
	model.RingStateOpening:  5,
}

// NewMetrics creates Prometheus metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_ticks_total",
				Help: "Total number of control loop ticks",
			},
			[]string{"result"},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_tick_duration_seconds",
				Help:    "Duration of a control loop tick",
				Buckets: prometheus.DefBuckets,
			},
		),

		ClaimHeld: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_claim_held",
				Help: "Whether this process holds the conductor claim (1) or not (0)",
			},
		),

		RingTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_ring_transitions_total",
				Help: "Total number of ring state transitions",
			},
			[]string{"from", "to"},
		),

		HostCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_host_commands_total",
				Help: "Total number of commands enqueued for hosts",
			},
			[]string{"command"},
		),

		RingState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_ring_state",
				Help: "Ring state (0=OPEN 1=CLOSING 2=CLOSED 3=UPDATING 4=UPDATED 5=OPENING)",
			},
			[]string{"ring"},
		),

		UpdateProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_update_progress_ratio",
				Help: "Fraction of hosts up to date with the most recent version",
			},
		),

		UpdatesCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_updates_completed_total",
				Help: "Total number of ring group updates marked complete",
			},
		),
	}
}

// RecordTick records the outcome and duration of a tick
func (m *Metrics) RecordTick(result string, duration float64) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(duration)
}

// SetClaimHeld records whether the claim is held
func (m *Metrics) SetClaimHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.ClaimHeld.Set(1)
	} else {
		m.ClaimHeld.Set(0)
	}
}

// RecordTransition records a ring moving between states
func (m *Metrics) RecordTransition(ring int, from, to model.RingState) {
	if m == nil {
		return
	}
	m.RingTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.RingState.WithLabelValues(strconv.Itoa(ring)).Set(ringStateValues[to])
}

// ObserveRingState records the state a ring was observed in
func (m *Metrics) ObserveRingState(ring int, state model.RingState) {
	if m == nil {
		return
	}
	m.RingState.WithLabelValues(strconv.Itoa(ring)).Set(ringStateValues[state])
}

// RecordHostCommand records a command enqueued for a host
func (m *Metrics) RecordHostCommand(cmd model.HostCommand) {
	if m == nil {
		return
	}
	m.HostCommands.WithLabelValues(string(cmd)).Inc()
}

// SetUpdateProgress records the fraction of up to date hosts
func (m *Metrics) SetUpdateProgress(fraction float64) {
	if m == nil {
		return
	}
	m.UpdateProgress.Set(fraction)
}

// RecordUpdateCompleted records a ring group update reaching completion
func (m *Metrics) RecordUpdateCompleted() {
	if m == nil {
		return
	}
	m.UpdatesCompleted.Inc()
}
