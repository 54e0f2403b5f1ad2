package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "growcore"

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	resolveEntries  *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	commandStatus   *prometheus.CounterVec
	commandAcks     *prometheus.CounterVec
	sweptCommands   prometheus.Counter
}

// New creates a Metrics with its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cycle_transitions_total",
				Help:      "Grow cycle transitions written to the ledger",
			},
			[]string{"trigger", "to_status"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "targets_resolve_duration_seconds",
				Help:      "Time taken to resolve effective targets",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"mode"},
		),
		resolveEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "targets_resolve_entries_total",
				Help:      "Resolved entries by outcome",
			},
			[]string{"outcome"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "command_dispatches_total",
				Help:      "Command dispatch calls, split by whether a new record was created",
			},
			[]string{"result"},
		),
		commandStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "command_status_changes_total",
				Help:      "Command status writes by target status",
			},
			[]string{"status"},
		),
		commandAcks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "command_acks_total",
				Help:      "Command acknowledgements recorded by type",
			},
			[]string{"ack_type"},
		),
		sweptCommands: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "command_timeouts_swept_total",
				Help:      "Commands moved to TIMEOUT by the watchdog sweep",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.resolveDuration,
		m.resolveEntries,
		m.dispatches,
		m.commandStatus,
		m.commandAcks,
		m.sweptCommands,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TransitionRecorded counts one ledger entry.
func (m *Metrics) TransitionRecorded(trigger, toStatus string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(trigger, toStatus).Inc()
}

// ObserveResolve records the duration of one resolver call. mode is
// cycle, zone or batch.
func (m *Metrics) ObserveResolve(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolveDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// CountResolveEntry counts one resolved entry. outcome is snapshot, empty or error.
func (m *Metrics) CountResolveEntry(outcome string) {
	if m == nil {
		return
	}
	m.resolveEntries.WithLabelValues(outcome).Inc()
}

// CountDispatch counts one dispatch call.
func (m *Metrics) CountDispatch(created bool) {
	if m == nil {
		return
	}
	result := "replayed"
	if created {
		result = "created"
	}
	m.dispatches.WithLabelValues(result).Inc()
}

// CommandStatusChanged counts one command status write.
func (m *Metrics) CommandStatusChanged(status string) {
	if m == nil {
		return
	}
	m.commandStatus.WithLabelValues(status).Inc()
}

// AckRecorded counts one command acknowledgement.
func (m *Metrics) AckRecorded(ackType string) {
	if m == nil {
		return
	}
	m.commandAcks.WithLabelValues(ackType).Inc()
}

// TimeoutsSwept adds n commands moved to TIMEOUT.
func (m *Metrics) TimeoutsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptCommands.Add(float64(n))
}
