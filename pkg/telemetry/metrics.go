package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the booking core's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	holdsCreated    *prometheus.CounterVec
	holdsRejected   *prometheus.CounterVec
	holdsFinished   *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepReclaimed  prometheus.Counter
	reserveDuration *prometheus.HistogramVec
}

// NewMetrics registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		holdsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawstay_holds_created_total",
			Help: "Reservation holds created, by service key.",
		}, []string{"service"}),
		holdsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawstay_holds_rejected_total",
			Help: "Hold requests refused, by service key and reason.",
		}, []string{"service", "reason"}),
		holdsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawstay_holds_finished_total",
			Help: "Holds that reached a terminal status, by status.",
		}, []string{"status"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawstay_capacity_compensations_total",
			Help: "Compensating capacity releases after a failed hold insert, by outcome.",
		}, []string{"outcome"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawstay_sweep_runs_total",
			Help: "Sweep job executions, by result.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pawstay_sweep_duration_seconds",
			Help:    "Sweep job duration.",
			Buckets: prometheus.DefBuckets,
		}),
		sweepReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawstay_sweep_reclaimed_total",
			Help: "Expired holds whose capacity was reclaimed by the sweep.",
		}),
		reserveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawstay_capacity_reserve_duration_seconds",
			Help:    "Capacity reserve latency, by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.holdsCreated,
			m.holdsRejected,
			m.holdsFinished,
			m.compensations,
			m.sweepRuns,
			m.sweepDuration,
			m.sweepReclaimed,
			m.reserveDuration,
		)
	}
	return m
}

func (m *Metrics) HoldCreated(service string) {
	if m == nil {
		return
	}
	m.holdsCreated.WithLabelValues(service).Inc()
}

func (m *Metrics) HoldRejected(service, reason string) {
	if m == nil {
		return
	}
	m.holdsRejected.WithLabelValues(service, reason).Inc()
}

func (m *Metrics) HoldFinished(status string) {
	if m == nil {
		return
	}
	m.holdsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) Compensation(outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReserve(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.reserveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveSweep(result string, reclaimed int, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(d.Seconds())
	m.sweepReclaimed.Add(float64(reclaimed))
}
