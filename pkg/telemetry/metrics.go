package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus observability primitives for the transaction layer.
type Metrics struct {
	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	effectsFlushed      *prometheus.CounterVec
	effectsDiscarded    *prometheus.CounterVec
	outboxDispatch      *prometheus.CounterVec
	outboxBacklog       prometheus.Gauge
}

// NewMetrics registers and returns Prometheus metrics.
func NewMetrics() *Metrics {
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowglad_transactions_total",
		Help: "Counts database transactions by kind and status.",
	}, []string{"kind", "status"})

	transactionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowglad_transaction_duration_seconds",
		Help:    "Transaction wall-clock time per kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	effectsFlushed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowglad_effects_flushed_total",
		Help: "Counts committed transaction effects by type.",
	}, []string{"type"})

	effectsDiscarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowglad_effects_discarded_total",
		Help: "Counts effects discarded by rolled-back transactions.",
	}, []string{"type"})

	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowglad_outbox_dispatch_total",
		Help: "Counts dispatcher batches by status.",
	}, []string{"status"})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowglad_outbox_backlog",
		Help: "Pending outbox events awaiting dispatch.",
	})

	prometheus.MustRegister(
		transactions,
		transactionDuration,
		effectsFlushed,
		effectsDiscarded,
		outboxDispatch,
		outboxBacklog,
	)

	return &Metrics{
		transactions:        transactions,
		transactionDuration: transactionDuration,
		effectsFlushed:      effectsFlushed,
		effectsDiscarded:    effectsDiscarded,
		outboxDispatch:      outboxDispatch,
		outboxBacklog:       outboxBacklog,
	}
}

func (m *Metrics) ObserveTransaction(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(kind, status).Inc()
	m.transactionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) AddEffectsFlushed(effectType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.effectsFlushed.WithLabelValues(effectType).Add(float64(n))
}

func (m *Metrics) AddEffectsDiscarded(effectType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.effectsDiscarded.WithLabelValues(effectType).Add(float64(n))
}

func (m *Metrics) RecordOutboxDispatch(status string) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(status).Inc()
}

func (m *Metrics) SetOutboxBacklog(n int64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(n))
}
