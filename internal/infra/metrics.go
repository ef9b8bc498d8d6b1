package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the settlement service collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	commandsTotal      *prometheus.CounterVec
	commandDuration    *prometheus.HistogramVec
	duplicateRetries   prometheus.Counter
	cacheWriteFailures prometheus.Counter
	burstFlagged       *prometheus.CounterVec
	reconcileRuns      *prometheus.CounterVec
	reconcileDrift     prometheus.Counter
	reconcileLastRun   prometheus.Gauge
	outboxPublished    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "callback",
				Name:      "commands_total",
				Help:      "Provider callbacks partitioned by command and response code.",
			},
			[]string{"command", "code"},
		),
		commandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "settlement",
				Subsystem: "callback",
				Name:      "command_duration_seconds",
				Help:      "Callback handling latency by command.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		duplicateRetries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "callback",
				Name:      "duplicate_reference_retries_total",
				Help:      "Units of work retried after losing an idempotency race.",
			},
		),
		cacheWriteFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "cache",
				Name:      "write_failures_total",
				Help:      "Balance projection write-through failures.",
			},
		),
		burstFlagged: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "guard",
				Name:      "duplicate_burst_total",
				Help:      "BETs flagged as duplicate bursts, by mode.",
			},
			[]string{"mode"},
		),
		reconcileRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "reconcile",
				Name:      "wallets_total",
				Help:      "Wallets reconciled, by result.",
			},
			[]string{"result"},
		),
		reconcileDrift: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "reconcile",
				Name:      "drift_total",
				Help:      "Wallet snapshots found out of line with the transaction log.",
			},
		),
		reconcileLastRun: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "settlement",
				Subsystem: "reconcile",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent full reconciliation pass.",
			},
		),
		outboxPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "outbox",
				Name:      "events_total",
				Help:      "Outbox events relayed, by result.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveCommand(command, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, code).Inc()
	m.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDuplicateRetry() {
	if m == nil {
		return
	}
	m.duplicateRetries.Inc()
}

func (m *Metrics) ObserveCacheWriteFailure() {
	if m == nil {
		return
	}
	m.cacheWriteFailures.Inc()
}

func (m *Metrics) ObserveBurst(mode string) {
	if m == nil {
		return
	}
	m.burstFlagged.WithLabelValues(mode).Inc()
}

// ObserveReconcile records one wallet reconciliation.
func (m *Metrics) ObserveReconcile(drift bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.reconcileRuns.WithLabelValues("error").Inc()
	case drift:
		m.reconcileRuns.WithLabelValues("drift").Inc()
		m.reconcileDrift.Inc()
	default:
		m.reconcileRuns.WithLabelValues("clean").Inc()
	}
}

func (m *Metrics) ObserveReconcilePass(at time.Time) {
	if m == nil {
		return
	}
	m.reconcileLastRun.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveOutbox(published, failed int) {
	if m == nil {
		return
	}
	if published > 0 {
		m.outboxPublished.WithLabelValues("published").Add(float64(published))
	}
	if failed > 0 {
		m.outboxPublished.WithLabelValues("failed").Add(float64(failed))
	}
}
