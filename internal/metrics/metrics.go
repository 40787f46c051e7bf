// Package metrics registers the Prometheus collectors for the audit and
// ledger components. The Record* functions match the callback signatures the
// components accept, so wiring is a SetMetricsRecorder call away.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmerrifield20/auditchain/internal/chain"
)

var (
	auditEmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditchain_audit_emissions_total",
		Help: "Total audit entries emitted by action and result.",
	}, []string{"action", "result"})

	ledgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditchain_ledger_operations_total",
		Help: "Total ledger operations by operation and outcome.",
	}, []string{"op", "outcome"})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditchain_sweeps_total",
		Help: "Total integrity sweeps by result.",
	}, []string{"result"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditchain_sweep_duration_seconds",
		Help:    "Integrity sweep duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditchain_webhook_deliveries_total",
		Help: "Total alert webhook delivery attempts by result.",
	}, []string{"result"})

	// Labelled by the first segment of the chain key ("attendance",
	// "grades"), never by the full per-tenant key.
	chainsByKind = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "auditchain_chains",
		Help: "Number of chains per record kind at the last listing.",
	}, []string{"kind"})

	recordsByKind = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "auditchain_chain_records",
		Help: "Number of chained records per record kind at the last listing.",
	}, []string{"kind"})
)

// RecordEmission records one audit emission attempt.
func RecordEmission(action string, success bool) {
	auditEmissionsTotal.WithLabelValues(action, result(success)).Inc()
}

// RecordLedger records one ledger operation outcome.
func RecordLedger(op, outcome string) {
	ledgerOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordSweep records one integrity sweep.
func RecordSweep(valid bool, d time.Duration) {
	sweepsTotal.WithLabelValues(result(valid)).Inc()
	sweepDuration.Observe(d.Seconds())
}

// RecordWebhookDelivery records one alert delivery attempt.
func RecordWebhookDelivery(success bool) {
	webhookDeliveriesTotal.WithLabelValues(result(success)).Inc()
}

// ObserveChains replaces the per-kind chain and record gauges with the
// totals of heads.
func ObserveChains(heads []chain.ChainHead) {
	chains := map[string]int{}
	records := map[string]int64{}
	for _, h := range heads {
		k := Kind(h.Chain)
		chains[k]++
		records[k] += h.Length
	}
	chainsByKind.Reset()
	recordsByKind.Reset()
	for k, n := range chains {
		chainsByKind.WithLabelValues(k).Set(float64(n))
		recordsByKind.WithLabelValues(k).Set(float64(records[k]))
	}
}

// Kind returns the first segment of a chain key.
func Kind(key string) string {
	kind, _, _ := strings.Cut(key, "/")
	if kind == "" {
		return "unknown"
	}
	return kind
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
