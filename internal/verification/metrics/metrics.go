// Package metrics provides observability for the verification pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks phase outcomes and oracle latency. All methods are nil-safe
// so wiring metrics stays optional in tests.
type Metrics struct {
	IdentityChecks  *prometheus.CounterVec
	WWCCChecks      *prometheus.CounterVec
	ClaimConflicts  prometheus.Counter
	ParserFallbacks prometheus.Counter
	ReconciledRows  *prometheus.CounterVec
	OracleDuration  *prometheus.HistogramVec
	ExpiryDemotions prometheus.Counter
}

// New creates a Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		IdentityChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_identity_checks_total",
			Help: "Identity phase outcomes by result",
		}, []string{"result"}),
		WWCCChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_wwcc_checks_total",
			Help: "Background-check phase outcomes by result and path",
		}, []string{"result", "path"}),
		ClaimConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_wwcc_claim_conflicts_total",
			Help: "Background-check phase invocations that lost the record claim",
		}),
		ParserFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_parser_fallbacks_total",
			Help: "Grant documents the deterministic parser escalated to the oracle",
		}),
		ReconciledRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_reconciled_rows_total",
			Help: "Webhook result rows by action taken",
		}, []string{"action"}),
		OracleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vouch_oracle_duration_seconds",
			Help:    "Duration of extraction oracle calls",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 15, 20, 25, 30},
		}, []string{"kind"}),
		ExpiryDemotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_expiry_demotions_total",
			Help: "Fully verified records demoted after clearance expiry",
		}),
	}
}

// RecordIdentityCheck records one identity phase outcome.
func (m *Metrics) RecordIdentityCheck(result string) {
	if m != nil {
		m.IdentityChecks.WithLabelValues(result).Inc()
	}
}

// RecordWWCCCheck records one background-check phase outcome for a given path
// ("parser", "oracle" or "manual").
func (m *Metrics) RecordWWCCCheck(result, path string) {
	if m != nil {
		m.WWCCChecks.WithLabelValues(result, path).Inc()
	}
}

// RecordClaimConflict records a lost claim race.
func (m *Metrics) RecordClaimConflict() {
	if m != nil {
		m.ClaimConflicts.Inc()
	}
}

// RecordParserFallback records a parser escalation to the oracle path.
func (m *Metrics) RecordParserFallback() {
	if m != nil {
		m.ParserFallbacks.Inc()
	}
}

// RecordReconciledRow records one webhook row by its response action.
func (m *Metrics) RecordReconciledRow(action string) {
	if m != nil {
		m.ReconciledRows.WithLabelValues(action).Inc()
	}
}

// ObserveOracle records the duration of one oracle call. Call with time.Now()
// taken at the start of the call.
func (m *Metrics) ObserveOracle(kind string, start time.Time) {
	if m != nil {
		m.OracleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

// RecordExpiryDemotion records one 40 -> 23 demotion.
func (m *Metrics) RecordExpiryDemotion() {
	if m != nil {
		m.ExpiryDemotions.Inc()
	}
}
