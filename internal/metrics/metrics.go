package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics instruments decisions, overrides, appends and verification
// runs. A nil *LedgerMetrics is a valid no-op.
type LedgerMetrics struct {
	decisions  *prometheus.CounterVec
	overrides  *prometheus.CounterVec
	appendTime *prometheus.HistogramVec
	verifyRuns *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskledger_decisions_total",
		Help: "Credit decisions served, by verdict and whether a new base record was appended.",
	}, []string{"verdict", "appended"})
	overrides := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskledger_overrides_total",
		Help: "Override submissions by outcome.",
	}, []string{"outcome"})
	appendTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskledger_ledger_append_seconds",
		Help:    "Time spent in serialized ledger appends.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	verifyRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskledger_verify_runs_total",
		Help: "Ledger verification runs by source and result.",
	}, []string{"source", "result"})
	reg.MustRegister(decisions, overrides, appendTime, verifyRuns)
	return &LedgerMetrics{
		decisions:  decisions,
		overrides:  overrides,
		appendTime: appendTime,
		verifyRuns: verifyRuns,
	}
}

func (m *LedgerMetrics) IncDecision(verdict string, appended bool) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(verdict), strconv.FormatBool(appended)).Inc()
}

func (m *LedgerMetrics) IncOverride(outcome string) {
	if m == nil || m.overrides == nil {
		return
	}
	m.overrides.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) ObserveAppend(kind string, d time.Duration) {
	if m == nil || m.appendTime == nil {
		return
	}
	m.appendTime.WithLabelValues(normalizeLabel(kind)).Observe(d.Seconds())
}

func (m *LedgerMetrics) IncVerify(source string, ok bool) {
	if m == nil || m.verifyRuns == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.verifyRuns.WithLabelValues(normalizeLabel(source), result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
