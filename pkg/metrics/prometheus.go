package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	guardViolations *prometheus.CounterVec
	hardOverrides   *prometheus.CounterVec
	staleDecisions  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	alphaCurrent    *prometheus.GaugeVec
	coverageEMA     *prometheus.GaugeVec
	cycleLatency    *prometheus.HistogramVec
	surprisal       *prometheus.HistogramVec
	intervalWidth   *prometheus.HistogramVec
	governance      *prometheus.CounterVec
	ledgerSpent     prometheus.Counter
	ledgerDenials   prometheus.Counter
}

// New creates a new Prometheus metrics recorder. All series carry the
// aurora_ prefix and low-cardinality labels only.
func New() *Recorder {
	return &Recorder{
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_decisions_total",
				Help: "Per-cycle decisions by posture",
			},
			[]string{"profile", "posture"},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_posture_transitions_total",
				Help: "Acceptance state machine transitions",
			},
			[]string{"profile", "from", "to"},
		),
		guardViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_guard_violations_total",
				Help: "Guard breaches by guard name and severity",
			},
			[]string{"profile", "guard", "severity"},
		),
		hardOverrides: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_gate_hard_overrides_total",
				Help: "Executions zeroed by a hard guard, by blocking guard",
			},
			[]string{"guard"},
		),
		staleDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_stale_decisions_total",
				Help: "Cycles that exceeded the decision budget",
			},
			[]string{"profile"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_errors_total",
				Help: "Errors encountered by kind",
			},
			[]string{"type"},
		),
		alphaCurrent: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aurora_alpha_current",
				Help: "Current adaptive miscoverage target",
			},
			[]string{"profile"},
		),
		coverageEMA: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aurora_coverage_ema",
				Help: "Smoothed empirical interval coverage",
			},
			[]string{"profile"},
		),
		cycleLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aurora_cycle_duration_seconds",
				Help:    "End-to-end decision cycle duration",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"profile"},
		),
		surprisal: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aurora_surprisal",
				Help:    "Standardized residual score distribution",
				Buckets: prometheus.LinearBuckets(0, 0.5, 12),
			},
			[]string{"profile"},
		),
		intervalWidth: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aurora_interval_rel_width",
				Help:    "Relative prediction interval width",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"profile"},
		),
		governance: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurora_governance_decisions_total",
				Help: "Sequential test outcomes by decision",
			},
			[]string{"decision"},
		),
		ledgerSpent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aurora_alpha_spent_total",
				Help: "Cumulative significance budget spent",
			},
		),
		ledgerDenials: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aurora_ledger_denials_total",
				Help: "Spend requests denied by the alpha ledger",
			},
		),
	}
}

func (r *Recorder) RecordDecision(profile, posture string) {
	r.decisions.WithLabelValues(profile, posture).Inc()
}

func (r *Recorder) RecordTransition(profile, from, to string) {
	r.transitions.WithLabelValues(profile, from, to).Inc()
}

func (r *Recorder) RecordGuardViolation(profile, guard, severity string) {
	r.guardViolations.WithLabelValues(profile, guard, severity).Inc()
}

func (r *Recorder) RecordHardOverride(guard string) {
	r.hardOverrides.WithLabelValues(guard).Inc()
}

func (r *Recorder) RecordStale(profile string) {
	r.staleDecisions.WithLabelValues(profile).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetAlpha(profile string, v float64) {
	r.alphaCurrent.WithLabelValues(profile).Set(v)
}

func (r *Recorder) SetCoverageEMA(profile string, v float64) {
	r.coverageEMA.WithLabelValues(profile).Set(v)
}

func (r *Recorder) ObserveCycleLatency(profile string, seconds float64) {
	r.cycleLatency.WithLabelValues(profile).Observe(seconds)
}

func (r *Recorder) ObserveSurprisal(profile string, v float64) {
	r.surprisal.WithLabelValues(profile).Observe(v)
}

func (r *Recorder) ObserveIntervalWidth(profile string, v float64) {
	r.intervalWidth.WithLabelValues(profile).Observe(v)
}

func (r *Recorder) RecordGovernanceDecision(decision string) {
	r.governance.WithLabelValues(decision).Inc()
}

func (r *Recorder) RecordLedgerSpend(amount float64) {
	r.ledgerSpent.Add(amount)
}

func (r *Recorder) RecordLedgerDenial() {
	r.ledgerDenials.Inc()
}
