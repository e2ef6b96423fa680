package models

import "time"

// Snapshot schema tags. Version bumps are additive only: newer readers must
// load older snapshots, filling missing fields with zero values.
const (
	StreamSnapshotSchema  = "aurora.stream_state"
	ProcessSnapshotSchema = "aurora.process_state"
	SnapshotVersion       = 2
)

// QuantileSnapshot serializes a streaming quantile estimator.
type QuantileSnapshot struct {
	Count   int       `json:"count"`
	Warmup  []float64 `json:"warmup,omitempty"`
	Heights []float64 `json:"heights,omitempty"`
	Pos     []int     `json:"pos,omitempty"`
	Desired []float64 `json:"desired,omitempty"`
	Incr    []float64 `json:"incr,omitempty"`
}

// CalibrationSnapshot serializes the conformal calibrator's mutable state.
type CalibrationSnapshot struct {
	AlphaTarget  float64          `json:"alpha_target"`
	CoverageEMA  float64          `json:"coverage_ema"`
	MissStreak   int              `json:"miss_streak"`
	Cooldown     int              `json:"cooldown"`
	Inflation    float64          `json:"inflation,omitempty"`
	ScoreCount   int              `json:"score_count"`
	Scores       QuantileSnapshot `json:"scores"`
	LastObserved time.Time        `json:"last_observed,omitempty"`
}

// UncertaintySnapshot serializes the aggregator's rolling trackers.
type UncertaintySnapshot struct {
	BCC        float64 `json:"bcc"`
	BCCSamples int     `json:"bcc_samples"`
}

// AcceptanceSnapshot serializes the orchestrator FSM so a restart resumes
// without replaying observations.
type AcceptanceSnapshot struct {
	Posture           string           `json:"posture"`
	SoftDwell         int              `json:"soft_dwell"`
	CleanDwell        int              `json:"clean_dwell"`
	BlockAge          int              `json:"block_age"`
	LastTransition    time.Time        `json:"last_transition"`
	ViolationsByGuard map[string]int64 `json:"violations_by_guard,omitempty"`
	Transitions       map[string]int64 `json:"transitions,omitempty"`
}

// StreamSnapshot is the versioned per-stream envelope.
type StreamSnapshot struct {
	Schema      string              `json:"schema"`
	Version     int                 `json:"version"`
	Profile     string              `json:"profile"`
	SavedAt     time.Time           `json:"saved_at"`
	LastTS      time.Time           `json:"last_ts"`
	ACIEMA      float64             `json:"aci_ema,omitempty"`
	RegimeEMA   float64             `json:"regime_ema,omitempty"`
	Calibration CalibrationSnapshot `json:"calibration"`
	Uncertainty UncertaintySnapshot `json:"uncertainty"`
	Acceptance  AcceptanceSnapshot  `json:"acceptance"`
}

// LedgerSnapshot serializes the alpha-spending ledger.
type LedgerSnapshot struct {
	TotalBudget float64            `json:"total_budget"`
	Cumulative  float64            `json:"cumulative"`
	TestSeq     int                `json:"test_seq,omitempty"`
	Entries     []AlphaLedgerEntry `json:"entries"`
}

// ProcessSnapshot is the versioned process-wide envelope: ledger plus policy
// registry, shared by all streams.
type ProcessSnapshot struct {
	Schema   string         `json:"schema"`
	Version  int            `json:"version"`
	SavedAt  time.Time      `json:"saved_at"`
	Ledger   LedgerSnapshot `json:"ledger"`
	Policies []PolicyRecord `json:"policies,omitempty"`
}
