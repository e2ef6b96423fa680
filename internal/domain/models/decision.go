package models

import "time"

// Posture is the discrete output of the acceptance state machine.
type Posture int

const (
	PosturePass Posture = iota
	PostureDerisk
	PostureBlock
)

func (p Posture) String() string {
	switch p {
	case PosturePass:
		return "PASS"
	case PostureDerisk:
		return "DERISK"
	case PostureBlock:
		return "BLOCK"
	default:
		return "UNKNOWN"
	}
}

// ParsePosture maps the wire representation back to a Posture.
func ParsePosture(s string) (Posture, bool) {
	switch s {
	case "PASS":
		return PosturePass, true
	case "DERISK":
		return PostureDerisk, true
	case "BLOCK":
		return PostureBlock, true
	default:
		return PosturePass, false
	}
}

// GuardKind enumerates every guard the orchestrator evaluates. Exhaustive by
// construction so guard handling is compile-time complete.
type GuardKind int

const (
	GuardCoverageEMA GuardKind = iota
	GuardCoverageMissStreak
	GuardLatencyP95
	GuardSurprisalP95
	GuardRelIntervalWidth
	GuardKappa
	GuardKappaPlus
	guardKindCount
)

// GuardKinds returns all guard kinds in their fixed evaluation order.
func GuardKinds() []GuardKind {
	out := make([]GuardKind, 0, guardKindCount)
	for k := GuardKind(0); k < guardKindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k GuardKind) String() string {
	switch k {
	case GuardCoverageEMA:
		return "coverage_ema"
	case GuardCoverageMissStreak:
		return "coverage_miss_streak"
	case GuardLatencyP95:
		return "latency_p95"
	case GuardSurprisalP95:
		return "surprisal_p95"
	case GuardRelIntervalWidth:
		return "rel_interval_width"
	case GuardKappa:
		return "kappa"
	case GuardKappaPlus:
		return "kappa_plus"
	default:
		return "unknown"
	}
}

// GuardEvaluation is the transient result of checking one guard for one cycle.
// Logged and counted, never persisted as state.
type GuardEvaluation struct {
	Kind          GuardKind
	Value         float64
	SoftThreshold float64
	HardThreshold float64
	BreachedSoft  bool
	BreachedHard  bool
}

// ExecutionDecision is the gate's output for one cycle; derived, not persisted.
type ExecutionDecision struct {
	Posture             Posture
	RecommendedNotional float64
	RiskScale           float64
	// BlockReason names the specific hard guard that forced notional to zero;
	// nil when no hard override fired.
	BlockReason *GuardKind
}

// DecisionRecord is the full per-cycle decision exposed to downstream
// consumers and the audit sink.
type DecisionRecord struct {
	Profile             string
	Timestamp           time.Time
	Posture             Posture
	RiskScale           float64
	RecommendedNotional float64
	BlockReason         string
	Kappa               float64
	KappaPlus           float64
	Alpha               float64
	CoverageEMA         float64
	Stale               bool
}
