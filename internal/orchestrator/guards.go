package orchestrator

import (
	"fmt"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

// Direction says which side of the threshold counts as a breach.
type Direction int

const (
	// BreachAbove guards fire when the value rises past the threshold
	// (latency, surprisal, width, kappa, miss streak).
	BreachAbove Direction = iota
	// BreachBelow guards fire when the value falls under the threshold
	// (coverage).
	BreachBelow
)

// DirectionFor is the single source of truth for guard polarity. The switch
// is exhaustive over models.GuardKind; an unknown kind panics rather than
// silently passing a guard unevaluated.
func DirectionFor(kind models.GuardKind) Direction {
	switch kind {
	case models.GuardCoverageEMA:
		return BreachBelow
	case models.GuardCoverageMissStreak,
		models.GuardLatencyP95,
		models.GuardSurprisalP95,
		models.GuardRelIntervalWidth,
		models.GuardKappa,
		models.GuardKappaPlus:
		return BreachAbove
	default:
		panic(fmt.Sprintf("unhandled guard kind %d", kind))
	}
}

// GuardSpec is one configured guard: kind, polarity, and the soft/hard pair.
type GuardSpec struct {
	Kind Kind
	Soft float64
	Hard float64
}

// Kind aliases the domain guard enumeration for brevity inside this package.
type Kind = models.GuardKind

// Evaluate checks a value against the configured soft and hard thresholds.
func (s GuardSpec) Evaluate(value float64) models.GuardEvaluation {
	ev := models.GuardEvaluation{
		Kind:          s.Kind,
		Value:         value,
		SoftThreshold: s.Soft,
		HardThreshold: s.Hard,
	}
	switch DirectionFor(s.Kind) {
	case BreachAbove:
		ev.BreachedSoft = value >= s.Soft
		ev.BreachedHard = value >= s.Hard
	case BreachBelow:
		ev.BreachedSoft = value <= s.Soft
		ev.BreachedHard = value <= s.Hard
	}
	// a hard breach always implies the soft one
	if ev.BreachedHard {
		ev.BreachedSoft = true
	}
	return ev
}

// GuardInputs carries the live metric values for one cycle, one field per
// guard kind.
type GuardInputs struct {
	CoverageEMA      float64
	MissStreak       int
	LatencyP95Ms     float64
	SurprisalP95     float64
	RelIntervalWidth float64
	Kappa            float64
	KappaPlus        float64
}

// valueFor maps inputs onto a guard kind; exhaustive like DirectionFor.
func (in GuardInputs) valueFor(kind Kind) float64 {
	switch kind {
	case models.GuardCoverageEMA:
		return in.CoverageEMA
	case models.GuardCoverageMissStreak:
		return float64(in.MissStreak)
	case models.GuardLatencyP95:
		return in.LatencyP95Ms
	case models.GuardSurprisalP95:
		return in.SurprisalP95
	case models.GuardRelIntervalWidth:
		return in.RelIntervalWidth
	case models.GuardKappa:
		return in.Kappa
	case models.GuardKappaPlus:
		return in.KappaPlus
	default:
		panic(fmt.Sprintf("unhandled guard kind %d", kind))
	}
}
