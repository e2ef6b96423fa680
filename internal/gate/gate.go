// Package gate maps an acceptance posture to a concrete position-size
// decision. The flow is strictly one-directional: the orchestrator hands the
// gate an immutable posture plus the guard evaluations that produced it, and
// the gate never reaches back into the orchestrator.
package gate

import (
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/util"
)

// Config holds the posture scale map and notional clamps.
type Config struct {
	ScalePass        float64
	ScaleDerisk      float64
	ScaleBlock       float64
	MinNotional      float64
	MaxNotional      float64
	HardBlockOnGuard bool
}

// DefaultConfig mirrors the shipped defaults.
func DefaultConfig() Config {
	return Config{
		ScalePass:        1.0,
		ScaleDerisk:      0.5,
		ScaleBlock:       0.0,
		MinNotional:      0,
		MaxNotional:      1_000_000,
		HardBlockOnGuard: true,
	}
}

// Gate sizes orders from posture. Stateless apart from config, so a single
// instance is safe to share across streams.
type Gate struct {
	cfg     Config
	metrics repository.Metrics
	log     *logger.Logger
}

func New(cfg Config, metrics repository.Metrics, log *logger.Logger) *Gate {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Gate{cfg: cfg, metrics: metrics, log: log}
}

// Decide produces the execution decision for one cycle.
//
// The hard-guard override is unconditional: when enabled, a currently breached
// hard guard zeroes the notional regardless of posture, and the first breached
// guard (in evaluation order) is recorded as the block reason so each guard
// stays individually countable.
func (g *Gate) Decide(posture models.Posture, evals []models.GuardEvaluation, baseNotional float64) models.ExecutionDecision {
	scale := g.scaleFor(posture)
	notional := util.Clip(baseNotional*scale, g.cfg.MinNotional, g.cfg.MaxNotional)

	decision := models.ExecutionDecision{
		Posture:             posture,
		RiskScale:           scale,
		RecommendedNotional: notional,
	}

	if g.cfg.HardBlockOnGuard {
		for _, ev := range evals {
			if ev.BreachedHard {
				kind := ev.Kind
				decision.RiskScale = 0
				decision.RecommendedNotional = 0
				decision.BlockReason = &kind
				g.metrics.RecordHardOverride(kind.String())
				g.log.Warn("hard guard override",
					logger.String("guard", kind.String()),
					logger.String("posture", posture.String()),
					logger.Float64("value", ev.Value),
				)
				break
			}
		}
	}

	return decision
}

func (g *Gate) scaleFor(posture models.Posture) float64 {
	switch posture {
	case models.PosturePass:
		return g.cfg.ScalePass
	case models.PostureDerisk:
		return g.cfg.ScaleDerisk
	case models.PostureBlock:
		return g.cfg.ScaleBlock
	}
	return g.cfg.ScaleBlock
}
