// Package calibrate implements online adaptive conformal calibration: it
// turns a point forecast plus sigma into a prediction interval whose
// miscoverage target adjusts itself against realized coverage.
package calibrate

import (
	"fmt"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/quantile"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/util"
)

// Config tunes one calibrator instance.
type Config struct {
	AlphaBase        float64
	AlphaMin         float64
	AlphaMax         float64
	TransitionBoost  float64 // added to alpha while a regime transition is flagged
	ACIWeight        float64 // weight of the aci_ema term in the alpha formula
	LearnRateBase    float64 // slow controller rate
	LearnRateShift   float64 // fast controller rate, used on transition cycles
	CoverageLambda   float64 // EMA smoothing for realized coverage
	CooldownCycles   int     // adjustment freeze after each alpha step
	InflationCeiling float64 // max single-step widening of the interval scale
	MinCalibration   int     // residual scores required before trusting the quantile
	ReferenceZ       float64 // fixed z fallback before MinCalibration
	Quantile         quantile.Config
}

// Calibrator owns its CalibrationState exclusively; one instance per decision
// stream, single writer.
type Calibrator struct {
	cfg Config

	alphaTarget  float64
	coverageEMA  float64
	missStreak   int
	cooldown     int
	lastScale    float64 // previous q, anchor for the inflation ceiling
	scores       *quantile.Estimator
	scoreCount   int
	lastObserved time.Time
}

// New creates a calibrator. Config must already be validated (alpha bounds
// ordered, rates positive); pkg/config enforces that at startup.
func New(cfg Config) *Calibrator {
	return &Calibrator{
		cfg:         cfg,
		alphaTarget: cfg.AlphaBase,
		coverageEMA: 1 - cfg.AlphaBase,
		scores:      quantile.New(cfg.Quantile),
	}
}

// Alpha returns the current adaptive miscoverage target.
func (c *Calibrator) Alpha() float64 { return c.alphaTarget }

// CoverageEMA returns the smoothed realized coverage.
func (c *Calibrator) CoverageEMA() float64 { return c.coverageEMA }

// MissStreak returns the current run of consecutive interval misses.
func (c *Calibrator) MissStreak() int { return c.missStreak }

// ScoreCount returns how many residual scores have been ingested.
func (c *Calibrator) ScoreCount() int { return c.scoreCount }

// PredictInterval produces the calibrated interval for one cycle. Non-positive
// or non-finite sigma is rejected with ErrInvalidInput and leaves state
// untouched.
func (c *Calibrator) PredictInterval(point, sigma float64, isTransition bool, aciEMA float64) (models.IntervalPrediction, error) {
	if sigma <= 0 || !util.Finite(sigma) || !util.Finite(point) {
		return models.IntervalPrediction{}, fmt.Errorf("sigma %v, point %v: %w", sigma, point, models.ErrInvalidInput)
	}

	trans := 0.0
	if isTransition {
		trans = 1.0
	}
	alpha := util.Clip(
		c.alphaTarget+c.cfg.TransitionBoost*trans+c.cfg.ACIWeight*aciEMA,
		c.cfg.AlphaMin, c.cfg.AlphaMax,
	)

	var q float64
	if c.scoreCount < c.cfg.MinCalibration {
		q = c.cfg.ReferenceZ
	} else {
		q = c.scores.Estimate(1 - alpha)
	}
	// cap single-step widening against the previous scale
	if c.lastScale > 0 && q > c.lastScale*c.cfg.InflationCeiling {
		q = c.lastScale * c.cfg.InflationCeiling
	}
	if q <= 0 {
		q = c.cfg.ReferenceZ
	}
	c.lastScale = q

	return models.IntervalPrediction{
		Lower:     point - q*sigma,
		Upper:     point + q*sigma,
		AlphaUsed: alpha,
	}, nil
}

// OnObservation feeds a delayed ground truth back into the calibrator: it
// updates the residual-score estimator, the coverage EMA, and the adaptive
// alpha target.
//
// The controller is signed: empirical coverage above target raises alpha
// (tightens future intervals), coverage below target lowers it (widens). An
// inverted sign here silently drives runaway over-coverage; the regression
// test in calibrator_test.go pins the direction.
func (c *Calibrator) OnObservation(truth, point, sigma float64, pred models.IntervalPrediction, isTransition bool) error {
	if sigma <= 0 || !util.Finite(sigma) || !util.Finite(truth) {
		return fmt.Errorf("sigma %v, truth %v: %w", sigma, truth, models.ErrInvalidInput)
	}

	hit := 0.0
	if pred.Contains(truth) {
		hit = 1.0
		c.missStreak = 0
	} else {
		c.missStreak++
	}

	score := abs(truth-point) / sigma
	c.scores.Observe(score)
	c.scoreCount++

	c.coverageEMA = util.EMA(c.coverageEMA, hit, c.cfg.CoverageLambda)

	// signed coverage error: positive when covered more often than target
	e := hit - (1 - c.alphaTarget)

	if c.cooldown > 0 {
		c.cooldown--
	} else {
		lr := c.cfg.LearnRateBase
		if isTransition {
			lr = c.cfg.LearnRateShift
		}
		next := util.Clip(c.alphaTarget+lr*e, c.cfg.AlphaMin, c.cfg.AlphaMax)
		if next != c.alphaTarget {
			c.alphaTarget = next
			c.cooldown = c.cfg.CooldownCycles
		}
	}

	c.lastObserved = time.Now().UTC()
	return nil
}

// Surprisal returns the standardized residual score for telemetry.
func Surprisal(truth, point, sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return abs(truth-point) / sigma
}

// Snapshot serializes the full calibration state.
func (c *Calibrator) Snapshot() models.CalibrationSnapshot {
	return models.CalibrationSnapshot{
		AlphaTarget:  c.alphaTarget,
		CoverageEMA:  c.coverageEMA,
		MissStreak:   c.missStreak,
		Cooldown:     c.cooldown,
		Inflation:    c.lastScale,
		ScoreCount:   c.scoreCount,
		Scores:       c.scores.Snapshot(),
		LastObserved: c.lastObserved,
	}
}

// Restore rebuilds calibration state from a snapshot without replaying
// observations. Missing fields from older snapshot versions load as zero and
// are re-derived online.
func (c *Calibrator) Restore(snap models.CalibrationSnapshot) {
	c.alphaTarget = util.Clip(snap.AlphaTarget, c.cfg.AlphaMin, c.cfg.AlphaMax)
	if snap.AlphaTarget == 0 {
		c.alphaTarget = c.cfg.AlphaBase
	}
	c.coverageEMA = util.Clip01(snap.CoverageEMA)
	c.missStreak = snap.MissStreak
	c.cooldown = snap.Cooldown
	c.lastScale = snap.Inflation
	c.scoreCount = snap.ScoreCount
	c.scores = quantile.Restore(c.cfg.Quantile, snap.Scores)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
