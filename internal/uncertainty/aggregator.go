// Package uncertainty folds calibration, model-confidence, and
// coverage-compliance signals into the two composite risk scalars kappa and
// kappa_plus.
package uncertainty

import (
	"math"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/util"
)

// Config tunes one aggregator instance. Gamma is an externally supplied,
// pre-validated blend weight; its offline selection happens outside this
// process.
type Config struct {
	StateWeight    float64
	ModelWeight    float64
	ForecastWeight float64
	Gamma          float64
	BCCLambda      float64
	WidthScale     float64
}

// Aggregator is recomputed fresh each cycle except for the rolling
// blended-coverage-compliance tracker. Single writer per stream.
type Aggregator struct {
	cfg        Config
	bcc        float64
	bccSamples int
}

func New(cfg Config) *Aggregator {
	if cfg.WidthScale <= 0 {
		cfg.WidthScale = 4.0
	}
	return &Aggregator{cfg: cfg, bcc: 1.0}
}

// Score computes the per-cycle uncertainty view. Every output lands in [0,1].
func (a *Aggregator) Score(stateU float64, confDist []float64, pred models.IntervalPrediction, sigma float64) models.UncertaintyScore {
	stateU = util.Clip01(stateU)
	modelU := ModelEntropy(confDist)
	forecastU := a.forecastU(pred, sigma)

	kappa := util.Clip01(
		a.cfg.StateWeight*stateU +
			a.cfg.ModelWeight*modelU +
			a.cfg.ForecastWeight*forecastU,
	)
	kappaPlus := util.Clip01(a.cfg.Gamma*kappa + (1-a.cfg.Gamma)*(1-a.bcc))

	return models.UncertaintyScore{
		Kappa:       kappa,
		KappaPlus:   kappaPlus,
		StateU:      stateU,
		ModelU:      modelU,
		ForecastU:   forecastU,
		BCCEstimate: a.bcc,
	}
}

// forecastU normalizes the interval width against the sigma scale.
func (a *Aggregator) forecastU(pred models.IntervalPrediction, sigma float64) float64 {
	if sigma <= 0 || !util.Finite(sigma) {
		return 1.0
	}
	return util.Clip01(pred.Width() / (a.cfg.WidthScale * sigma))
}

// OnGroundTruth advances the blended-coverage-compliance tracker: a hit
// scores the achieved coverage target, a miss its complement, smoothed by
// EMA.
func (a *Aggregator) OnGroundTruth(hit bool, alphaUsed float64) {
	target := util.Clip01(1 - alphaUsed)
	sample := 1 - target // compliance contribution of a miss
	if hit {
		sample = target
	}
	if a.bccSamples == 0 {
		a.bcc = sample
	} else {
		a.bcc = util.EMA(a.bcc, sample, a.cfg.BCCLambda)
	}
	a.bccSamples++
}

// BCC returns the current compliance estimate.
func (a *Aggregator) BCC() float64 { return a.bcc }

// ModelEntropy returns the normalized Shannon entropy of a model-confidence
// distribution; degenerate inputs read as fully uncertain.
func ModelEntropy(dist []float64) float64 {
	if len(dist) < 2 {
		return 1.0
	}
	var sum float64
	for _, p := range dist {
		if p < 0 || !util.Finite(p) {
			return 1.0
		}
		sum += p
	}
	if sum <= 0 {
		return 1.0
	}
	var h float64
	for _, p := range dist {
		p /= sum
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return util.Clip01(h / math.Log(float64(len(dist))))
}

// Snapshot serializes the rolling tracker state.
func (a *Aggregator) Snapshot() models.UncertaintySnapshot {
	return models.UncertaintySnapshot{BCC: a.bcc, BCCSamples: a.bccSamples}
}

// Restore rebuilds tracker state from a snapshot.
func (a *Aggregator) Restore(snap models.UncertaintySnapshot) {
	a.bcc = util.Clip01(snap.BCC)
	a.bccSamples = snap.BCCSamples
	if a.bccSamples == 0 {
		a.bcc = 1.0
	}
}
