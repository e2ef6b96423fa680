package models

import "time"

// Observation is one forecast cycle's input; ephemeral, one per cycle.
type Observation struct {
	Profile          string
	Timestamp        time.Time
	PointForecast    float64
	SigmaHat         float64
	RegimeTransition bool
	// ConfidenceDist is the forecasting model's class-confidence distribution,
	// used for the entropy-based model uncertainty term.
	ConfidenceDist []float64
}

// Outcome is a delayed ground-truth sample correlated to a prior forecast.
type Outcome struct {
	Profile   string
	Timestamp time.Time
	Observed  float64
}

// IntervalPrediction is the calibrated interval for one observation. Immutable
// once produced.
type IntervalPrediction struct {
	Lower     float64
	Upper     float64
	AlphaUsed float64
}

// Width returns the absolute interval width.
func (p IntervalPrediction) Width() float64 { return p.Upper - p.Lower }

// Contains reports whether y fell inside the interval.
func (p IntervalPrediction) Contains(y float64) bool { return y >= p.Lower && y <= p.Upper }

// UncertaintyScore is the per-cycle composite risk view; every field in [0,1].
type UncertaintyScore struct {
	Kappa       float64
	KappaPlus   float64
	StateU      float64
	ModelU      float64
	ForecastU   float64
	BCCEstimate float64
}

// PolicyMetricSample is one performance observation for a policy under test.
type PolicyMetricSample struct {
	PolicyID  string
	Timestamp time.Time
	Value     float64
}
