// Package usecase wires the per-cycle decision flow: observation in,
// execution decision out, with all heavy side effects pushed off the hot
// path.
package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/calibrate"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/internal/gate"
	"github.com/wekabeka1996/AuroRA-sub000/internal/orchestrator"
	"github.com/wekabeka1996/AuroRA-sub000/internal/quantile"
	"github.com/wekabeka1996/AuroRA-sub000/internal/uncertainty"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

const fanoutTimeout = 5 * time.Second

// PipelineConfig tunes one decision stream.
type PipelineConfig struct {
	Profile      string
	BaseNotional float64
	// CycleBudget bounds the decision hot path; exceeding it yields the
	// last-known posture flagged stale instead of a fresh evaluation.
	CycleBudget     time.Duration
	LatencyWindow   int
	SurprisalWindow int
	// ACILambda smooths the adaptive-conformal pressure signal fed back into
	// interval prediction.
	ACILambda float64
	// MaxPending bounds the forecast-to-outcome correlation buffer.
	MaxPending int
}

type pendingForecast struct {
	ts         time.Time
	pred       models.IntervalPrediction
	point      float64
	sigma      float64
	transition bool
}

// Pipeline drives one decision stream. Observations are applied strictly
// sequentially in timestamp order; the caller owns that contract and the
// pipeline enforces it at the boundary. Not safe for concurrent use.
type Pipeline struct {
	cfg  PipelineConfig
	cal  *calibrate.Calibrator
	agg  *uncertainty.Aggregator
	orch *orchestrator.Orchestrator
	gate *gate.Gate

	// live guard signal trackers, bounded memory
	latency   *quantile.Estimator
	surprisal *quantile.Estimator

	metrics   repository.Metrics
	log       *logger.Logger
	publisher repository.DecisionPublisher
	audit     repository.AuditSink
	cache     repository.DecisionCache
	onDirty   func()

	lastTS     time.Time
	lastRecord *models.DecisionRecord
	aciEMA     float64
	regimeEMA  float64
	pending    map[int64]pendingForecast
	pendingTS  []int64
}

// PipelineOption configures optional fan-out targets.
type PipelineOption func(*Pipeline)

func WithPublisher(p repository.DecisionPublisher) PipelineOption {
	return func(pl *Pipeline) { pl.publisher = p }
}

func WithAudit(s repository.AuditSink) PipelineOption {
	return func(pl *Pipeline) { pl.audit = s }
}

func WithCache(c repository.DecisionCache) PipelineOption {
	return func(pl *Pipeline) { pl.cache = c }
}

// WithDirtyNotify registers a callback fired after every state mutation, used
// by the snapshot manager's write-behind loop.
func WithDirtyNotify(fn func()) PipelineOption {
	return func(pl *Pipeline) { pl.onDirty = fn }
}

func NewPipeline(
	cfg PipelineConfig,
	cal *calibrate.Calibrator,
	agg *uncertainty.Aggregator,
	orch *orchestrator.Orchestrator,
	g *gate.Gate,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...PipelineOption,
) *Pipeline {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ACILambda <= 0 || cfg.ACILambda >= 1 {
		cfg.ACILambda = 0.02
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4096
	}
	p := &Pipeline{
		cfg:       cfg,
		cal:       cal,
		agg:       agg,
		orch:      orch,
		gate:      g,
		latency:   quantile.New(quantile.Config{Warmup: cfg.LatencyWindow, Principal: 0.95}),
		surprisal: quantile.New(quantile.Config{Warmup: cfg.SurprisalWindow, Principal: 0.95}),
		metrics:   metrics,
		log:       log.With(logger.String("profile", cfg.Profile)),
		pending:   make(map[int64]pendingForecast),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessObservation runs one decision cycle. Malformed input is rejected at
// the boundary with no state mutated.
func (p *Pipeline) ProcessObservation(ctx context.Context, obs *models.Observation) (*models.DecisionRecord, error) {
	if obs == nil {
		return nil, fmt.Errorf("nil observation: %w", models.ErrInvalidInput)
	}
	if obs.SigmaHat <= 0 || math.IsNaN(obs.SigmaHat) {
		p.metrics.RecordError("invalid_input")
		return nil, fmt.Errorf("non-positive sigma %v: %w", obs.SigmaHat, models.ErrInvalidInput)
	}
	if !p.lastTS.IsZero() && !obs.Timestamp.After(p.lastTS) {
		p.metrics.RecordError("invalid_input")
		return nil, fmt.Errorf("timestamp %s not after %s: %w",
			obs.Timestamp.Format(time.RFC3339Nano), p.lastTS.Format(time.RFC3339Nano), models.ErrInvalidInput)
	}

	start := time.Now()

	pred, err := p.cal.PredictInterval(obs.PointForecast, obs.SigmaHat, obs.RegimeTransition, p.aciEMA)
	if err != nil {
		p.metrics.RecordError("invalid_input")
		return nil, err
	}

	flag := 0.0
	if obs.RegimeTransition {
		flag = 1.0
	}
	p.regimeEMA = (1-p.cfg.ACILambda)*p.regimeEMA + p.cfg.ACILambda*flag

	score := p.agg.Score(p.regimeEMA, obs.ConfidenceDist, pred, obs.SigmaHat)
	relWidth := pred.Width() / math.Max(math.Abs(obs.PointForecast), obs.SigmaHat)

	rec := &models.DecisionRecord{
		Profile:     p.cfg.Profile,
		Timestamp:   obs.Timestamp,
		Kappa:       score.Kappa,
		KappaPlus:   score.KappaPlus,
		Alpha:       pred.AlphaUsed,
		CoverageEMA: p.cal.CoverageEMA(),
	}

	// budget check before the FSM step: an over-budget cycle must not change
	// posture, only report the last-known one
	if over := p.overBudget(ctx, start); over {
		p.metrics.RecordStale(p.cfg.Profile)
		stale := p.staleRecord(obs.Timestamp, rec)
		p.lastTS = obs.Timestamp
		p.notifyDirty()
		return stale, nil
	}

	evals, posture := p.orch.Evaluate(orchestrator.GuardInputs{
		CoverageEMA:      p.cal.CoverageEMA(),
		MissStreak:       p.cal.MissStreak(),
		LatencyP95Ms:     p.latency.Estimate(0.95),
		SurprisalP95:     p.surprisal.Estimate(0.95),
		RelIntervalWidth: relWidth,
		Kappa:            score.Kappa,
		KappaPlus:        score.KappaPlus,
	}, obs.Timestamp)

	decision := p.gate.Decide(posture, evals, p.cfg.BaseNotional)
	rec.Posture = posture
	rec.RiskScale = decision.RiskScale
	rec.RecommendedNotional = decision.RecommendedNotional
	if decision.BlockReason != nil {
		rec.BlockReason = decision.BlockReason.String()
	}

	p.remember(obs, pred)
	p.lastTS = obs.Timestamp
	p.lastRecord = rec

	elapsed := time.Since(start)
	p.latency.Observe(float64(elapsed.Nanoseconds()) / 1e6)
	p.metrics.RecordDecision(p.cfg.Profile, posture.String())
	p.metrics.SetAlpha(p.cfg.Profile, pred.AlphaUsed)
	p.metrics.SetCoverageEMA(p.cfg.Profile, p.cal.CoverageEMA())
	p.metrics.ObserveCycleLatency(p.cfg.Profile, elapsed.Seconds())
	p.metrics.ObserveIntervalWidth(p.cfg.Profile, relWidth)

	p.fanout(rec)
	p.notifyDirty()
	return rec, nil
}

// ProcessOutcome folds a delayed ground-truth sample back into the stream's
// statistical state. The outcome must correlate to a previously seen
// forecast timestamp.
func (p *Pipeline) ProcessOutcome(ctx context.Context, out *models.Outcome) error {
	if out == nil {
		return fmt.Errorf("nil outcome: %w", models.ErrInvalidInput)
	}
	key := out.Timestamp.UnixNano()
	pf, ok := p.pending[key]
	if !ok {
		p.metrics.RecordError("uncorrelated_outcome")
		return fmt.Errorf("outcome at %s matches no pending forecast: %w",
			out.Timestamp.Format(time.RFC3339Nano), models.ErrInvalidInput)
	}
	delete(p.pending, key)

	if err := p.cal.OnObservation(out.Observed, pf.point, pf.sigma, pf.pred, pf.transition); err != nil {
		return err
	}

	hit := pf.pred.Contains(out.Observed)
	p.agg.OnGroundTruth(hit, pf.pred.AlphaUsed)

	// adaptive-conformal pressure: positive when realized coverage runs above
	// target, which pushes alpha up on subsequent intervals
	hitVal := 0.0
	if hit {
		hitVal = 1.0
	}
	e := hitVal - (1 - pf.pred.AlphaUsed)
	p.aciEMA = (1-p.cfg.ACILambda)*p.aciEMA + p.cfg.ACILambda*e

	s := calibrate.Surprisal(out.Observed, pf.point, pf.sigma)
	p.surprisal.Observe(s)
	p.metrics.ObserveSurprisal(p.cfg.Profile, s)
	p.notifyDirty()
	return nil
}

// LastDecision returns the most recent decision record, nil before the first
// cycle.
func (p *Pipeline) LastDecision() *models.DecisionRecord {
	return p.lastRecord
}

func (p *Pipeline) overBudget(ctx context.Context, start time.Time) bool {
	if err := ctx.Err(); err != nil {
		return true
	}
	return p.cfg.CycleBudget > 0 && time.Since(start) > p.cfg.CycleBudget
}

// staleRecord reports the last-known posture unchanged. The current posture
// is never silently defaulted to PASS: before any decision the orchestrator
// itself starts at PASS and that is what gets reported.
func (p *Pipeline) staleRecord(ts time.Time, base *models.DecisionRecord) *models.DecisionRecord {
	rec := *base
	rec.Timestamp = ts
	rec.Stale = true
	if p.lastRecord != nil {
		rec.Posture = p.lastRecord.Posture
		rec.RiskScale = p.lastRecord.RiskScale
		rec.RecommendedNotional = p.lastRecord.RecommendedNotional
		rec.BlockReason = p.lastRecord.BlockReason
	} else {
		d := p.gate.Decide(p.orch.Posture(), nil, p.cfg.BaseNotional)
		rec.Posture = d.Posture
		rec.RiskScale = d.RiskScale
		rec.RecommendedNotional = d.RecommendedNotional
	}
	return &rec
}

func (p *Pipeline) remember(obs *models.Observation, pred models.IntervalPrediction) {
	key := obs.Timestamp.UnixNano()
	p.pending[key] = pendingForecast{
		ts:         obs.Timestamp,
		pred:       pred,
		point:      obs.PointForecast,
		sigma:      obs.SigmaHat,
		transition: obs.RegimeTransition,
	}
	p.pendingTS = append(p.pendingTS, key)
	for len(p.pendingTS) > p.cfg.MaxPending {
		oldest := p.pendingTS[0]
		p.pendingTS = p.pendingTS[1:]
		delete(p.pending, oldest)
	}
}

// fanout pushes the decision to external consumers off the hot path.
func (p *Pipeline) fanout(rec *models.DecisionRecord) {
	if p.publisher == nil && p.audit == nil && p.cache == nil {
		return
	}
	go func(rec models.DecisionRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
		defer cancel()
		if p.publisher != nil {
			if err := p.publisher.Publish(ctx, &rec); err != nil {
				p.log.Warn("decision publish failed", logger.Error(err))
			}
		}
		if p.audit != nil {
			if err := p.audit.RecordDecision(ctx, &rec); err != nil {
				p.log.Warn("decision audit write failed", logger.Error(err))
			}
		}
		if p.cache != nil {
			if err := p.cache.SetLatest(ctx, &rec); err != nil {
				p.log.Warn("decision cache update failed", logger.Error(err))
			}
		}
	}(*rec)
}

func (p *Pipeline) notifyDirty() {
	if p.onDirty != nil {
		p.onDirty()
	}
}

// Snapshot captures the stream's full durable state.
func (p *Pipeline) Snapshot(now time.Time) *models.StreamSnapshot {
	return &models.StreamSnapshot{
		Schema:      models.StreamSnapshotSchema,
		Version:     models.SnapshotVersion,
		Profile:     p.cfg.Profile,
		SavedAt:     now,
		LastTS:      p.lastTS,
		ACIEMA:      p.aciEMA,
		RegimeEMA:   p.regimeEMA,
		Calibration: p.cal.Snapshot(),
		Uncertainty: p.agg.Snapshot(),
		Acceptance:  p.orch.Snapshot(),
	}
}

// Restore resumes a stream from a persisted snapshot without replaying
// observations.
func (p *Pipeline) Restore(snap *models.StreamSnapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot: %w", models.ErrInvalidInput)
	}
	if snap.Schema != models.StreamSnapshotSchema {
		return fmt.Errorf("snapshot schema %q, want %q: %w", snap.Schema, models.StreamSnapshotSchema, models.ErrInvalidInput)
	}
	if snap.Version > models.SnapshotVersion {
		return fmt.Errorf("snapshot version %d newer than supported %d: %w", snap.Version, models.SnapshotVersion, models.ErrInvalidInput)
	}
	p.cal.Restore(snap.Calibration)
	p.agg.Restore(snap.Uncertainty)
	p.orch.Restore(snap.Acceptance)
	p.lastTS = snap.LastTS
	p.aciEMA = snap.ACIEMA
	p.regimeEMA = snap.RegimeEMA
	return nil
}
