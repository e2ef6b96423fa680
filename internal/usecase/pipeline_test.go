package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/calibrate"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/gate"
	"github.com/wekabeka1996/AuroRA-sub000/internal/orchestrator"
	"github.com/wekabeka1996/AuroRA-sub000/internal/quantile"
	"github.com/wekabeka1996/AuroRA-sub000/internal/uncertainty"
)

func calibratorConfig() calibrate.Config {
	return calibrate.Config{
		AlphaBase:        0.1,
		AlphaMin:         0.02,
		AlphaMax:         0.3,
		TransitionBoost:  0.05,
		ACIWeight:        0.1,
		LearnRateBase:    0.01,
		LearnRateShift:   0.05,
		CoverageLambda:   0.02,
		CooldownCycles:   5,
		InflationCeiling: 1.25,
		MinCalibration:   100,
		ReferenceZ:       1.645,
		Quantile:         quantile.Config{Warmup: 100, Principal: 0.9, Default: 1.645},
	}
}

func aggregatorConfig() uncertainty.Config {
	return uncertainty.Config{
		StateWeight:    0.3,
		ModelWeight:    0.35,
		ForecastWeight: 0.35,
		Gamma:          0.7,
		BCCLambda:      0.05,
		WidthScale:     4.0,
	}
}

func orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		DwellMinDerisk:     3,
		DwellMinRecovery:   10,
		BlockCooldown:      20,
		BlockCleanWindow:   30,
		AllowFastPath:      true,
		KappaPlusSoftFloor: 0.0,
		Guards: orchestrator.GuardsFromThresholds(map[orchestrator.Kind][2]float64{
			models.GuardCoverageEMA:        {0.85, 0.75},
			models.GuardCoverageMissStreak: {5, 12},
			models.GuardLatencyP95:         {80, 150},
			models.GuardSurprisalP95:       {3.0, 5.0},
			models.GuardRelIntervalWidth:   {5.0, 12.0},
			models.GuardKappa:              {0.9, 0.97},
			models.GuardKappaPlus:          {0.9, 0.97},
		}),
	}
}

func newTestPipeline(opts ...PipelineOption) *Pipeline {
	return NewPipeline(
		PipelineConfig{
			Profile:         "btc-test",
			BaseNotional:    10_000,
			CycleBudget:     time.Second,
			LatencyWindow:   64,
			SurprisalWindow: 64,
			ACILambda:       0.02,
		},
		calibrate.New(calibratorConfig()),
		uncertainty.New(aggregatorConfig()),
		orchestrator.New(orchestratorConfig(), "btc-test", nil, nil),
		gate.New(gate.DefaultConfig(), nil, nil),
		nil, nil,
		opts...,
	)
}

var streamStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func obsAt(i int) *models.Observation {
	return &models.Observation{
		Profile:       "btc-test",
		Timestamp:     streamStart.Add(time.Duration(i) * time.Second),
		PointForecast: 100,
		SigmaHat:      2,
	}
}

func TestRejectsNonPositiveSigma(t *testing.T) {
	p := newTestPipeline()
	_, err := p.ProcessObservation(context.Background(), &models.Observation{
		Timestamp: streamStart,
		SigmaHat:  -1,
	})
	require.ErrorIs(t, err, models.ErrInvalidInput)

	// state unchanged: the same timestamp is still acceptable
	rec, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)
	assert.Equal(t, models.PosturePass, rec.Posture)
}

func TestRejectsOutOfOrderTimestamp(t *testing.T) {
	p := newTestPipeline()
	_, err := p.ProcessObservation(context.Background(), obsAt(5))
	require.NoError(t, err)

	_, err = p.ProcessObservation(context.Background(), obsAt(5))
	assert.ErrorIs(t, err, models.ErrInvalidInput, "equal timestamp rejected")

	_, err = p.ProcessObservation(context.Background(), obsAt(3))
	assert.ErrorIs(t, err, models.ErrInvalidInput, "earlier timestamp rejected")

	_, err = p.ProcessObservation(context.Background(), obsAt(6))
	assert.NoError(t, err)
}

func TestCleanCycleProducesPassDecision(t *testing.T) {
	p := newTestPipeline()
	rec, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)

	assert.Equal(t, models.PosturePass, rec.Posture)
	assert.Equal(t, 1.0, rec.RiskScale)
	assert.Equal(t, 10_000.0, rec.RecommendedNotional)
	assert.Empty(t, rec.BlockReason)
	assert.False(t, rec.Stale)
	assert.InDelta(t, 0.1, rec.Alpha, 1e-9)
	assert.Same(t, rec, p.LastDecision())
}

func TestOutcomeMustCorrelateToForecast(t *testing.T) {
	p := newTestPipeline()
	_, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)

	err = p.ProcessOutcome(context.Background(), &models.Outcome{
		Timestamp: streamStart.Add(99 * time.Second),
		Observed:  100,
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	err = p.ProcessOutcome(context.Background(), &models.Outcome{
		Timestamp: streamStart,
		Observed:  100.5,
	})
	assert.NoError(t, err)

	// consumed: a second outcome for the same forecast no longer correlates
	err = p.ProcessOutcome(context.Background(), &models.Outcome{
		Timestamp: streamStart,
		Observed:  100.5,
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestOutcomesMoveCoverageEMA(t *testing.T) {
	p := newTestPipeline()
	for i := 0; i < 50; i++ {
		rec, err := p.ProcessObservation(context.Background(), obsAt(i))
		require.NoError(t, err)
		require.False(t, rec.Stale)
		// wildly out-of-interval truths: every interval misses
		err = p.ProcessOutcome(context.Background(), &models.Outcome{
			Timestamp: obsAt(i).Timestamp,
			Observed:  1e6,
		})
		require.NoError(t, err)
	}
	last := p.LastDecision()
	assert.Less(t, last.CoverageEMA, 1-0.1, "persistent misses drag coverage below target")
}

func TestOverBudgetCycleReturnsStaleLastPosture(t *testing.T) {
	p := newTestPipeline()
	rec, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)
	require.Equal(t, models.PosturePass, rec.Posture)

	p.cfg.CycleBudget = time.Nanosecond
	stale, err := p.ProcessObservation(context.Background(), obsAt(1))
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, models.PosturePass, stale.Posture, "posture carried, never re-evaluated")
	assert.Equal(t, rec.RiskScale, stale.RiskScale)

	// recovering the budget resumes normal evaluation with ordering intact
	p.cfg.CycleBudget = time.Second
	rec2, err := p.ProcessObservation(context.Background(), obsAt(2))
	require.NoError(t, err)
	assert.False(t, rec2.Stale)
}

func TestFirstCycleStaleStillReportsPosture(t *testing.T) {
	p := newTestPipeline()
	p.cfg.CycleBudget = time.Nanosecond

	stale, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, models.PosturePass, stale.Posture)
	assert.Equal(t, 1.0, stale.RiskScale)
}

type recordingCache struct {
	mu   sync.Mutex
	last *models.DecisionRecord
}

func (c *recordingCache) SetLatest(ctx context.Context, rec *models.DecisionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = rec
	return nil
}

func (c *recordingCache) GetLatest(ctx context.Context, profile string) (*models.DecisionRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last != nil, nil
}

func TestDecisionFansOutToCache(t *testing.T) {
	cache := &recordingCache{}
	p := newTestPipeline(WithCache(cache))

	rec, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, ok, _ := cache.GetLatest(context.Background(), "btc-test")
		return ok && got.Timestamp.Equal(rec.Timestamp)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotRestoreReproducesDecisions(t *testing.T) {
	p := newTestPipeline()
	for i := 0; i < 120; i++ {
		_, err := p.ProcessObservation(context.Background(), obsAt(i))
		require.NoError(t, err)
		// truth near the point: no surprises, stable coverage
		require.NoError(t, p.ProcessOutcome(context.Background(), &models.Outcome{
			Timestamp: obsAt(i).Timestamp,
			Observed:  100.5,
		}))
	}

	snap := p.Snapshot(time.Now())
	require.Equal(t, models.StreamSnapshotSchema, snap.Schema)
	require.Equal(t, "btc-test", snap.Profile)

	restored := newTestPipeline()
	require.NoError(t, restored.Restore(snap))

	for i := 120; i < 140; i++ {
		want, err := p.ProcessObservation(context.Background(), obsAt(i))
		require.NoError(t, err)
		got, err := restored.ProcessObservation(context.Background(), obsAt(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "cycle %d", i)
	}
}

func TestRestoreRejectsForeignSchema(t *testing.T) {
	p := newTestPipeline()
	err := p.Restore(&models.StreamSnapshot{Schema: "something.else", Version: 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	err = p.Restore(&models.StreamSnapshot{Schema: models.StreamSnapshotSchema, Version: models.SnapshotVersion + 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestDirtyNotifyFiresOnMutation(t *testing.T) {
	var n int
	p := newTestPipeline(WithDirtyNotify(func() { n++ }))

	_, err := p.ProcessObservation(context.Background(), obsAt(0))
	require.NoError(t, err)
	require.NoError(t, p.ProcessOutcome(context.Background(), &models.Outcome{
		Timestamp: obsAt(0).Timestamp,
		Observed:  100,
	}))
	assert.Equal(t, 2, n)
}
