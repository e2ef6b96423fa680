package quantile

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateBeforeAnyObservation(t *testing.T) {
	e := New(Config{Warmup: 100, Default: 1.645})
	assert.Equal(t, 1.645, e.Estimate(0.95))
	assert.Equal(t, 1.645, e.Estimate(0.5))
}

func TestWarmupUsesEmpiricalQuantile(t *testing.T) {
	e := New(Config{Warmup: 100, Default: 0})
	for i := 1; i <= 10; i++ {
		e.Observe(float64(i))
	}
	// 10 samples, q=0.5 interpolates between 5 and 6
	assert.InDelta(t, 5.5, e.Estimate(0.5), 1e-9)
	assert.InDelta(t, 1.0, e.Estimate(0), 1e-9)
	assert.InDelta(t, 10.0, e.Estimate(1), 1e-9)
}

func TestMarkerPhaseTracksUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := New(Config{Warmup: 100, Principal: 0.9})
	for i := 0; i < 20000; i++ {
		e.Observe(rng.Float64())
	}
	require.Greater(t, e.Count(), 100)
	assert.InDelta(t, 0.9, e.Estimate(0.9), 0.03)
	assert.InDelta(t, 0.45, e.Estimate(0.45), 0.08)
}

func TestMarkerPhaseTracksNormalTail(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := New(Config{Warmup: 100, Principal: 0.95})
	for i := 0; i < 50000; i++ {
		e.Observe(rng.NormFloat64())
	}
	// true z(0.95) = 1.645
	assert.InDelta(t, 1.645, e.Estimate(0.95), 0.12)
}

func TestBoundedMemoryAfterWarmup(t *testing.T) {
	e := New(Config{Warmup: 50})
	for i := 0; i < 1000; i++ {
		e.Observe(float64(i))
	}
	assert.Nil(t, e.buf, "warmup buffer must be released after switching to markers")
}

func TestEstimatesMonotoneInQ(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	e := New(Config{Warmup: 100})
	for i := 0; i < 5000; i++ {
		e.Observe(rng.NormFloat64())
	}
	prev := math.Inf(-1)
	for _, q := range []float64{0.05, 0.25, 0.5, 0.75, 0.9, 0.99} {
		cur := e.Estimate(q)
		require.GreaterOrEqual(t, cur, prev, "quantile estimates must be monotone in q")
		prev = cur
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	e := New(Config{Warmup: 100, Principal: 0.9, Default: 1.0})
	for i := 0; i < 3000; i++ {
		e.Observe(rng.NormFloat64())
	}
	snap := e.Snapshot()

	r := Restore(Config{Warmup: 100, Principal: 0.9, Default: 1.0}, snap)
	assert.Equal(t, e.Count(), r.Count())
	for _, q := range []float64{0.1, 0.5, 0.9, 0.95} {
		assert.InDelta(t, e.Estimate(q), r.Estimate(q), 0.02, "q=%v", q)
	}
}

func TestSnapshotRestoreDuringWarmup(t *testing.T) {
	e := New(Config{Warmup: 100, Default: 2.0})
	for i := 0; i < 20; i++ {
		e.Observe(float64(i))
	}
	snap := e.Snapshot()
	require.Len(t, snap.Warmup, 20)

	r := Restore(Config{Warmup: 100, Default: 2.0}, snap)
	assert.Equal(t, e.Estimate(0.5), r.Estimate(0.5))
}
