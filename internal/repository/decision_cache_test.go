package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/cache"
)

func TestCachedDecisionsRoundTrip(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	dc := NewCachedDecisions(mem)
	ctx := context.Background()

	rec := &models.DecisionRecord{
		Profile:             "btc-spot",
		Timestamp:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Posture:             models.PostureDerisk,
		RiskScale:           0.5,
		RecommendedNotional: 5000,
		Kappa:               0.42,
		KappaPlus:           0.55,
		Alpha:               0.1,
		CoverageEMA:         0.91,
	}
	require.NoError(t, dc.SetLatest(ctx, rec))

	got, ok, err := dc.GetLatest(ctx, "btc-spot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Posture, got.Posture)
	assert.Equal(t, rec.RiskScale, got.RiskScale)
	assert.Equal(t, rec.RecommendedNotional, got.RecommendedNotional)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
}

func TestCachedDecisionsMissIsNotError(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	dc := NewCachedDecisions(mem)

	got, ok, err := dc.GetLatest(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCachedDecisionsOverwriteKeepsLatest(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	dc := NewCachedDecisions(mem)
	ctx := context.Background()

	first := &models.DecisionRecord{Profile: "p", Posture: models.PosturePass, RiskScale: 1}
	second := &models.DecisionRecord{Profile: "p", Posture: models.PostureBlock, RiskScale: 0}
	require.NoError(t, dc.SetLatest(ctx, first))
	require.NoError(t, dc.SetLatest(ctx, second))

	got, ok, err := dc.GetLatest(ctx, "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PostureBlock, got.Posture)
}
