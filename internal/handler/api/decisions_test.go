package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/ledger"
	"github.com/wekabeka1996/AuroRA-sub000/internal/policy"
	"github.com/wekabeka1996/AuroRA-sub000/internal/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/cache"
)

type idleTester struct{}

func (idleTester) Observe(float64, time.Time) (models.TestDecision, *models.GovernanceDecision) {
	return models.DecisionContinue, nil
}
func (idleTester) Reset() {}

func newTestHandler(t *testing.T) (*Handler, *repository.CachedDecisions, *policy.Manager, func()) {
	t.Helper()
	mem := cache.NewMemoryCache()
	decisions := repository.NewCachedDecisions(mem)

	mgr, err := policy.NewManager(func(string, models.LifecycleStatus) (policy.SequentialTester, error) {
		return idleTester{}, nil
	}, nil, nil, nil)
	require.NoError(t, err)

	led, err := ledger.New(0.1, ledger.Uniform{ExpectedTests: 10})
	require.NoError(t, err)

	h := NewHandler(nil, decisions, mgr, led)
	return h, decisions, mgr, func() { mem.Close() }
}

func doRequest(h *Handler, method, target string) *httptest.ResponseRecorder {
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func envelopeStatus(t *testing.T, rec *httptest.ResponseRecorder) int {
	t.Helper()
	var env struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Status
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _, done := newTestHandler(t)
	defer done()

	rec := doRequest(h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, envelopeStatus(t, rec))
}

func TestLatestDecisionHit(t *testing.T) {
	h, decisions, _, done := newTestHandler(t)
	defer done()

	require.NoError(t, decisions.SetLatest(context.Background(),&models.DecisionRecord{
		Profile:   "eth-perp",
		Posture:   models.PostureDerisk,
		RiskScale: 0.5,
	}))

	rec := doRequest(h, http.MethodGet, "/api/decisions/eth-perp")
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data models.DecisionRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, models.PostureDerisk, env.Data.Posture)
	assert.Equal(t, 0.5, env.Data.RiskScale)
}

func TestLatestDecisionMissIs404(t *testing.T) {
	h, _, _, done := newTestHandler(t)
	defer done()

	rec := doRequest(h, http.MethodGet, "/api/decisions/unknown")
	assert.Equal(t, http.StatusNotFound, envelopeStatus(t, rec))
}

func TestPolicyRegistryEndpoints(t *testing.T) {
	h, _, mgr, done := newTestHandler(t)
	defer done()

	now := time.Now()
	_, err := mgr.Register("mean-rev-v1", now)
	require.NoError(t, err)

	rec := doRequest(h, http.MethodGet, "/api/policies")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []models.PolicyRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "mean-rev-v1", list.Data[0].PolicyID)

	rec = doRequest(h, http.MethodGet, "/api/policies/mean-rev-v1")
	assert.Equal(t, http.StatusOK, envelopeStatus(t, rec))

	rec = doRequest(h, http.MethodGet, "/api/policies/live")
	assert.Equal(t, http.StatusNotFound, envelopeStatus(t, rec))
}

func TestLedgerSummary(t *testing.T) {
	h, _, _, done := newTestHandler(t)
	defer done()

	rec := doRequest(h, http.MethodGet, "/api/ledger")
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data struct {
			TotalBudget float64 `json:"total_budget"`
			Remaining   float64 `json:"remaining"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.InDelta(t, 0.1, env.Data.TotalBudget, 1e-12)
	assert.InDelta(t, 0.1, env.Data.Remaining, 1e-12)
}
