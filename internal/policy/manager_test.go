package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

// scriptedTester returns a fixed decision after a set number of observations.
type scriptedTester struct {
	after   int
	verdict models.TestDecision
	n       int
	done    bool
}

func (s *scriptedTester) Observe(x float64, now time.Time) (models.TestDecision, *models.GovernanceDecision) {
	if s.done {
		return s.verdict, nil
	}
	s.n++
	if s.n >= s.after {
		s.done = true
		return s.verdict, &models.GovernanceDecision{Decision: s.verdict, NSamples: s.n, At: now}
	}
	return models.DecisionContinue, nil
}

func (s *scriptedTester) Reset() { s.n = 0; s.done = false }

// scriptFactory hands out testers per stage keyed by "policyID/stage".
type scriptFactory struct {
	scripts map[string]*scriptedTester
	built   []string
}

func (f *scriptFactory) build(policyID string, stage models.LifecycleStatus) (SequentialTester, error) {
	key := policyID + "/" + string(stage)
	f.built = append(f.built, key)
	if s, ok := f.scripts[key]; ok {
		return s, nil
	}
	return &scriptedTester{after: 1 << 30}, nil
}

func newTestManager(t *testing.T, f *scriptFactory) *Manager {
	t.Helper()
	m, err := NewManager(f.build, nil, nil, nil)
	require.NoError(t, err)
	return m
}

func feed(t *testing.T, m *Manager, id string, n int) models.TestDecision {
	t.Helper()
	d := models.DecisionContinue
	for i := 0; i < n; i++ {
		var err error
		d, err = m.RecordMetric(context.Background(), id, 0.1, time.Now())
		require.NoError(t, err)
	}
	return d
}

func TestRegisterStartsAsCandidate(t *testing.T) {
	m := newTestManager(t, &scriptFactory{})
	rec, err := m.Register("momentum-v2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCandidate, rec.Status)
	assert.Equal(t, 1, rec.Version)

	_, err = m.Register("momentum-v2", time.Now())
	assert.Error(t, err, "active policy cannot be re-registered")
}

func TestFullPromotionPath(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 3, verdict: models.DecisionAcceptH1},
		"p/SHADOW": {after: 2, verdict: models.DecisionAcceptH1},
	}}
	m := newTestManager(t, f)

	_, err := m.Register("p", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.StartCanary("p", time.Now()))

	rec, _ := m.Record("p")
	assert.Equal(t, models.StatusCanary, rec.Status)

	assert.Equal(t, models.DecisionAcceptH1, feed(t, m, "p", 3))
	rec, _ = m.Record("p")
	assert.Equal(t, models.StatusShadow, rec.Status)

	assert.Equal(t, models.DecisionAcceptH1, feed(t, m, "p", 2))
	rec, _ = m.Record("p")
	assert.Equal(t, models.StatusLive, rec.Status)
	assert.False(t, rec.PromotedAt.IsZero())

	live, ok := m.Live()
	require.True(t, ok)
	assert.Equal(t, "p", live.PolicyID)

	// each stage got its own tester
	assert.Equal(t, []string{"p/CANARY", "p/SHADOW"}, f.built)
}

func TestAcceptH0FailsFromCanary(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 4, verdict: models.DecisionAcceptH0},
	}}
	m := newTestManager(t, f)
	_, err := m.Register("p", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.StartCanary("p", time.Now()))

	assert.Equal(t, models.DecisionAcceptH0, feed(t, m, "p", 4))
	rec, _ := m.Record("p")
	assert.Equal(t, models.StatusFailed, rec.Status)

	_, ok := m.Live()
	assert.False(t, ok)
}

func TestAcceptH0FailsFromShadow(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 1, verdict: models.DecisionAcceptH1},
		"p/SHADOW": {after: 2, verdict: models.DecisionAcceptH0},
	}}
	m := newTestManager(t, f)
	_, err := m.Register("p", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.StartCanary("p", time.Now()))

	feed(t, m, "p", 1)
	assert.Equal(t, models.DecisionAcceptH0, feed(t, m, "p", 2))
	rec, _ := m.Record("p")
	assert.Equal(t, models.StatusFailed, rec.Status)
}

func TestSupersededLiveBecomesDeprecated(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"old/CANARY": {after: 1, verdict: models.DecisionAcceptH1},
		"old/SHADOW": {after: 1, verdict: models.DecisionAcceptH1},
		"new/CANARY": {after: 1, verdict: models.DecisionAcceptH1},
		"new/SHADOW": {after: 1, verdict: models.DecisionAcceptH1},
	}}
	m := newTestManager(t, f)

	for _, id := range []string{"old", "new"} {
		_, err := m.Register(id, time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, m.StartCanary("old", time.Now()))
	feed(t, m, "old", 2)
	live, _ := m.Live()
	require.Equal(t, "old", live.PolicyID)

	require.NoError(t, m.StartCanary("new", time.Now()))
	feed(t, m, "new", 2)

	live, _ = m.Live()
	assert.Equal(t, "new", live.PolicyID)
	old, _ := m.Record("old")
	assert.Equal(t, models.StatusDeprecated, old.Status, "superseded record kept, never deleted")
	assert.Len(t, m.Records(), 2)
}

func TestFailedIDCanReRegisterWithBumpedVersion(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 1, verdict: models.DecisionAcceptH0},
	}}
	m := newTestManager(t, f)
	_, err := m.Register("p", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.StartCanary("p", time.Now()))
	feed(t, m, "p", 1)

	rec, err := m.Register("p", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, models.StatusCandidate, rec.Status)
	assert.Len(t, m.Records(), 2, "failed v1 stays in the registry")
}

func TestRollingMetricsTrackMeanAndVariance(t *testing.T) {
	m := newTestManager(t, &scriptFactory{})
	_, err := m.Register("p", time.Now())
	require.NoError(t, err)

	for _, v := range []float64{1, 2, 3, 4} {
		_, err := m.RecordMetric(context.Background(), "p", v, time.Now())
		require.NoError(t, err)
	}
	rec, _ := m.Record("p")
	assert.Equal(t, 4, rec.Metrics.Samples)
	assert.InDelta(t, 2.5, rec.Metrics.Mean, 1e-12)
	assert.InDelta(t, 5.0/3.0, rec.Metrics.Var, 1e-12)
}

func TestUnknownPolicyRejected(t *testing.T) {
	m := newTestManager(t, &scriptFactory{})
	_, err := m.RecordMetric(context.Background(), "ghost", 1, time.Now())
	assert.Error(t, err)
	assert.Error(t, m.StartCanary("ghost", time.Now()))
}

func TestSnapshotRestoreReArmsInFlightTesters(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 1 << 30},
	}}
	m := newTestManager(t, f)
	_, err := m.Register("p", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.StartCanary("p", time.Now()))
	snap := m.Snapshot()

	f2 := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 1, verdict: models.DecisionAcceptH1},
	}}
	m2 := newTestManager(t, f2)
	require.NoError(t, m2.Restore(snap, time.Now()))

	rec, ok := m2.Record("p")
	require.True(t, ok)
	assert.Equal(t, models.StatusCanary, rec.Status)
	assert.Equal(t, []string{"p/CANARY"}, f2.built, "mid-test stage re-armed")

	// restored stream behaves: evidence concludes and promotes
	d, err := m2.RecordMetric(context.Background(), "p", 0.1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAcceptH1, d)
}

func TestRestoreKeepsArchivedVersions(t *testing.T) {
	f := &scriptFactory{scripts: map[string]*scriptedTester{
		"p/CANARY": {after: 1, verdict: models.DecisionAcceptH0},
	}}
	m := newTestManager(t, f)
	_, err := m.Register("p", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.StartCanary("p", time.Now()))
	feed(t, m, "p", 1)
	_, err = m.Register("p", time.Now())
	require.NoError(t, err)
	snap := m.Snapshot()

	m2 := newTestManager(t, &scriptFactory{})
	require.NoError(t, m2.Restore(snap, time.Now()))

	recs := m2.Records()
	require.Len(t, recs, 2)
	byVersion := map[int]models.LifecycleStatus{}
	for _, rec := range recs {
		byVersion[rec.Version] = rec.Status
	}
	assert.Equal(t, models.StatusFailed, byVersion[1], "failed v1 survives the restart")
	assert.Equal(t, models.StatusCandidate, byVersion[2])

	rec, ok := m2.Record("p")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Version, "plain key resolves to the newest version")
}
