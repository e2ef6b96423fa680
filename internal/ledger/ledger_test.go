package ledger

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, budget float64) *Ledger {
	t.Helper()
	l, err := New(budget, Uniform{ExpectedTests: 10})
	require.NoError(t, err)
	return l
}

func TestCanSpendWithinBudget(t *testing.T) {
	l := newTestLedger(t, 0.05)
	assert.True(t, l.CanSpend(0.05))
	assert.True(t, l.CanSpend(0.01))
	assert.False(t, l.CanSpend(0.051))
	assert.False(t, l.CanSpend(-0.01))
}

func TestRecordSpendAppendsAndAccumulates(t *testing.T) {
	l := newTestLedger(t, 0.05)
	require.NoError(t, l.RecordSpend("t1", 0.02, "sprt_open"))
	require.NoError(t, l.RecordSpend("t2", 0.01, "sprt_open"))

	snap := l.Snapshot()
	assert.InDelta(t, 0.03, snap.Cumulative, 1e-12)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "t1", snap.Entries[0].TestID)
	assert.InDelta(t, 0.02, snap.Entries[0].CumulativeAlpha, 1e-12)
	assert.InDelta(t, 0.03, snap.Entries[1].CumulativeAlpha, 1e-12)
}

func TestOverspendIsContractViolation(t *testing.T) {
	l := newTestLedger(t, 0.05)
	require.NoError(t, l.RecordSpend("t1", 0.04, "sprt_open"))

	// scenario from the governance design: policy N+1 wants 0.03 after 0.04
	assert.False(t, l.CanSpend(0.03))
	err := l.RecordSpend("t2", 0.03, "sprt_open")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))

	// state unchanged by the rejected spend
	snap := l.Snapshot()
	assert.InDelta(t, 0.04, snap.Cumulative, 1e-12)
	assert.Len(t, snap.Entries, 1)
}

func TestCumulativeMonotoneUnderConcurrentSpend(t *testing.T) {
	l := newTestLedger(t, 0.05)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// many goroutines race; only a bounded subset may win
			_ = l.RecordSpend("race", 0.004, "sprt_open")
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.LessOrEqual(t, snap.Cumulative, 0.05+1e-9)
	prev := 0.0
	for _, e := range snap.Entries {
		assert.Greater(t, e.CumulativeAlpha, prev)
		prev = e.CumulativeAlpha
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	l := newTestLedger(t, 0.05)
	require.NoError(t, l.RecordSpend("t1", 0.02, "sprt_open"))
	snap := l.Snapshot()

	l2 := newTestLedger(t, 0.05)
	require.NoError(t, l2.Restore(snap))
	assert.InDelta(t, 0.02, l2.Snapshot().Cumulative, 1e-12)
	assert.False(t, l2.CanSpend(0.04))
	assert.True(t, l2.CanSpend(0.03))
}

func TestRestoreRejectsIncompatibleSnapshot(t *testing.T) {
	l := newTestLedger(t, 0.05)
	require.NoError(t, l.RecordSpend("t1", 0.05, "sprt_open"))
	snap := l.Snapshot()

	small, err := New(0.01, Uniform{ExpectedTests: 10})
	require.NoError(t, err)
	assert.Error(t, small.Restore(snap))
}

func TestSpendingPolicies(t *testing.T) {
	budget := 0.05

	uni := Uniform{ExpectedTests: 10}
	assert.InDelta(t, 0.005, uni.Allowance(budget, 1, 0), 1e-12)
	assert.InDelta(t, 0.005, uni.Allowance(budget, 9, 500), 1e-12)

	dec := AlphaDecreasing{ExpectedTests: 10}
	early := dec.Allowance(budget, 1, 0)
	late := dec.Allowance(budget, 1, 1000)
	assert.InDelta(t, 0.005, early, 1e-12)
	assert.Less(t, late, early, "allowance must shrink with elapsed steps")

	fdr := FDRLinear{ExpectedTests: 10}
	assert.Less(t, fdr.Allowance(budget, 1, 0), fdr.Allowance(budget, 10, 0))
}

func TestPolicyFromName(t *testing.T) {
	for _, name := range []string{"uniform", "alpha_decreasing", "fdr_linear"} {
		p, err := PolicyFromName(name, 10)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
	_, err := PolicyFromName("bonferroni", 10)
	assert.Error(t, err)
}

func TestRestoreResumesTestSequence(t *testing.T) {
	l := newTestLedger(t, 0.05)
	assert.Equal(t, 1, l.RegisterTest())
	assert.Equal(t, 2, l.RegisterTest())
	require.NoError(t, l.RecordSpend("t1", 0.01, "sprt_accept_h0"))
	snap := l.Snapshot()

	l2 := newTestLedger(t, 0.05)
	require.NoError(t, l2.Restore(snap))
	assert.Equal(t, 3, l2.RegisterTest(), "indexes continue past the restart")
}

func TestRestoreDerivesSequenceFromLegacySnapshot(t *testing.T) {
	l := newTestLedger(t, 0.05)
	require.NoError(t, l.RecordSpend("t1", 0.01, "sprt_accept_h0"))
	require.NoError(t, l.RecordSpend("t2", 0.01, "sprt_accept_h1"))
	snap := l.Snapshot()
	snap.TestSeq = 0 // snapshot written before the field existed

	l2 := newTestLedger(t, 0.05)
	require.NoError(t, l2.Restore(snap))
	assert.Equal(t, 3, l2.RegisterTest(), "seq recovered from distinct spenders")
}

func TestSpendCountFeedsStepSensitivePolicies(t *testing.T) {
	l, err := New(0.05, AlphaDecreasing{ExpectedTests: 10})
	require.NoError(t, err)

	first := l.Allowance(l.RegisterTest(), l.SpendCount())
	require.NoError(t, l.RecordSpend("t1", first, "sprt_accept_h0"))
	require.NoError(t, l.RecordSpend("t2", 0.001, "sprt_accept_h1"))

	second := l.Allowance(l.RegisterTest(), l.SpendCount())
	assert.Equal(t, 2, l.SpendCount())
	assert.Less(t, second, first, "later arms draw smaller allowances")
}
