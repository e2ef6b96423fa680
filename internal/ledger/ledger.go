// Package ledger implements the process-wide alpha-spending ledger: an
// append-only account of cumulative statistical-significance budget shared by
// every sequential test in the process.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
)

// ErrBudgetExceeded signals a contract violation: RecordSpend was called
// without a prior successful CanSpend.
var ErrBudgetExceeded = errors.New("alpha budget exceeded")

// Ledger is the single-writer mutual-exclusion domain for the significance
// budget. Reads go through a lock-free snapshot.
type Ledger struct {
	mu          sync.Mutex
	totalBudget float64
	cumulative  float64
	entries     []models.AlphaLedgerEntry
	policy      SpendingPolicy
	testSeq     int

	metrics repository.Metrics
	sink    repository.AuditSink

	snap atomic.Pointer[models.LedgerSnapshot]
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMetrics attaches a metrics sink.
func WithMetrics(m repository.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithAuditSink mirrors every entry into a durable audit sink.
func WithAuditSink(s repository.AuditSink) Option {
	return func(l *Ledger) { l.sink = s }
}

// New creates a ledger with the given total budget and spending policy.
func New(totalBudget float64, policy SpendingPolicy, opts ...Option) (*Ledger, error) {
	if totalBudget <= 0 || totalBudget >= 1 {
		return nil, fmt.Errorf("total budget must be in (0,1), got %v", totalBudget)
	}
	if policy == nil {
		return nil, fmt.Errorf("spending policy is required")
	}
	l := &Ledger{
		totalBudget: totalBudget,
		policy:      policy,
		metrics:     repository.NopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.publishSnapshot()
	return l, nil
}

// CanSpend reports whether amount fits in the remaining budget.
func (l *Ledger) CanSpend(amount float64) bool {
	if amount < 0 {
		return false
	}
	s := l.snap.Load()
	return s.Cumulative+amount <= l.totalBudget+budgetEps
}

// RecordSpend appends an immutable entry and advances the running total.
// Calling it without a prior successful CanSpend returns ErrBudgetExceeded;
// the ledger never silently overspends.
func (l *Ledger) RecordSpend(testID string, amount float64, eventType string) error {
	if amount < 0 {
		return fmt.Errorf("negative spend %v: %w", amount, ErrBudgetExceeded)
	}

	l.mu.Lock()
	if l.cumulative+amount > l.totalBudget+budgetEps {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.RecordLedgerDenial()
		}
		return fmt.Errorf("spend %.4f over budget (cumulative %.4f of %.4f): %w",
			amount, l.cumulative, l.totalBudget, ErrBudgetExceeded)
	}
	l.cumulative += amount
	entry := models.AlphaLedgerEntry{
		TestID:          testID,
		AlphaSpent:      amount,
		CumulativeAlpha: l.cumulative,
		EventType:       eventType,
		At:              time.Now().UTC(),
	}
	l.entries = append(l.entries, entry)
	l.publishSnapshotLocked()
	l.mu.Unlock()

	l.metrics.RecordLedgerSpend(amount)
	if l.sink != nil {
		// sink buffers internally; errors are its concern, not the caller's
		_ = l.sink.RecordLedgerEntry(context.Background(), &entry)
	}
	return nil
}

// Allowance returns the per-test spend the configured policy grants.
func (l *Ledger) Allowance(testIndex, step int) float64 {
	return l.policy.Allowance(l.totalBudget, testIndex, step)
}

// RegisterTest hands out the next 1-based test index.
func (l *Ledger) RegisterTest() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.testSeq++
	l.publishSnapshotLocked()
	return l.testSeq
}

// SpendCount reports how many sequential decisions have spent so far. It is
// the step signal for step-sensitive spending policies.
func (l *Ledger) SpendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// TotalBudget returns the configured budget.
func (l *Ledger) TotalBudget() float64 { return l.totalBudget }

// Snapshot returns a lock-free copy of the ledger state.
func (l *Ledger) Snapshot() models.LedgerSnapshot {
	return *l.snap.Load()
}

// Restore replaces the ledger state from a persisted snapshot.
func (l *Ledger) Restore(snap models.LedgerSnapshot) error {
	if snap.Cumulative < 0 || snap.Cumulative > l.totalBudget+budgetEps {
		return fmt.Errorf("snapshot cumulative %.4f incompatible with budget %.4f", snap.Cumulative, l.totalBudget)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cumulative = snap.Cumulative
	l.entries = append([]models.AlphaLedgerEntry(nil), snap.Entries...)
	l.testSeq = snap.TestSeq
	if l.testSeq == 0 && len(l.entries) > 0 {
		// Older snapshots predate the sequence field; recover it from the
		// distinct tests that already spent, so indexes are never reissued.
		seen := make(map[string]struct{}, len(l.entries))
		for _, e := range l.entries {
			seen[e.TestID] = struct{}{}
		}
		l.testSeq = len(seen)
	}
	l.publishSnapshotLocked()
	return nil
}

const budgetEps = 1e-12

func (l *Ledger) publishSnapshot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishSnapshotLocked()
}

func (l *Ledger) publishSnapshotLocked() {
	s := models.LedgerSnapshot{
		TotalBudget: l.totalBudget,
		Cumulative:  l.cumulative,
		TestSeq:     l.testSeq,
		Entries:     append([]models.AlphaLedgerEntry(nil), l.entries...),
	}
	l.snap.Store(&s)
}
