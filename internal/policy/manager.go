// Package policy governs promotion of policy variants through their auditable
// lifecycle: CANDIDATE -> CANARY -> SHADOW -> LIVE, with FAILED reachable from
// the two testing stages and DEPRECATED for superseded LIVE records.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// SequentialTester is the slice of the governance tester the manager drives.
type SequentialTester interface {
	Observe(x float64, now time.Time) (models.TestDecision, *models.GovernanceDecision)
	Reset()
}

// TesterFactory builds the dedicated tester for one promotion stage. Each
// stage gets a fresh tester so evidence never leaks across promotions.
type TesterFactory func(policyID string, stage models.LifecycleStatus) (SequentialTester, error)

type tracked struct {
	record models.PolicyRecord
	tester SequentialTester
	// Welford accumulators behind record.Metrics
	mean float64
	m2   float64
}

// Manager is process-wide: a single mutex domain, like the ledger. Records
// are append-only; superseded and failed policies stay in the registry.
type Manager struct {
	mu      sync.Mutex
	factory TesterFactory
	metrics repository.Metrics
	audit   repository.AuditSink
	log     *logger.Logger

	policies map[string]*tracked
	order    []string
	liveID   string
}

func NewManager(factory TesterFactory, metrics repository.Metrics, audit repository.AuditSink, log *logger.Logger) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("policy manager: nil tester factory")
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		factory:  factory,
		metrics:  metrics,
		audit:    audit,
		log:      log,
		policies: make(map[string]*tracked),
	}, nil
}

// Register adds a new CANDIDATE variant. Re-registering an ID whose previous
// record reached a terminal status starts a new version; re-registering an
// active one is an error.
func (m *Manager) Register(policyID string, now time.Time) (models.PolicyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := 1
	if prev, ok := m.policies[policyID]; ok {
		switch prev.record.Status {
		case models.StatusFailed, models.StatusDeprecated:
			version = prev.record.Version + 1
			m.archive(prev)
		default:
			return models.PolicyRecord{}, fmt.Errorf("register policy %s: already active with status %s", policyID, prev.record.Status)
		}
	}

	t := &tracked{record: models.PolicyRecord{
		PolicyID:  policyID,
		Version:   version,
		Status:    models.StatusCandidate,
		CreatedAt: now,
	}}
	m.policies[policyID] = t
	m.order = append(m.order, policyID)
	m.log.Info("policy registered",
		logger.String("policy_id", policyID),
		logger.Int("version", version),
	)
	return t.record, nil
}

// StartCanary moves a CANDIDATE into CANARY and arms its stage tester.
func (m *Manager) StartCanary(policyID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.policies[policyID]
	if !ok {
		return fmt.Errorf("start canary: unknown policy %s", policyID)
	}
	if t.record.Status != models.StatusCandidate {
		return fmt.Errorf("start canary: policy %s is %s, want %s", policyID, t.record.Status, models.StatusCandidate)
	}
	return m.advance(t, models.StatusCanary, now)
}

// RecordMetric folds one performance statistic for a policy under test and
// acts on the stage tester's verdict: ACCEPT_H1 promotes one stage, ACCEPT_H0
// fails the variant. Metrics for policies outside CANARY/SHADOW only update
// the rolling summary.
func (m *Manager) RecordMetric(ctx context.Context, policyID string, value float64, now time.Time) (models.TestDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.policies[policyID]
	if !ok {
		return models.DecisionContinue, fmt.Errorf("record metric: unknown policy %s", policyID)
	}
	t.observeMetric(value)

	if t.tester == nil {
		return models.DecisionContinue, nil
	}
	decision, rec := t.tester.Observe(value, now)
	if rec != nil && m.audit != nil {
		if err := m.audit.RecordGovernance(ctx, rec); err != nil {
			m.log.Warn("governance audit write failed", logger.Error(err))
		}
	}

	switch decision {
	case models.DecisionAcceptH1:
		return decision, m.promote(t, now)
	case models.DecisionAcceptH0:
		m.fail(t)
		return decision, nil
	default:
		return models.DecisionContinue, nil
	}
}

func (m *Manager) promote(t *tracked, now time.Time) error {
	switch t.record.Status {
	case models.StatusCanary:
		return m.advance(t, models.StatusShadow, now)
	case models.StatusShadow:
		// supersede the current LIVE record, never delete it
		if m.liveID != "" && m.liveID != t.record.PolicyID {
			prev := m.policies[m.liveID]
			prev.record.Status = models.StatusDeprecated
			prev.tester = nil
			m.log.Info("policy deprecated",
				logger.String("policy_id", prev.record.PolicyID),
				logger.String("superseded_by", t.record.PolicyID),
			)
		}
		t.record.Status = models.StatusLive
		t.record.PromotedAt = now
		t.tester = nil
		m.liveID = t.record.PolicyID
		m.log.Info("policy promoted to live", logger.String("policy_id", t.record.PolicyID))
		return nil
	default:
		return fmt.Errorf("promote policy %s: no promotion from %s", t.record.PolicyID, t.record.Status)
	}
}

// advance moves a record into a testing stage and arms a fresh tester.
func (m *Manager) advance(t *tracked, stage models.LifecycleStatus, now time.Time) error {
	tester, err := m.factory(t.record.PolicyID, stage)
	if err != nil {
		return fmt.Errorf("arm %s tester for policy %s: %w", stage, t.record.PolicyID, err)
	}
	t.record.Status = stage
	t.record.PromotedAt = now
	t.tester = tester
	m.log.Info("policy advanced",
		logger.String("policy_id", t.record.PolicyID),
		logger.String("stage", string(stage)),
	)
	return nil
}

func (m *Manager) fail(t *tracked) {
	t.record.Status = models.StatusFailed
	t.tester = nil
	m.log.Warn("policy failed governance test",
		logger.String("policy_id", t.record.PolicyID),
		logger.Int("version", t.record.Version),
	)
}

// archive keeps a terminal record reachable in the ordered history under a
// versioned key before its ID is reused.
func (m *Manager) archive(prev *tracked) {
	key := fmt.Sprintf("%s@v%d", prev.record.PolicyID, prev.record.Version)
	m.policies[key] = prev
	for i, id := range m.order {
		if id == prev.record.PolicyID {
			m.order[i] = key
			break
		}
	}
}

func (t *tracked) observeMetric(value float64) {
	t.record.Metrics.Samples++
	delta := value - t.mean
	t.mean += delta / float64(t.record.Metrics.Samples)
	t.m2 += delta * (value - t.mean)
	t.record.Metrics.Mean = t.mean
	if t.record.Metrics.Samples > 1 {
		t.record.Metrics.Var = t.m2 / float64(t.record.Metrics.Samples-1)
	}
}

// Live returns the currently live policy record, if any.
func (m *Manager) Live() (models.PolicyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveID == "" {
		return models.PolicyRecord{}, false
	}
	return m.policies[m.liveID].record, true
}

// Record returns one policy's current record.
func (m *Manager) Record(policyID string) (models.PolicyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.policies[policyID]
	if !ok {
		return models.PolicyRecord{}, false
	}
	return t.record, true
}

// Records returns the full registry in registration order.
func (m *Manager) Records() []models.PolicyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PolicyRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.policies[id].record)
	}
	return out
}

// Snapshot returns the registry for the process snapshot envelope.
func (m *Manager) Snapshot() []models.PolicyRecord {
	return m.Records()
}

// Restore rebuilds the registry from a process snapshot, re-arming stage
// testers for variants that were mid-test. Tester evidence restarts from
// zero: the SPRT state itself lives with the tester owner, and re-testing is
// safer than trusting stale evidence.
func (m *Manager) Restore(records []models.PolicyRecord, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policies = make(map[string]*tracked, len(records))
	m.order = m.order[:0]
	m.liveID = ""
	for _, rec := range records {
		t := &tracked{record: rec, mean: rec.Metrics.Mean}
		switch rec.Status {
		case models.StatusCanary, models.StatusShadow:
			tester, err := m.factory(rec.PolicyID, rec.Status)
			if err != nil {
				return fmt.Errorf("restore policy %s: %w", rec.PolicyID, err)
			}
			t.tester = tester
		case models.StatusLive:
			m.liveID = rec.PolicyID
		}
		key := rec.PolicyID
		if existing, ok := m.policies[key]; ok {
			if existing.record.Version >= rec.Version {
				// Snapshot order put the newer version first; file this
				// one under its versioned key instead.
				key = fmt.Sprintf("%s@v%d", rec.PolicyID, rec.Version)
			} else {
				m.archive(existing)
			}
		}
		m.policies[key] = t
		m.order = append(m.order, key)
	}
	return nil
}
