// Package governance implements the sequential probability-ratio test that
// decides whether a candidate policy's performance statistic genuinely beats
// the baseline, spending significance budget through the alpha ledger.
package governance

import (
	"fmt"
	"math"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// BudgetKeeper is the slice of the alpha ledger the tester needs.
type BudgetKeeper interface {
	CanSpend(amount float64) bool
	RecordSpend(testID string, amount float64, eventType string) error
}

// Config parameterizes one Gaussian-mean SPRT.
type Config struct {
	// Alpha is the Type-I error this test will spend from the ledger.
	Alpha float64
	// Beta is the Type-II error target.
	Beta float64
	// Mu0 and Mu1 are the per-observation means under baseline and candidate.
	Mu0   float64
	Mu1   float64
	Sigma float64
	// MaxSample truncates the test: reaching it without crossing a boundary
	// counts as failing to show improvement.
	MaxSample int
}

func (c Config) validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("alpha %v outside (0,1)", c.Alpha)
	}
	if c.Beta <= 0 || c.Beta >= 1 {
		return fmt.Errorf("beta %v outside (0,1)", c.Beta)
	}
	if c.Sigma <= 0 {
		return fmt.Errorf("sigma %v must be positive", c.Sigma)
	}
	if c.Mu0 == c.Mu1 {
		return fmt.Errorf("mu0 and mu1 coincide at %v", c.Mu0)
	}
	if c.MaxSample <= 0 {
		return fmt.Errorf("max sample %d must be positive", c.MaxSample)
	}
	return nil
}

// Tester accumulates the log-likelihood ratio for one candidate policy.
// Not safe for concurrent use; the lifecycle manager serializes access.
type Tester struct {
	id      string
	cfg     Config
	upper   float64
	lower   float64
	budget  BudgetKeeper
	metrics repository.Metrics
	log     *logger.Logger

	llr     float64
	n       int
	decided models.TestDecision
	// denied latches once the ledger refuses this test's alpha; from then on
	// every evaluation is forced to CONTINUE.
	denied bool
}

// NewTester builds a tester with Wald boundaries derived from the error
// targets: upper = ln((1-beta)/alpha), lower = ln(beta/(1-alpha)).
func NewTester(id string, cfg Config, budget BudgetKeeper, metrics repository.Metrics, log *logger.Logger) (*Tester, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("governance tester %s: %w", id, err)
	}
	if budget == nil {
		return nil, fmt.Errorf("governance tester %s: nil budget keeper", id)
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Tester{
		id:      id,
		cfg:     cfg,
		upper:   math.Log((1 - cfg.Beta) / cfg.Alpha),
		lower:   math.Log(cfg.Beta / (1 - cfg.Alpha)),
		budget:  budget,
		metrics: metrics,
		log:     log,
	}, nil
}

// Observe folds one performance statistic into the running LLR and returns
// the current decision. A non-nil GovernanceDecision is returned exactly once,
// on the evaluation that concludes the test.
func (t *Tester) Observe(x float64, now time.Time) (models.TestDecision, *models.GovernanceDecision) {
	if t.decided != models.DecisionContinue {
		return t.decided, nil
	}

	// llr increment for equal-variance Gaussians
	t.llr += ((x-t.cfg.Mu0)*(x-t.cfg.Mu0) - (x-t.cfg.Mu1)*(x-t.cfg.Mu1)) / (2 * t.cfg.Sigma * t.cfg.Sigma)
	t.n++

	verdict := models.DecisionContinue
	switch {
	case t.llr >= t.upper:
		verdict = models.DecisionAcceptH1
	case t.llr <= t.lower:
		verdict = models.DecisionAcceptH0
	case t.n >= t.cfg.MaxSample:
		verdict = models.DecisionAcceptH0
	}
	if verdict == models.DecisionContinue {
		return models.DecisionContinue, nil
	}

	return t.conclude(verdict, now)
}

// conclude commits the test's alpha through the ledger interlock. A denial
// forces CONTINUE for the remaining life of the tester.
func (t *Tester) conclude(verdict models.TestDecision, now time.Time) (models.TestDecision, *models.GovernanceDecision) {
	if t.denied {
		return models.DecisionContinue, nil
	}
	if !t.budget.CanSpend(t.cfg.Alpha) {
		t.denied = true
		t.metrics.RecordLedgerDenial()
		t.log.Warn("alpha budget denied, sequential test forced to continue",
			logger.String("test_id", t.id),
			logger.Float64("alpha", t.cfg.Alpha),
			logger.Int("n_samples", t.n),
		)
		return models.DecisionContinue, nil
	}
	if err := t.budget.RecordSpend(t.id, t.cfg.Alpha, verdict.String()); err != nil {
		// CanSpend raced with another test; treat like a denial.
		t.denied = true
		t.metrics.RecordLedgerDenial()
		t.log.Warn("alpha spend rejected, sequential test forced to continue",
			logger.String("test_id", t.id),
			logger.Error(err),
		)
		return models.DecisionContinue, nil
	}

	t.decided = verdict
	t.metrics.RecordGovernanceDecision(verdict.String())
	t.log.Info("sequential test concluded",
		logger.String("test_id", t.id),
		logger.String("decision", verdict.String()),
		logger.Float64("llr", t.llr),
		logger.Int("n_samples", t.n),
	)
	return verdict, &models.GovernanceDecision{
		PolicyID:   t.id,
		Decision:   verdict,
		LLR:        t.llr,
		NSamples:   t.n,
		AlphaSpent: t.cfg.Alpha,
		At:         now,
	}
}

// State exposes the running test state for snapshots and the read API.
func (t *Tester) State() models.SequentialTestState {
	return models.SequentialTestState{
		LogLikelihoodRatio: t.llr,
		NSamples:           t.n,
		Decision:           t.decided,
	}
}

// Restore resumes a persisted test state.
func (t *Tester) Restore(s models.SequentialTestState) {
	t.llr = s.LogLikelihoodRatio
	t.n = s.NSamples
	t.decided = s.Decision
}

// Reset clears accumulated evidence so the tester can evaluate a fresh
// candidate under the same configuration. The budget denial latch is
// deliberately not cleared.
func (t *Tester) Reset() {
	t.llr = 0
	t.n = 0
	t.decided = models.DecisionContinue
}

// Boundaries returns the Wald decision boundaries (lower, upper).
func (t *Tester) Boundaries() (float64, float64) { return t.lower, t.upper }
