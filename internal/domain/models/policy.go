package models

import "time"

// LifecycleStatus tracks where a policy variant sits on its way to live
// trading.
type LifecycleStatus string

const (
	StatusCandidate  LifecycleStatus = "CANDIDATE"
	StatusCanary     LifecycleStatus = "CANARY"
	StatusShadow     LifecycleStatus = "SHADOW"
	StatusLive       LifecycleStatus = "LIVE"
	StatusDeprecated LifecycleStatus = "DEPRECATED"
	StatusFailed     LifecycleStatus = "FAILED"
)

// TestDecision is the outcome of one sequential test evaluation.
type TestDecision int

const (
	DecisionContinue TestDecision = iota
	DecisionAcceptH1
	DecisionAcceptH0
)

func (d TestDecision) String() string {
	switch d {
	case DecisionContinue:
		return "CONTINUE"
	case DecisionAcceptH1:
		return "ACCEPT_H1"
	case DecisionAcceptH0:
		return "ACCEPT_H0"
	default:
		return "UNKNOWN"
	}
}

// AlphaLedgerEntry is one immutable line of the process-wide significance
// budget, append-only and durable.
type AlphaLedgerEntry struct {
	TestID          string    `json:"test_id"`
	AlphaSpent      float64   `json:"alpha_spent"`
	CumulativeAlpha float64   `json:"cumulative_alpha"`
	EventType       string    `json:"event_type"`
	At              time.Time `json:"at"`
}

// SequentialTestState is the running SPRT state for one policy under test.
type SequentialTestState struct {
	LogLikelihoodRatio float64
	NSamples           int
	Decision           TestDecision
}

// GovernanceDecision is emitted when a sequential test concludes (or is
// forced to continue by the budget interlock).
type GovernanceDecision struct {
	PolicyID   string
	Decision   TestDecision
	LLR        float64
	NSamples   int
	AlphaSpent float64
	At         time.Time
}

// RollingMetrics summarizes recent performance of one policy variant.
type RollingMetrics struct {
	Mean    float64 `json:"mean"`
	Var     float64 `json:"var"`
	Samples int     `json:"samples"`
}

// PolicyRecord is the auditable lifecycle record for one policy variant.
// Superseded records become DEPRECATED, never deleted.
type PolicyRecord struct {
	PolicyID   string          `json:"policy_id"`
	Version    int             `json:"version"`
	Status     LifecycleStatus `json:"status"`
	Metrics    RollingMetrics  `json:"metrics"`
	CreatedAt  time.Time       `json:"created_at"`
	PromotedAt time.Time       `json:"promoted_at,omitempty"`
}
