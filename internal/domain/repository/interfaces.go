package repository

import (
	"context"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

// Metrics is the sink every component reports into. Implementations must keep
// label cardinality low: profile, posture, guard, decision, and never
// per-order identifiers.
type Metrics interface {
	RecordDecision(profile, posture string)
	RecordTransition(profile, from, to string)
	RecordGuardViolation(profile, guard, severity string)
	RecordHardOverride(guard string)
	RecordStale(profile string)
	RecordError(kind string)
	SetAlpha(profile string, v float64)
	SetCoverageEMA(profile string, v float64)
	ObserveCycleLatency(profile string, seconds float64)
	ObserveSurprisal(profile string, v float64)
	ObserveIntervalWidth(profile string, v float64)
	RecordGovernanceDecision(decision string)
	RecordLedgerSpend(amount float64)
	RecordLedgerDenial()
}

// SnapshotStore persists and restores the durable state envelopes. Save is
// called off the decision hot path only.
type SnapshotStore interface {
	SaveStream(ctx context.Context, snap *models.StreamSnapshot) error
	LoadStream(ctx context.Context, profile string) (*models.StreamSnapshot, error)
	SaveProcess(ctx context.Context, snap *models.ProcessSnapshot) error
	LoadProcess(ctx context.Context) (*models.ProcessSnapshot, error)
}

// AuditSink records durable audit rows (decisions, ledger entries, governance
// outcomes). Implementations buffer and batch; they must never block callers.
type AuditSink interface {
	RecordDecision(ctx context.Context, rec *models.DecisionRecord) error
	RecordLedgerEntry(ctx context.Context, e *models.AlphaLedgerEntry) error
	RecordGovernance(ctx context.Context, d *models.GovernanceDecision) error
	Close() error
}

// DecisionPublisher fans the per-cycle decision out to external consumers.
type DecisionPublisher interface {
	Publish(ctx context.Context, rec *models.DecisionRecord) error
	Close() error
}

// DecisionCache holds the latest decision per profile for read-side serving.
type DecisionCache interface {
	SetLatest(ctx context.Context, rec *models.DecisionRecord) error
	GetLatest(ctx context.Context, profile string) (*models.DecisionRecord, bool, error)
}

// ForecastStream is a live transport delivering observations and outcomes
// (websocket model feed, or a test double).
type ForecastStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Observation, <-chan *models.Outcome, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}
