package repository

import (
	"context"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

// NopMetrics discards every observation; used in tests and as a safe default.
type NopMetrics struct{}

func (NopMetrics) RecordDecision(profile, posture string)               {}
func (NopMetrics) RecordTransition(profile, from, to string)            {}
func (NopMetrics) RecordGuardViolation(profile, guard, severity string) {}
func (NopMetrics) RecordHardOverride(guard string)                      {}
func (NopMetrics) RecordStale(profile string)                           {}
func (NopMetrics) RecordError(kind string)                              {}
func (NopMetrics) SetAlpha(profile string, v float64)                   {}
func (NopMetrics) SetCoverageEMA(profile string, v float64)             {}
func (NopMetrics) ObserveCycleLatency(profile string, seconds float64)  {}
func (NopMetrics) ObserveSurprisal(profile string, v float64)           {}
func (NopMetrics) ObserveIntervalWidth(profile string, v float64)       {}
func (NopMetrics) RecordGovernanceDecision(decision string)             {}
func (NopMetrics) RecordLedgerSpend(amount float64)                     {}
func (NopMetrics) RecordLedgerDenial()                                  {}

var _ Metrics = NopMetrics{}

// NopAudit drops every audit row; used when no durable sink is configured.
type NopAudit struct{}

func (NopAudit) RecordDecision(ctx context.Context, rec *models.DecisionRecord) error { return nil }
func (NopAudit) RecordLedgerEntry(ctx context.Context, e *models.AlphaLedgerEntry) error {
	return nil
}
func (NopAudit) RecordGovernance(ctx context.Context, d *models.GovernanceDecision) error {
	return nil
}
func (NopAudit) Close() error { return nil }

var _ AuditSink = NopAudit{}

// NopPublisher discards decisions; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, rec *models.DecisionRecord) error { return nil }
func (NopPublisher) Close() error                                                  { return nil }

var _ DecisionPublisher = NopPublisher{}
