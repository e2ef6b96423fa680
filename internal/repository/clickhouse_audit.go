package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/clickhouse"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// AuditSchema holds the idempotent DDL for the audit tables, applied through
// Client.InitSchema at startup.
var AuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS aurora_decisions (
		ts DateTime64(9), profile String, posture String,
		risk_scale Float64, notional Float64, block_reason String,
		kappa Float64, kappa_plus Float64, alpha Float64,
		coverage_ema Float64, stale UInt8
	) ENGINE = MergeTree() ORDER BY (profile, ts)`,
	`CREATE TABLE IF NOT EXISTS aurora_ledger (
		ts DateTime64(9), test_id String, alpha_spent Float64,
		cumulative_alpha Float64, event_type String
	) ENGINE = MergeTree() ORDER BY ts`,
	`CREATE TABLE IF NOT EXISTS aurora_governance (
		ts DateTime64(9), policy_id String, decision String,
		llr Float64, n_samples Int64, alpha_spent Float64
	) ENGINE = MergeTree() ORDER BY (policy_id, ts)`,
}

// ClickHouseAuditConfig tunes the write-behind batching.
type ClickHouseAuditConfig struct {
	FlushInterval time.Duration
	BatchSize     int
	QueueSize     int
}

type auditRow struct {
	decision *models.DecisionRecord
	ledger   *models.AlphaLedgerEntry
	gov      *models.GovernanceDecision
}

// ClickHouseAudit buffers audit rows and flushes them in batches off the
// caller's path. Enqueueing never blocks: when the queue is full the row is
// dropped and counted, because the audit trail must never stall a decision.
type ClickHouseAudit struct {
	cfg    ClickHouseAuditConfig
	client *clickhouse.Client
	log    *logger.Logger

	rows    chan auditRow
	done    chan struct{}
	wg      sync.WaitGroup
	dropped int64
	mu      sync.Mutex
	closed  bool
}

func NewClickHouseAudit(cfg ClickHouseAuditConfig, client *clickhouse.Client, log *logger.Logger) *ClickHouseAudit {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8192
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &ClickHouseAudit{
		cfg:    cfg,
		client: client,
		log:    log,
		rows:   make(chan auditRow, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.flushLoop()
	return a
}

func (a *ClickHouseAudit) RecordDecision(ctx context.Context, rec *models.DecisionRecord) error {
	return a.enqueue(auditRow{decision: rec})
}

func (a *ClickHouseAudit) RecordLedgerEntry(ctx context.Context, e *models.AlphaLedgerEntry) error {
	return a.enqueue(auditRow{ledger: e})
}

func (a *ClickHouseAudit) RecordGovernance(ctx context.Context, d *models.GovernanceDecision) error {
	return a.enqueue(auditRow{gov: d})
}

func (a *ClickHouseAudit) enqueue(row auditRow) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("audit sink closed")
	}
	a.mu.Unlock()
	select {
	case a.rows <- row:
		return nil
	default:
		a.mu.Lock()
		a.dropped++
		n := a.dropped
		a.mu.Unlock()
		if n%1000 == 1 {
			a.log.Warn("audit queue full, dropping rows", logger.Int64("dropped_total", n))
		}
		return nil
	}
}

// Close drains and flushes remaining rows.
func (a *ClickHouseAudit) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	close(a.done)
	a.wg.Wait()
	return nil
}

func (a *ClickHouseAudit) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	var decisions []*models.DecisionRecord
	var ledgers []*models.AlphaLedgerEntry
	var govs []*models.GovernanceDecision

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if len(decisions) > 0 {
			if err := a.insertDecisions(ctx, decisions); err != nil {
				a.log.Warn("decision audit flush failed", logger.Error(err), logger.Int("rows", len(decisions)))
			}
			decisions = decisions[:0]
		}
		if len(ledgers) > 0 {
			if err := a.insertLedger(ctx, ledgers); err != nil {
				a.log.Warn("ledger audit flush failed", logger.Error(err), logger.Int("rows", len(ledgers)))
			}
			ledgers = ledgers[:0]
		}
		if len(govs) > 0 {
			if err := a.insertGovernance(ctx, govs); err != nil {
				a.log.Warn("governance audit flush failed", logger.Error(err), logger.Int("rows", len(govs)))
			}
			govs = govs[:0]
		}
	}

	for {
		select {
		case row := <-a.rows:
			switch {
			case row.decision != nil:
				decisions = append(decisions, row.decision)
			case row.ledger != nil:
				ledgers = append(ledgers, row.ledger)
			case row.gov != nil:
				govs = append(govs, row.gov)
			}
			if len(decisions)+len(ledgers)+len(govs) >= a.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.done:
			for {
				select {
				case row := <-a.rows:
					switch {
					case row.decision != nil:
						decisions = append(decisions, row.decision)
					case row.ledger != nil:
						ledgers = append(ledgers, row.ledger)
					case row.gov != nil:
						govs = append(govs, row.gov)
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

func (a *ClickHouseAudit) insertDecisions(ctx context.Context, recs []*models.DecisionRecord) error {
	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*11)
	for _, r := range recs {
		stale := uint8(0)
		if r.Stale {
			stale = 1
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.Timestamp, r.Profile, r.Posture.String(),
			r.RiskScale, r.RecommendedNotional, r.BlockReason,
			r.Kappa, r.KappaPlus, r.Alpha, r.CoverageEMA, stale)
	}
	q := "INSERT INTO aurora_decisions (ts, profile, posture, risk_scale, notional, block_reason, kappa, kappa_plus, alpha, coverage_ema, stale) VALUES " + strings.Join(values, ",")
	_, err := a.client.DB().ExecContext(ctx, q, args...)
	return err
}

func (a *ClickHouseAudit) insertLedger(ctx context.Context, entries []*models.AlphaLedgerEntry) error {
	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*5)
	for _, e := range entries {
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, e.At, e.TestID, e.AlphaSpent, e.CumulativeAlpha, e.EventType)
	}
	q := "INSERT INTO aurora_ledger (ts, test_id, alpha_spent, cumulative_alpha, event_type) VALUES " + strings.Join(values, ",")
	_, err := a.client.DB().ExecContext(ctx, q, args...)
	return err
}

func (a *ClickHouseAudit) insertGovernance(ctx context.Context, ds []*models.GovernanceDecision) error {
	values := make([]string, 0, len(ds))
	args := make([]interface{}, 0, len(ds)*6)
	for _, d := range ds {
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, d.At, d.PolicyID, d.Decision.String(), d.LLR, int64(d.NSamples), d.AlphaSpent)
	}
	q := "INSERT INTO aurora_governance (ts, policy_id, decision, llr, n_samples, alpha_spent) VALUES " + strings.Join(values, ",")
	_, err := a.client.DB().ExecContext(ctx, q, args...)
	return err
}
