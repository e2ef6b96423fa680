package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/internal/ledger"
	"github.com/wekabeka1996/AuroRA-sub000/internal/policy"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// snapshotEvery is how many decision cycles pass between snapshot offers.
// The snapshotter's own interval gates actual disk writes.
const snapshotEvery = 16

const reconnectBackoff = 2 * time.Second

// StreamRunner owns one decision stream end to end: it is the single
// goroutine that touches the pipeline, satisfying the strictly-sequential
// contract.
type StreamRunner struct {
	pipeline *Pipeline
	feed     repository.ForecastStream
	snap     *Snapshotter
	log      *logger.Logger

	cycles int
}

func NewStreamRunner(p *Pipeline, feed repository.ForecastStream, snap *Snapshotter, log *logger.Logger) *StreamRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &StreamRunner{pipeline: p, feed: feed, snap: snap, log: log}
}

// Run consumes the feed until ctx is cancelled. Transport errors trigger
// reconnects; malformed messages are logged and skipped, never fatal.
func (r *StreamRunner) Run(ctx context.Context) error {
	if err := r.feed.Connect(ctx); err != nil {
		return err
	}
	defer r.feed.Close()

	obsCh, outCh, errCh := r.feed.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			r.offerSnapshot()
			return ctx.Err()

		case obs, ok := <-obsCh:
			if !ok {
				r.offerSnapshot()
				return nil
			}
			if _, err := r.pipeline.ProcessObservation(ctx, obs); err != nil {
				if errors.Is(err, models.ErrInvalidInput) {
					r.log.Warn("observation rejected", logger.Error(err))
					continue
				}
				r.log.Error("decision cycle failed", logger.Error(err))
				continue
			}
			r.cycles++
			if r.cycles%snapshotEvery == 0 {
				r.offerSnapshot()
			}

		case out, ok := <-outCh:
			if !ok {
				r.offerSnapshot()
				return nil
			}
			if err := r.pipeline.ProcessOutcome(ctx, out); err != nil {
				r.log.Warn("outcome rejected", logger.Error(err))
			}

		case err := <-errCh:
			if err == nil {
				continue
			}
			r.log.Warn("feed error, reconnecting", logger.Error(err))
			select {
			case <-ctx.Done():
				r.offerSnapshot()
				return ctx.Err()
			case <-time.After(reconnectBackoff):
			}
			if rerr := r.feed.Reconnect(ctx); rerr != nil {
				r.log.Error("feed reconnect failed", logger.Error(rerr))
			} else {
				obsCh, outCh, errCh = r.feed.Read(ctx)
			}
		}
	}
}

func (r *StreamRunner) offerSnapshot() {
	if r.snap != nil {
		r.snap.OfferStream(r.pipeline.Snapshot(time.Now()))
	}
}

// GovernanceService routes policy performance samples into the lifecycle
// manager and keeps the process-wide snapshot fresh.
type GovernanceService struct {
	manager *policy.Manager
	ledger  *ledger.Ledger
	snap    *Snapshotter
	log     *logger.Logger
}

func NewGovernanceService(m *policy.Manager, l *ledger.Ledger, snap *Snapshotter, log *logger.Logger) *GovernanceService {
	if log == nil {
		log = logger.Nop()
	}
	return &GovernanceService{manager: m, ledger: l, snap: snap, log: log}
}

// HandleMetric folds one policy performance sample. Returns the resulting
// test decision so callers can surface it.
func (g *GovernanceService) HandleMetric(ctx context.Context, sample *models.PolicyMetricSample) (models.TestDecision, error) {
	if sample == nil {
		return models.DecisionContinue, models.ErrInvalidInput
	}
	decision, err := g.manager.RecordMetric(ctx, sample.PolicyID, sample.Value, sample.Timestamp)
	if err != nil {
		return decision, err
	}
	if decision != models.DecisionContinue {
		g.OfferSnapshot()
	}
	return decision, nil
}

// OfferSnapshot pushes the current process-wide state to the write-behind
// loop.
func (g *GovernanceService) OfferSnapshot() {
	if g.snap == nil {
		return
	}
	g.snap.OfferProcess(&models.ProcessSnapshot{
		Schema:   models.ProcessSnapshotSchema,
		Version:  models.SnapshotVersion,
		SavedAt:  time.Now(),
		Ledger:   g.ledger.Snapshot(),
		Policies: g.manager.Snapshot(),
	})
}

// Restore resumes ledger and policy registry from a persisted process
// snapshot.
func (g *GovernanceService) Restore(snap *models.ProcessSnapshot, now time.Time) error {
	if snap == nil {
		return nil
	}
	if snap.Schema != models.ProcessSnapshotSchema {
		return models.ErrInvalidInput
	}
	if err := g.ledger.Restore(snap.Ledger); err != nil {
		return err
	}
	return g.manager.Restore(snap.Policies, now)
}
