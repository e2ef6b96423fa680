package usecase

import (
	"context"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// SnapshotterConfig tunes the write-behind persistence loop.
type SnapshotterConfig struct {
	Interval   time.Duration
	RetryMin   time.Duration
	RetryMax   time.Duration
	MaxRetries int
}

// Snapshotter persists state envelopes off the decision hot path. Decision
// loops hand it immutable snapshot values over channels; the Run goroutine
// owns all mutable bookkeeping, so nothing is shared with the hot path.
// A crash between decision and flush loses at most one interval's delta.
type Snapshotter struct {
	cfg     SnapshotterConfig
	store   repository.SnapshotStore
	metrics repository.Metrics
	log     *logger.Logger

	streamCh  chan *models.StreamSnapshot
	processCh chan *models.ProcessSnapshot
}

func NewSnapshotter(cfg SnapshotterConfig, store repository.SnapshotStore, metrics repository.Metrics, log *logger.Logger) *Snapshotter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 100 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Snapshotter{
		cfg:       cfg,
		store:     store,
		metrics:   metrics,
		log:       log,
		streamCh:  make(chan *models.StreamSnapshot, 64),
		processCh: make(chan *models.ProcessSnapshot, 8),
	}
}

// OfferStream hands the latest stream snapshot to the write-behind loop.
// Never blocks: under backpressure the oldest queued value is dropped, since
// only the newest snapshot per profile matters.
func (s *Snapshotter) OfferStream(snap *models.StreamSnapshot) {
	if snap == nil {
		return
	}
	for {
		select {
		case s.streamCh <- snap:
			return
		default:
			select {
			case <-s.streamCh:
			default:
			}
		}
	}
}

// OfferProcess hands the latest process-wide snapshot to the loop.
func (s *Snapshotter) OfferProcess(snap *models.ProcessSnapshot) {
	if snap == nil {
		return
	}
	for {
		select {
		case s.processCh <- snap:
			return
		default:
			select {
			case <-s.processCh:
			default:
			}
		}
	}
}

// Run drives the periodic flush until ctx is cancelled, then performs one
// final flush so a clean shutdown loses nothing.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	latest := make(map[string]*models.StreamSnapshot)
	dirty := make(map[string]bool)
	var latestProcess *models.ProcessSnapshot
	processDirty := false

	for {
		select {
		case snap := <-s.streamCh:
			latest[snap.Profile] = snap
			dirty[snap.Profile] = true

		case snap := <-s.processCh:
			latestProcess = snap
			processDirty = true

		case <-ticker.C:
			for profile, d := range dirty {
				if !d {
					continue
				}
				if err := s.saveStream(ctx, latest[profile]); err == nil {
					dirty[profile] = false
				}
			}
			if processDirty {
				if err := s.saveProcess(ctx, latestProcess); err == nil {
					processDirty = false
				}
			}

		case <-ctx.Done():
			s.drain(latest, dirty, &latestProcess, &processDirty)
			flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RetryMax)
			defer cancel()
			for profile, d := range dirty {
				if d {
					_ = s.saveStream(flushCtx, latest[profile])
				}
			}
			if processDirty {
				_ = s.saveProcess(flushCtx, latestProcess)
			}
			return ctx.Err()
		}
	}
}

// drain empties the channels so the final flush sees the newest values.
func (s *Snapshotter) drain(latest map[string]*models.StreamSnapshot, dirty map[string]bool, latestProcess **models.ProcessSnapshot, processDirty *bool) {
	for {
		select {
		case snap := <-s.streamCh:
			latest[snap.Profile] = snap
			dirty[snap.Profile] = true
		case snap := <-s.processCh:
			*latestProcess = snap
			*processDirty = true
		default:
			return
		}
	}
}

func (s *Snapshotter) saveStream(ctx context.Context, snap *models.StreamSnapshot) error {
	return s.withRetry(ctx, "stream:"+snap.Profile, func() error {
		return s.store.SaveStream(ctx, snap)
	})
}

func (s *Snapshotter) saveProcess(ctx context.Context, snap *models.ProcessSnapshot) error {
	return s.withRetry(ctx, "process", func() error {
		return s.store.SaveProcess(ctx, snap)
	})
}

// withRetry applies capped exponential backoff. Persistence failures are
// logged and retried, never surfaced to the decision path.
func (s *Snapshotter) withRetry(ctx context.Context, what string, save func() error) error {
	backoff := s.cfg.RetryMin
	var err error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err = save(); err == nil {
			return nil
		}
		s.log.Warn("snapshot save failed",
			logger.String("target", what),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		s.metrics.RecordError("persistence")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.RetryMax {
			backoff = s.cfg.RetryMax
		}
	}
	return err
}
