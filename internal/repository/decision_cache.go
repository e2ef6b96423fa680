package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/cache"
)

const decisionCacheTTL = time.Hour

// CachedDecisions serves the latest per-profile decision out of a cache
// layer so the HTTP read side never touches the decision loop.
type CachedDecisions struct {
	cache cache.Service
}

// NewCachedDecisions wraps a cache service as a decision cache.
func NewCachedDecisions(c cache.Service) *CachedDecisions {
	return &CachedDecisions{cache: c}
}

func decisionKey(profile string) string {
	return "decision:latest:" + profile
}

func (d *CachedDecisions) SetLatest(ctx context.Context, rec *models.DecisionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode decision record: %w", err)
	}
	if err := d.cache.Set(ctx, decisionKey(rec.Profile), string(payload), decisionCacheTTL); err != nil {
		return fmt.Errorf("cache decision for %s: %w", rec.Profile, err)
	}
	return nil
}

func (d *CachedDecisions) GetLatest(ctx context.Context, profile string) (*models.DecisionRecord, bool, error) {
	payload, err := d.cache.Get(ctx, decisionKey(profile))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read decision for %s: %w", profile, err)
	}

	var rec models.DecisionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, false, fmt.Errorf("decode decision for %s: %w", profile, err)
	}
	return &rec, true, nil
}
