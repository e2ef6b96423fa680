package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	pkgkafka "github.com/wekabeka1996/AuroRA-sub000/pkg/kafka"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

var feedValidate = validator.New()

// FeedRouter dispatches Kafka feed messages to per-profile pipelines. The
// pipelines are strictly sequential, so the router serializes calls per
// profile regardless of how the consumer partitions workers.
type FeedRouter struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	locks     map[string]*sync.Mutex
	snap      *Snapshotter
	cycles    map[string]int
}

func NewFeedRouter(snap *Snapshotter) *FeedRouter {
	return &FeedRouter{
		pipelines: make(map[string]*Pipeline),
		locks:     make(map[string]*sync.Mutex),
		snap:      snap,
		cycles:    make(map[string]int),
	}
}

// Register adds a pipeline for its profile. Later registrations replace
// earlier ones.
func (r *FeedRouter) Register(profile string, p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[profile] = p
	if _, ok := r.locks[profile]; !ok {
		r.locks[profile] = &sync.Mutex{}
	}
}

// Pipeline returns the registered pipeline for a profile.
func (r *FeedRouter) Pipeline(profile string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[profile]
	return p, ok
}

func (r *FeedRouter) resolve(profile string) (*Pipeline, *sync.Mutex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[profile]
	if !ok {
		return nil, nil, fmt.Errorf("unknown profile %q: %w", profile, models.ErrInvalidInput)
	}
	return p, r.locks[profile], nil
}

// IngestObservation runs one decision cycle for the observation's profile.
func (r *FeedRouter) IngestObservation(ctx context.Context, obs *models.Observation) (*models.DecisionRecord, error) {
	p, lock, err := r.resolve(obs.Profile)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	dec, err := p.ProcessObservation(ctx, obs)
	if err != nil {
		return nil, err
	}
	if r.snap != nil {
		r.mu.Lock()
		r.cycles[obs.Profile]++
		due := r.cycles[obs.Profile]%snapshotEvery == 0
		r.mu.Unlock()
		if due {
			r.snap.OfferStream(p.Snapshot(time.Now()))
		}
	}
	return dec, nil
}

// IngestOutcome folds one ground-truth sample into its profile's pipeline.
func (r *FeedRouter) IngestOutcome(ctx context.Context, out *models.Outcome) error {
	p, lock, err := r.resolve(out.Profile)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()
	return p.ProcessOutcome(ctx, out)
}

// forecastMessage is the wire schema on the forecast topic. Timestamps are
// unix nanoseconds so outcome correlation is exact.
type forecastMessage struct {
	Profile          string    `json:"profile" validate:"required"`
	TsNs             int64     `json:"ts_ns" validate:"required,gt=0"`
	Point            float64   `json:"point"`
	Sigma            float64   `json:"sigma" validate:"required,gt=0"`
	RegimeTransition bool      `json:"regime_transition"`
	Confidence       []float64 `json:"confidence" validate:"omitempty,dive,gte=0,lte=1"`
}

type outcomeMessage struct {
	Profile  string  `json:"profile" validate:"required"`
	TsNs     int64   `json:"ts_ns" validate:"required,gt=0"`
	Observed float64 `json:"observed"`
}

type policyMetricMessage struct {
	PolicyID string  `json:"policy_id" validate:"required"`
	TsNs     int64   `json:"ts_ns" validate:"required,gt=0"`
	Value    float64 `json:"value"`
}

// ForecastHandler consumes the forecast topic and drives decision cycles.
type ForecastHandler struct {
	topic   string
	router  *FeedRouter
	metrics repository.Metrics
	log     *logger.Logger
}

func NewForecastHandler(topic string, router *FeedRouter, metrics repository.Metrics, log *logger.Logger) *ForecastHandler {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ForecastHandler{topic: topic, router: router, metrics: metrics, log: log}
}

func (h *ForecastHandler) Topic() string { return h.topic }

func (h *ForecastHandler) Handle(ctx context.Context, b []byte) error {
	var m forecastMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode forecast: %w", err)
	}
	if err := feedValidate.Struct(&m); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("validate forecast: %w", err)
	}

	_, err := h.router.IngestObservation(ctx, &models.Observation{
		Profile:          m.Profile,
		Timestamp:        time.Unix(0, m.TsNs),
		PointForecast:    m.Point,
		SigmaHat:         m.Sigma,
		RegimeTransition: m.RegimeTransition,
		ConfidenceDist:   m.Confidence,
	})
	if errors.Is(err, models.ErrInvalidInput) {
		// Stale or malformed input is rejected, not retried.
		h.log.Warn("forecast rejected", logger.String("profile", m.Profile), logger.Error(err))
		return err
	}
	return err
}

// OutcomeHandler consumes the delayed ground-truth topic.
type OutcomeHandler struct {
	topic   string
	router  *FeedRouter
	metrics repository.Metrics
	log     *logger.Logger
}

func NewOutcomeHandler(topic string, router *FeedRouter, metrics repository.Metrics, log *logger.Logger) *OutcomeHandler {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OutcomeHandler{topic: topic, router: router, metrics: metrics, log: log}
}

func (h *OutcomeHandler) Topic() string { return h.topic }

func (h *OutcomeHandler) Handle(ctx context.Context, b []byte) error {
	var m outcomeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode outcome: %w", err)
	}
	if err := feedValidate.Struct(&m); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("validate outcome: %w", err)
	}

	err := h.router.IngestOutcome(ctx, &models.Outcome{
		Profile:   m.Profile,
		Timestamp: time.Unix(0, m.TsNs),
		Observed:  m.Observed,
	})
	if errors.Is(err, models.ErrInvalidInput) {
		h.log.Warn("outcome rejected", logger.String("profile", m.Profile), logger.Error(err))
	}
	return err
}

// PolicyMetricHandler consumes policy performance samples for governance.
type PolicyMetricHandler struct {
	topic   string
	gov     *GovernanceService
	metrics repository.Metrics
	log     *logger.Logger
}

func NewPolicyMetricHandler(topic string, gov *GovernanceService, metrics repository.Metrics, log *logger.Logger) *PolicyMetricHandler {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PolicyMetricHandler{topic: topic, gov: gov, metrics: metrics, log: log}
}

func (h *PolicyMetricHandler) Topic() string { return h.topic }

func (h *PolicyMetricHandler) Handle(ctx context.Context, b []byte) error {
	var m policyMetricMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode policy metric: %w", err)
	}
	if err := feedValidate.Struct(&m); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("validate policy metric: %w", err)
	}

	decision, err := h.gov.HandleMetric(ctx, &models.PolicyMetricSample{
		PolicyID:  m.PolicyID,
		Timestamp: time.Unix(0, m.TsNs),
		Value:     m.Value,
	})
	if err != nil {
		return err
	}
	if decision != models.DecisionContinue {
		h.log.Info("governance decision from metric feed",
			logger.String("policy", m.PolicyID),
			logger.String("decision", decision.String()))
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*ForecastHandler)(nil)
	_ pkgkafka.MessageHandler = (*OutcomeHandler)(nil)
	_ pkgkafka.MessageHandler = (*PolicyMetricHandler)(nil)
)
