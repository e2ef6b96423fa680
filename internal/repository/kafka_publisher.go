package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/kafka"
)

// decisionEvent is the wire schema on the decisions topic.
type decisionEvent struct {
	Profile             string    `json:"profile"`
	Timestamp           time.Time `json:"timestamp"`
	Posture             string    `json:"posture"`
	RiskScale           float64   `json:"risk_scale"`
	RecommendedNotional float64   `json:"recommended_notional"`
	BlockReason         string    `json:"block_reason,omitempty"`
	Kappa               float64   `json:"kappa"`
	KappaPlus           float64   `json:"kappa_plus"`
	Alpha               float64   `json:"alpha"`
	CoverageEMA         float64   `json:"coverage_ema"`
	Stale               bool      `json:"stale"`
}

// KafkaDecisionPublisher fans decisions out on a Kafka topic, keyed by
// profile so downstream consumers see per-stream order.
type KafkaDecisionPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaDecisionPublisher(producer *kafka.Producer, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) Publish(ctx context.Context, rec *models.DecisionRecord) error {
	ev := decisionEvent{
		Profile:             rec.Profile,
		Timestamp:           rec.Timestamp,
		Posture:             rec.Posture.String(),
		RiskScale:           rec.RiskScale,
		RecommendedNotional: rec.RecommendedNotional,
		BlockReason:         rec.BlockReason,
		Kappa:               rec.Kappa,
		KappaPlus:           rec.KappaPlus,
		Alpha:               rec.Alpha,
		CoverageEMA:         rec.CoverageEMA,
		Stale:               rec.Stale,
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(rec.Profile), ev); err != nil {
		return fmt.Errorf("publish decision for %s: %w", rec.Profile, err)
	}
	return nil
}

func (p *KafkaDecisionPublisher) Close() error { return p.producer.Close() }
