package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
)

// DeadLetterEnvelope wraps a failed message for offline inspection.
type DeadLetterEnvelope struct {
	ID            uuid.UUID `json:"id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Reason        string    `json:"reason"`
	Error         string    `json:"error"`
	Attempts      int       `json:"attempts"`
	Payload       []byte    `json:"payload"`
	FailedAt      time.Time `json:"failed_at"`
}

// Publisher produces to the dead-letter and alert notification topics.
type Publisher struct {
	producer        sarama.SyncProducer
	deadLetterTopic string
	alertsTopic     string
	log             *logger.Logger
}

// NewPublisher creates a synchronous producer. Acks from all replicas
// are required: a dead-lettered transaction must not be lost, its
// offset has already committed.
func NewPublisher(cfg *config.KafkaConfig, log *logger.Logger) (*Publisher, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Publisher{
		producer:        producer,
		deadLetterTopic: cfg.DeadLetterTopic,
		alertsTopic:     cfg.AlertsTopic,
		log:             log.Named("publisher"),
	}, nil
}

// Close shuts the producer down.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// PublishDeadLetter routes a failed transaction to the dead-letter
// topic, keyed by transaction id when known.
func (p *Publisher) PublishDeadLetter(_ context.Context, env *DeadLetterEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal dead-letter envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.deadLetterTopic,
		Value:     sarama.ByteEncoder(data),
		Timestamp: env.FailedAt,
	}
	if env.TransactionID != "" {
		msg.Key = sarama.StringEncoder(env.TransactionID)
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send dead-letter message: %w", err)
	}
	return nil
}

// NotifyHighRisk implements alerting.Notifier by publishing the alert
// to the alerts topic for the external notification service.
func (p *Publisher) NotifyHighRisk(_ context.Context, alert *domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     p.alertsTopic,
		Key:       sarama.StringEncoder(alert.UserID),
		Value:     sarama.ByteEncoder(data),
		Timestamp: alert.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("send alert notification: %w", err)
	}
	return nil
}
