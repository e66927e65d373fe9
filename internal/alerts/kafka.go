// Package alerts publishes fraud alerts to Kafka for downstream consumers.
package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/models"
)

// Publisher sends fraud alerts to the alert topic.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher creates a Kafka alert publisher
func NewPublisher(cfg configs.KafkaConfig) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V3_0_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.AlertTopic).Msg("Kafka alert publisher initialized")

	return &Publisher{producer: producer, topic: cfg.AlertTopic}, nil
}

// Publish sends a fraud alert, keyed by user so per-user alerts stay ordered.
func (p *Publisher) Publish(alert *models.FraudAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(alert.UserID),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	log.Debug().
		Str("transaction_id", alert.TransactionID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Fraud alert published")

	return nil
}

// Close shuts down the underlying producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
