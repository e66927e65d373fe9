package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/queue"
)

// AlertMetrics tracks live alert statistics
type AlertMetrics struct {
	mu              sync.RWMutex
	AlertsReceived  int64
	HighRiskAlerts  int64
	TagDistribution map[string]int64
	UserAlertCounts map[string]int64
	LastAlertTime   time.Time
	AlertsPerSecond float64
	windowStart     time.Time
	windowCount     int64
}

func NewAlertMetrics() *AlertMetrics {
	return &AlertMetrics{
		TagDistribution: make(map[string]int64),
		UserAlertCounts: make(map[string]int64),
		windowStart:     time.Now(),
	}
}

func (m *AlertMetrics) RecordAlert(alert *models.FraudAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AlertsReceived++
	m.LastAlertTime = time.Now()
	m.windowCount++

	// Calculate alerts per second
	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.AlertsPerSecond = float64(m.windowCount) / elapsed
	}

	// Reset window every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	if alert.RiskScore >= 0.9 {
		m.HighRiskAlerts++
	}
	for _, tag := range alert.DetectedAnomalies {
		m.TagDistribution[tag]++
	}
	m.UserAlertCounts[alert.UserID]++
}

func (m *AlertMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"alerts_received":   m.AlertsReceived,
		"high_risk_alerts":  m.HighRiskAlerts,
		"alerts_per_second": m.AlertsPerSecond,
		"tag_distribution":  m.TagDistribution,
		"last_alert_time":   m.LastAlertTime,
	}
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Server.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("Starting Fraud Alert Pipeline")

	// Connect to Redis (for dashboard caches)
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	// Initialize real-time metrics
	metrics := NewAlertMetrics()

	// Create Kafka consumer
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	// Create consumer handler
	handler := &AlertPipelineHandler{
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping alert pipeline...")
		cancel()
	}()

	// Start metrics reporter (logs every 30 seconds)
	go handler.startMetricsReporter(ctx)

	topics := []string{cfg.Kafka.AlertTopic}
	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Strs("topics", topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Alert pipeline started - consuming fraud alerts")

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down alert pipeline")
			return
		}
	}
}

// AlertPipelineHandler processes fraud alerts for dashboards and audit
type AlertPipelineHandler struct {
	metrics     *AlertMetrics
	cacheClient *queue.CacheClient
}

func (h *AlertPipelineHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Alert pipeline session started")
	return nil
}

func (h *AlertPipelineHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Alert pipeline session ended")
	return nil
}

func (h *AlertPipelineHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *AlertPipelineHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var alert models.FraudAlert
	if err := json.Unmarshal(message.Value, &alert); err != nil {
		log.Error().Err(err).Msg("Failed to parse fraud alert")
		return
	}

	h.metrics.RecordAlert(&alert)

	log.Info().
		Str("transaction_id", alert.TransactionID).
		Str("user_id", alert.UserID).
		Float64("risk_score", alert.RiskScore).
		Strs("anomalies", alert.DetectedAnomalies).
		Str("model_version", alert.ModelVersion).
		Msg("Fraud alert received")

	h.cacheRecentAlert(ctx, &alert)
}

// cacheRecentAlert keeps the latest alerts in Redis for dashboard access
func (h *AlertPipelineHandler) cacheRecentAlert(ctx context.Context, alert *models.FraudAlert) {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return
	}

	key := "alerts:recent"
	h.cacheClient.LPush(ctx, key, string(alertJSON))
	h.cacheClient.LTrim(ctx, key, 0, 999) // Keep last 1000 alerts
}

func (h *AlertPipelineHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().
				Int64("received", snapshot["alerts_received"].(int64)).
				Int64("high_risk", snapshot["high_risk_alerts"].(int64)).
				Float64("alerts_per_sec", snapshot["alerts_per_second"].(float64)).
				Msg("Alert Pipeline Metrics")

		case <-ctx.Done():
			return
		}
	}
}
