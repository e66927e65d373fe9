package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/features"
	"github.com/fingaurd/fraud-engine/internal/metrics"
	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/queue"
)

// EventStream is the transport the worker pool drains. Satisfied by
// queue.RedisStreamClient.
type EventStream interface {
	Publish(ctx context.Context, event *models.TransactionEvent) (string, error)
	Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]queue.StreamMessage, error)
	Acknowledge(ctx context.Context, messageID string) error
	SendToDeadLetter(ctx context.Context, event *models.TransactionEvent, cause error) error
	MaxRetries() int
	GetPendingCount(ctx context.Context) (int64, error)
}

// WorkerPool consumes transaction events from the Redis stream and scores
// them through the analysis pipeline.
type WorkerPool struct {
	concurrency int
	service     *Service
	stream      EventStream
	cfg         configs.WorkerConfig

	wg      sync.WaitGroup
	stopped chan struct{}
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(concurrency int, service *Service, stream EventStream, cfg configs.WorkerConfig) *WorkerPool {
	return &WorkerPool{
		concurrency: concurrency,
		service:     service,
		stream:      stream,
		cfg:         cfg,
		stopped:     make(chan struct{}),
	}
}

// Start runs the workers until the context is cancelled
func (p *WorkerPool) Start(ctx context.Context) error {
	log.Info().Int("concurrency", p.concurrency).Msg("Starting worker pool")

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	p.wg.Add(1)
	go p.reportLag(ctx)

	p.wg.Wait()
	close(p.stopped)
	return ctx.Err()
}

// Stop waits for all workers to drain
func (p *WorkerPool) Stop() error {
	select {
	case <-p.stopped:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for workers to stop")
	}
}

func (p *WorkerPool) runWorker(ctx context.Context, name string) {
	defer p.wg.Done()

	log.Debug().Str("worker", name).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("worker", name).Msg("Worker stopped")
			return
		default:
		}

		messages, err := p.stream.Consume(ctx, name, int64(p.cfg.BatchSize), p.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("worker", name).Msg("Failed to consume from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			p.processMessage(ctx, name, msg)
		}
	}
}

func (p *WorkerPool) processMessage(ctx context.Context, name string, msg queue.StreamMessage) {
	tx := msg.Event.Record()

	_, err := p.service.Analyze(ctx, tx)
	if err == nil {
		p.ack(ctx, msg.ID)
		return
	}

	var invalid *features.InvalidInputError
	if errors.As(err, &invalid) {
		// Permanent failure; retrying cannot fix the payload.
		if dlqErr := p.stream.SendToDeadLetter(ctx, msg.Event, err); dlqErr != nil {
			log.Error().Err(dlqErr).Str("message_id", msg.ID).Msg("Failed to dead-letter invalid event")
			return
		}
		p.ack(ctx, msg.ID)
		return
	}

	if msg.Event.RetryCount >= p.stream.MaxRetries() {
		log.Error().
			Err(err).
			Str("transaction_id", tx.TransactionID).
			Int("retries", msg.Event.RetryCount).
			Msg("Retries exhausted, dead-lettering event")
		if dlqErr := p.stream.SendToDeadLetter(ctx, msg.Event, err); dlqErr != nil {
			log.Error().Err(dlqErr).Str("message_id", msg.ID).Msg("Failed to dead-letter event")
			return
		}
		p.ack(ctx, msg.ID)
		return
	}

	// Transient failure: requeue with an incremented retry count and ack the
	// original so the pending list does not grow.
	msg.Event.RetryCount++
	if _, pubErr := p.stream.Publish(ctx, msg.Event); pubErr != nil {
		log.Error().Err(pubErr).Str("message_id", msg.ID).Msg("Failed to requeue event, leaving pending for reclaim")
		return
	}
	p.ack(ctx, msg.ID)

	log.Warn().
		Err(err).
		Str("worker", name).
		Str("transaction_id", tx.TransactionID).
		Int("retry", msg.Event.RetryCount).
		Msg("Event requeued after failure")
}

func (p *WorkerPool) ack(ctx context.Context, messageID string) {
	if err := p.stream.Acknowledge(ctx, messageID); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to acknowledge message")
	}
}

func (p *WorkerPool) reportLag(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := p.stream.GetPendingCount(ctx)
			if err != nil {
				continue
			}
			metrics.StreamLag.Set(float64(count))
		case <-ctx.Done():
			return
		}
	}
}
