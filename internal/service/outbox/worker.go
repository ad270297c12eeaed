// Package outbox публикует события из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/resilience"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 2 * time.Second
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт publisher для сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox; значения <= 0 игнорируются.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер выборки pending-сообщений.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации перед DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.retry.MaxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу exponential backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retry.InitialDelay = max(delay, 0) }
}

// WithClock подменяет часы, которыми помечаются DLQ-записи и считается возраст backlog.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// BatchResult — итог одного цикла ProcessOnce.
type BatchResult struct {
	Sent         int
	DeadLettered int
	// Deferred — сообщения, оставшиеся pending: DLQ недоступна или цикл прерван.
	Deferred int
}

// Worker публикует pending-сообщения из outbox в брокер. Доставка at-least-once:
// сообщение, опубликованное, но не отмеченное sent, уйдёт повторно.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlq          domain.OutboxPublisher
	logger       *log.Entry
	metrics      *metrics.Metrics
	pollInterval time.Duration
	batchSize    int
	retry        resilience.RetryConfig
	now          func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    domain.DefaultOutboxBatch,
		retry: resilience.RetryConfig{
			MaxAttempts:   defaultMaxAttempts,
			InitialDelay:  defaultRetryBaseDelay,
			MaxDelay:      maxRetryDelay,
			BackoffFactor: 2,
		},
		now: time.Now,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну выборку pending-сообщений в порядке добавления.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}

	for i, event := range events {
		if ctx.Err() != nil {
			res.Deferred += len(events) - i
			break
		}
		switch w.deliver(ctx, event) {
		case outcomeSent:
			res.Sent++
		case outcomeDeadLettered:
			res.DeadLettered++
		default:
			res.Deferred++
		}
	}

	w.refreshBacklogMetrics(ctx)
	if res.DeadLettered > 0 || res.Deferred > 0 {
		w.logger.WithFields(log.Fields{
			"sent":          res.Sent,
			"dead_lettered": res.DeadLettered,
			"deferred":      res.Deferred,
		}).Info("outbox batch finished with undelivered events")
	}
	return res
}

type outcome int

const (
	outcomeDeferred outcome = iota
	outcomeSent
	outcomeDeadLettered
)

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) outcome {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	publishErr := w.publishWithRetry(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			// сообщение уйдёт ещё раз, потребители дедуплицируют по x-outbox-id
			entry.WithError(err).Warn("failed to mark outbox as sent")
		}
		return outcomeSent
	}
	if ctx.Err() != nil {
		return outcomeDeferred
	}

	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.OutboxPublish("failed")

	if err := w.publishToDLQ(ctx, event, publishErr); err != nil {
		// без записи в DLQ сообщение остаётся pending и будет повторено следующим циклом
		entry.WithError(err).Warn("failed to publish to DLQ, keeping event pending")
		w.metrics.OutboxPublish("dlq_failed")
		return outcomeDeferred
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
	return outcomeDeadLettered
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	return resilience.Retry(ctx, w.retry, w.logger, "outbox publish", func(ctx context.Context) error {
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.metrics.OutboxPublish("retry_error")
			return err
		}
		w.metrics.OutboxPublish("sent")
		return nil
	})
}

// publishToDLQ без настроенной DLQ ничего не делает: сообщение просто помечается failed.
// В DLQ-запись попадает ошибка последней попытки, без обёртки ретраев.
func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlq == nil {
		return nil
	}
	msg, err := domain.NewDeadLetter(event, resilience.LastError(publishErr), w.now()).Envelope()
	if err != nil {
		return err
	}
	if err := w.dlq.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.OutboxBacklog(stats.PendingCount, age)
}
