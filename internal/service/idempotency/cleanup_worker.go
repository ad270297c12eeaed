// Package idempotency обслуживает ключи идемпотентности: выполнение запроса под ключом и очистку просроченных записей.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// один прогон не держит хранилище дольше maxBatchesPerSweep пачек; остаток уйдёт на следующем тике
	maxBatchesPerSweep = 20
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithInterval задаёт паузу между прогонами; значения <= 0 игнорируются.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одной порции удаления; значения <= 0 игнорируются.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithCleanupClock подменяет часы в тестах.
func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// SweepResult — итог одного прогона очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// Truncated означает, что прогон остановился на лимите пачек и просроченные ключи ещё остались.
	Truncated bool
}

// CleanupWorker удаляет ключи Idempotency-Key, срок хранения которых истёк.
// После удаления повтор запроса с тем же ключом создаёт новый заказ.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       time.Now,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run выполняет прогон сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	res, err := w.Sweep(ctx)
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.IdempotencyCleanup(res.Deleted, err)

	fields := log.Fields{"deleted": res.Deleted, "batches": res.Batches}
	switch {
	case err != nil:
		w.logger.WithError(err).WithFields(fields).Warn("idempotency cleanup failed")
	case res.Truncated:
		w.logger.WithFields(fields).Info("idempotency cleanup hit batch limit, continuing next run")
	case res.Deleted > 0:
		w.logger.WithFields(fields).Debug("expired idempotency keys removed")
	}
}

// Sweep удаляет ключи с ttl не позже текущего момента порциями batchSize.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	before := w.now().UTC()
	var res SweepResult
	for res.Batches < maxBatchesPerSweep {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Deleted += deleted
		if deleted < w.batchSize {
			return res, nil
		}
	}
	res.Truncated = true
	return res, nil
}
