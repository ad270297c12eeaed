package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// DefaultOutboxMaxLag — возраст самого старого pending-события, после которого outbox считается отстающим.
const DefaultOutboxMaxLag = 5 * time.Minute

// OutboxStatsReader — часть domain.OutboxRepository, нужная проверке.
type OutboxStatsReader interface {
	Stats(ctx context.Context) (domain.OutboxStats, error)
}

// OutboxBacklogChecker переводит сервис в degraded, когда события order.* не уходят в Kafka.
// Оформление заказов при этом продолжается, поэтому unhealthy не выставляется никогда.
type OutboxBacklogChecker struct {
	stats  OutboxStatsReader
	maxLag time.Duration
	now    func() time.Time
}

func NewOutboxBacklogChecker(stats OutboxStatsReader, maxLag time.Duration) *OutboxBacklogChecker {
	if maxLag <= 0 {
		maxLag = DefaultOutboxMaxLag
	}
	return &OutboxBacklogChecker{stats: stats, maxLag: maxLag, now: time.Now}
}

func (c *OutboxBacklogChecker) Check(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "outbox", Status: StatusHealthy}

	stats, err := c.stats.Stats(ctx)
	check.DurationMs = time.Since(start).Milliseconds()
	switch {
	case err != nil:
		check.Status = StatusDegraded
		check.Message = err.Error()
	case stats.PendingCount == 0:
	default:
		if lag := c.now().Sub(stats.OldestPendingAt); lag > c.maxLag {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d pending events, oldest %s ago", stats.PendingCount, lag.Round(time.Second))
		}
	}
	return check
}
