package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// outboxRecord — сообщение плюс служебные поля; seq задаёт порядок выдачи вместо created_at.
type outboxRecord struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	seq       int64
	createdAt time.Time
	updatedAt time.Time
}

type outboxRepository struct {
	acc accessor
}

// Enqueue сохраняет событие как pending. Внутри WithinTx запись откатывается вместе с заказом.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = cloneBytes(msg.Payload)

	err := r.acc.do(func(st *state) error {
		now := time.Now().UTC()
		st.outboxSeq++
		st.outbox[msg.ID] = outboxRecord{
			msg:       msg,
			status:    domain.OutboxStatusPending,
			seq:       st.outboxSeq,
			createdAt: now,
			updatedAt: now,
		}
		return nil
	})
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = domain.DefaultOutboxBatch
	}
	var batch []domain.OutboxMessage
	err := r.acc.do(func(st *state) error {
		batch = pendingOutbox(st, limit)
		return nil
	})
	return batch, err
}

func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.acc.do(func(st *state) error {
		for _, rec := range st.outbox {
			if rec.status != domain.OutboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
		return nil
	})
	return stats, err
}

func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.finish(id, domain.OutboxStatusSent)
}

// MarkFailed вызывается после переноса сообщения в DLQ.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.finish(id, domain.OutboxStatusFailed)
}

// finish переводит pending-сообщение в конечный статус; повторная отметка возвращает ошибку.
func (r *outboxRepository) finish(id string, status domain.OutboxStatus) error {
	return r.acc.do(func(st *state) error {
		rec, ok := st.outbox[id]
		if !ok || rec.status != domain.OutboxStatusPending {
			return fmt.Errorf("outbox %s is not pending: %w", id, domain.ErrOutboxPublish)
		}
		rec.status = status
		rec.attempts++
		rec.updatedAt = time.Now().UTC()
		st.outbox[id] = rec
		return nil
	})
}

func pendingOutbox(st *state, limit int) []domain.OutboxMessage {
	pending := make([]outboxRecord, 0, len(st.outbox))
	for _, rec := range st.outbox {
		if rec.status == domain.OutboxStatusPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	if limit > 0 {
		pending = pending[:min(limit, len(pending))]
	}

	batch := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		msg := rec.msg
		msg.Payload = cloneBytes(rec.msg.Payload)
		batch = append(batch, msg)
	}
	return batch
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

func cloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	return append([]byte(nil), src...)
}
