package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type fulfillmentEventRepository struct {
	q queryer
}

func (r *fulfillmentEventRepository) Append(ctx context.Context, event domain.FulfillmentEvent) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	recordedAt := event.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	var payload []byte
	if len(event.Payload) > 0 {
		payload = event.Payload
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO fulfillment_events (
			id, order_id, kind, provider_event_id, payload, occurred_at, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (order_id, provider_event_id) WHERE provider_event_id <> '' DO NOTHING
	`,
		event.ID, event.OrderID, string(event.Kind), event.ProviderEventID, payload,
		event.OccurredAt.UTC(), recordedAt.UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, domain.ErrOrderNotFound
		}
		return false, fmt.Errorf("insert fulfillment event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *fulfillmentEventRepository) List(ctx context.Context, orderID string) ([]domain.FulfillmentEvent, error) {
	return r.query(ctx, orderID, 0)
}

func (r *fulfillmentEventRepository) Latest(ctx context.Context, orderID string) (domain.FulfillmentEvent, error) {
	events, err := r.query(ctx, orderID, 1)
	if err != nil {
		return domain.FulfillmentEvent{}, err
	}
	if len(events) == 0 {
		return domain.FulfillmentEvent{}, domain.ErrNoFulfillmentEvents
	}
	return events[0], nil
}

func (r *fulfillmentEventRepository) query(ctx context.Context, orderID string, limit int) ([]domain.FulfillmentEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, order_id, kind, provider_event_id, payload, occurred_at, recorded_at
		FROM fulfillment_events
		WHERE order_id = $1
		ORDER BY occurred_at DESC, recorded_at DESC, id DESC
	`
	args := []any{orderID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fulfillment events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.FulfillmentEvent, 0)
	for rows.Next() {
		var (
			e       domain.FulfillmentEvent
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &kind, &e.ProviderEventID, &payload, &e.OccurredAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan fulfillment event: %w", err)
		}
		e.Kind = domain.FulfillmentKind(kind)
		e.Payload = payload
		e.OccurredAt = e.OccurredAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fulfillment events: %w", err)
	}
	return events, nil
}

var _ domain.FulfillmentEventRepository = (*fulfillmentEventRepository)(nil)
