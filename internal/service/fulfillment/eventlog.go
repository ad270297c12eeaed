package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
)

// RecordRequest — одно уведомление об изменении исполнения заказа.
type RecordRequest struct {
	OrderID         string
	Kind            domain.FulfillmentKind
	ProviderEventID string
	Payload         json.RawMessage
	// OccurredAt — время события у провайдера; нулевое значение заменяется временем записи.
	OccurredAt time.Time
}

// EventLog — append-only журнал исполнения. Текущий статус исполнения выводится
// из последнего события и нигде отдельно не хранится.
type EventLog struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEventLog создаёт журнал; logger и m могут быть nil.
func NewEventLog(store domain.Store, logger *log.Entry, m *metrics.Metrics) *EventLog {
	if logger == nil {
		logger = log.WithField("component", "fulfillment-event-log")
	}
	return &EventLog{store: store, logger: logger, metrics: m, now: time.Now}
}

// Record добавляет событие. Повтор с тем же ProviderEventID возвращает false без ошибки.
func (l *EventLog) Record(ctx context.Context, req RecordRequest) (bool, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return false, domain.NewValidationError("orderId", domain.ErrOrderIDRequired)
	}
	if _, ok := domain.ParseFulfillmentKind(string(req.Kind)); !ok {
		return false, domain.NewValidationError("kind", fmt.Errorf("unknown fulfillment kind %q", req.Kind))
	}

	var appended bool
	err := l.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		appended, err = l.append(ctx, repos, req)
		return err
	})
	if err != nil {
		return false, err
	}

	l.metrics.FulfillmentEvent(string(req.Kind), appended)
	entry := l.logger.WithFields(log.Fields{
		"order_id":          req.OrderID,
		"event_kind":        req.Kind,
		"provider_event_id": req.ProviderEventID,
	})
	if !appended {
		entry.Info("duplicate fulfillment event ignored")
		return false, nil
	}
	entry.Info("fulfillment event recorded")
	return true, nil
}

// append пишет событие и сообщение outbox через repos текущей транзакции.
func (l *EventLog) append(ctx context.Context, repos domain.Repositories, req RecordRequest) (bool, error) {
	now := l.now().UTC()
	occurredAt := req.OccurredAt.UTC()
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	event := domain.FulfillmentEvent{
		ID:              ulid.Make().String(),
		OrderID:         req.OrderID,
		Kind:            req.Kind,
		ProviderEventID: req.ProviderEventID,
		Payload:         payload,
		OccurredAt:      occurredAt,
		RecordedAt:      now,
	}
	appended, err := repos.FulfillmentEvents().Append(ctx, event)
	if err != nil || !appended {
		return false, err
	}

	order, err := repos.Orders().Get(ctx, req.OrderID)
	if err != nil {
		return false, err
	}
	eventType := domain.EventOrderFulfillmentUpdated
	if req.Kind == domain.FulfillmentSubmitted {
		eventType = domain.EventOrderFulfillmentSubmitted
	}
	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, eventType, domain.OrderEventPayload{
		OrderID:               order.ID,
		UserID:                order.UserID,
		Status:                order.Status,
		TotalMinor:            order.Totals.TotalMinor,
		ProviderFulfillmentID: order.ProviderFulfillmentID,
		FulfillmentKind:       req.Kind,
		OccurredAt:            occurredAt,
	})
	if err != nil {
		return false, err
	}
	if _, err := repos.Outbox().Enqueue(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

// CurrentStatus возвращает вид последнего по времени события или ErrNoFulfillmentEvents.
func (l *EventLog) CurrentStatus(ctx context.Context, orderID string) (domain.FulfillmentKind, error) {
	latest, err := l.store.FulfillmentEvents().Latest(ctx, orderID)
	if err != nil {
		return "", err
	}
	return latest.Kind, nil
}

// History возвращает события заказа, последние первыми.
func (l *EventLog) History(ctx context.Context, orderID string) ([]domain.FulfillmentEvent, error) {
	if _, err := l.store.Orders().Get(ctx, orderID); err != nil {
		return nil, err
	}
	return l.store.FulfillmentEvents().List(ctx, orderID)
}
