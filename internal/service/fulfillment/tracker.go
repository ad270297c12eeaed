package fulfillment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// Tracker опрашивает провайдера по запросу пользователя; таймера нет.
type Tracker struct {
	store    domain.Store
	provider domain.FulfillmentProvider
	events   *EventLog
	logger   *log.Entry
}

// NewTracker создаёт Tracker.
func NewTracker(store domain.Store, provider domain.FulfillmentProvider, events *EventLog, logger *log.Entry) *Tracker {
	if logger == nil {
		logger = log.WithField("component", "fulfillment-tracker")
	}
	return &Tracker{store: store, provider: provider, events: events, logger: logger}
}

// Refresh запрашивает у провайдера текущий статус и записывает его как событие.
// Статус, совпадающий с текущим, не записывается; submitted пишет только Submitter.
// Повторный опрос с тем же статусом дедуплицируется по идентификатору poll:<id>:<status>.
func (t *Tracker) Refresh(ctx context.Context, orderID string) (bool, error) {
	order, err := t.store.Orders().Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.ProviderFulfillmentID == "" {
		return false, nil
	}

	receipt, err := t.provider.GetOrder(ctx, order.ProviderFulfillmentID)
	if err != nil {
		if domain.KindOf(err) != domain.KindProvider {
			err = fmt.Errorf("%w: %w", domain.ErrFulfillmentProvider, err)
		}
		return false, err
	}

	kind, ok := domain.ParseFulfillmentKind(receipt.Status)
	if !ok {
		t.logger.WithFields(log.Fields{
			"order_id":        order.ID,
			"provider_status": receipt.Status,
		}).Debug("provider status does not map to a fulfillment event")
		return false, nil
	}
	if kind == domain.FulfillmentSubmitted {
		return false, nil
	}
	current, err := t.events.CurrentStatus(ctx, order.ID)
	if err != nil && !errors.Is(err, domain.ErrNoFulfillmentEvents) {
		return false, err
	}
	if current == kind {
		return false, nil
	}

	return t.events.Record(ctx, RecordRequest{
		OrderID:         order.ID,
		Kind:            kind,
		ProviderEventID: fmt.Sprintf("poll:%s:%s", order.ProviderFulfillmentID, receipt.Status),
		Payload:         receipt.Raw,
	})
}
