// Package fulfillment передаёт оплаченные заказы провайдеру печати и ведёт журнал исполнения.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
)

const defaultLeaseTTL = 2 * time.Minute

// Option настраивает Submitter.
type Option func(*Submitter)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Submitter) { s.logger = logger }
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// WithLeaseTTL задаёт, сколько длится резерв на вызов провайдера.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Submitter) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// Submitter отправляет заказ провайдеру печати не более одного раза.
type Submitter struct {
	store    domain.Store
	provider domain.FulfillmentProvider
	events   *EventLog
	logger   *log.Entry
	metrics  *metrics.Metrics
	leaseTTL time.Duration
	now      func() time.Time
}

// NewSubmitter собирает Submitter; события пишутся через events.
func NewSubmitter(store domain.Store, provider domain.FulfillmentProvider, events *EventLog, opts ...Option) *Submitter {
	s := &Submitter{
		store:    store,
		provider: provider,
		events:   events,
		leaseTTL: defaultLeaseTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "fulfillment-submitter")
	}
	return s
}

// Submit проверяет предусловия по порядку (заказ существует, оплачен, ещё не отправлен,
// есть утверждённый макет), вызывает провайдера и одной транзакцией переводит заказ
// в SUBMITTED с событием submitted. Неуспешный вызов провайдера не оставляет следов.
func (s *Submitter) Submit(ctx context.Context, orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", domain.NewValidationError("orderId", domain.ErrOrderIDRequired)
	}
	logger := s.logger.WithField("order_id", orderID)

	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	switch order.Status {
	case domain.OrderStatusPaid:
	case domain.OrderStatusSubmitted:
		s.metrics.FulfillmentSubmission("already_submitted")
		return "", domain.ErrAlreadySubmitted
	default:
		s.metrics.FulfillmentSubmission("not_paid")
		return "", domain.ErrNotPaid
	}
	design, ok := order.ApprovedDesign()
	if !ok {
		s.metrics.FulfillmentSubmission("missing_design")
		return "", domain.ErrMissingDesign
	}
	if !order.ShippingAddress.Complete() {
		return "", domain.NewValidationError("shippingAddress", domain.ErrShippingAddressIncomplete)
	}

	now := s.now().UTC()
	if err := s.store.Orders().AcquireSubmissionLease(ctx, order.ID, now, now.Add(s.leaseTTL)); err != nil {
		s.metrics.FulfillmentSubmission("lease_denied")
		return "", err
	}

	receipt, err := s.provider.SubmitOrder(ctx, buildRequest(order, design))
	if err != nil {
		s.metrics.FulfillmentSubmission("provider_error")
		logger.WithError(err).Error("fulfillment provider rejected submission")
		// отдельный контекст: резерв нужно снять даже после отмены запроса
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := s.store.Orders().ReleaseSubmissionLease(releaseCtx, order.ID); relErr != nil {
			logger.WithError(relErr).Warn("failed to release submission lease")
		}
		if domain.KindOf(err) != domain.KindProvider {
			err = fmt.Errorf("%w: %w", domain.ErrFulfillmentProvider, err)
		}
		return "", err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		transitioned, err := repos.Orders().MarkSubmitted(ctx, order.ID, receipt.ProviderOrderID, now)
		if err != nil {
			return err
		}
		if !transitioned {
			return domain.ErrAlreadySubmitted
		}
		_, err = s.events.append(ctx, repos, RecordRequest{
			OrderID:         order.ID,
			Kind:            domain.FulfillmentSubmitted,
			ProviderEventID: "submit:" + receipt.ProviderOrderID,
			Payload:         receipt.Raw,
			OccurredAt:      now,
		})
		return err
	})
	if err != nil {
		s.metrics.FulfillmentSubmission("commit_error")
		if !errors.Is(err, domain.ErrAlreadySubmitted) {
			// провайдер заказ принял; резерв не снимается, чтобы повтор не ушёл к провайдеру раньше срока
			logger.WithError(err).WithField("provider_order_id", receipt.ProviderOrderID).
				Error("submission accepted by provider but not committed")
		}
		return "", fmt.Errorf("commit fulfillment submission: %w", err)
	}

	s.metrics.FulfillmentSubmission("submitted")
	s.metrics.FulfillmentEvent(string(domain.FulfillmentSubmitted), true)
	logger.WithField("provider_order_id", receipt.ProviderOrderID).Info("order submitted to fulfillment provider")
	return receipt.ProviderOrderID, nil
}

func buildRequest(order domain.Order, design domain.DesignAsset) domain.FulfillmentRequest {
	items := make([]domain.FulfillmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, domain.FulfillmentItem{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Quantity:  item.Quantity,
			DesignURL: design.URL,
		})
	}
	return domain.FulfillmentRequest{
		ExternalID: order.ID,
		Recipient:  *order.ShippingAddress,
		Items:      items,
	}
}
