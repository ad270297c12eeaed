// Package checkout превращает корзину в заказ PENDING_PAYMENT и checkout-сессию провайдера.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/catalog"
	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
)

// Request — запрос на оформление заказа.
type Request struct {
	UserID          string
	Items           []LineRequest
	ShippingAddress *domain.Address
	PromoCode       string
}

// Result — ответ клиенту для перехода на hosted checkout.
type Result struct {
	OrderID   string
	SessionID string
	URL       string
	Totals    domain.Totals
}

// Option настраивает Builder.
type Option func(*Builder)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// Builder создаёт заказы и checkout-сессии. Промокод на этом шаге только проверяется.
type Builder struct {
	store    domain.Store
	catalog  *catalog.Catalog
	ledger   *promo.Ledger
	provider domain.CheckoutProvider
	logger   *log.Entry
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewBuilder собирает Builder из зависимостей.
func NewBuilder(store domain.Store, cat *catalog.Catalog, ledger *promo.Ledger, provider domain.CheckoutProvider, opts ...Option) *Builder {
	b := &Builder{
		store:    store,
		catalog:  cat,
		ledger:   ledger,
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.WithField("component", "checkout-builder")
	}
	return b
}

// CreateCheckout создаёт ровно один заказ и запрашивает для него checkout-сессию.
// Если провайдер недоступен, заказ остаётся в PENDING_PAYMENT без сессии и слот промокода не тратится.
func (b *Builder) CreateCheckout(ctx context.Context, req Request) (Result, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return Result{}, domain.NewValidationError("userId", domain.ErrUserRequired)
	}

	items, physical, err := priceLines(b.catalog, req.Items)
	if err != nil {
		return Result{}, err
	}

	var shippingMinor int64
	if physical {
		if !req.ShippingAddress.Complete() {
			return Result{}, domain.NewValidationError("shippingAddress", domain.ErrShippingAddressIncomplete)
		}
		shippingMinor = b.catalog.ShippingRate(req.ShippingAddress.Country)
	}

	var applied domain.PromoCode
	if strings.TrimSpace(req.PromoCode) != "" {
		applied, err = b.ledger.Validate(ctx, req.PromoCode)
		if err != nil {
			return Result{}, err
		}
		if applied.Kind != domain.PromoKindPercentOff {
			// подарочные коды открывают тариф дизайна и к товарному заказу не применяются
			return Result{}, domain.NewValidationError("promoCode", domain.ErrPromoCodeInvalid)
		}
	}

	now := b.now().UTC()
	order := domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.OrderStatusPendingPayment,
		Currency:  b.catalog.Currency(),
		Items:     items,
		Totals:    computeTotals(items, shippingMinor, applied.PercentOff),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range order.Items {
		order.Items[i].ID = fmt.Sprintf("%s-%d", order.ID, i+1)
	}
	if physical {
		addr := *req.ShippingAddress
		order.ShippingAddress = &addr
	}
	if applied.ID != "" {
		order.PromoCodeID = applied.ID
		order.PromoClaim = domain.PromoClaimPending
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Result{}, fmt.Errorf("build order: %w", errors.Join(errs...))
	}

	logger := b.logger.WithFields(log.Fields{"order_id": order.ID, "user_id": userID})

	err = b.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Orders().Create(ctx, order); err != nil {
			return err
		}
		msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventOrderCreated, domain.OrderEventPayload{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Status:        order.Status,
			Currency:      order.Currency,
			TotalMinor:    order.Totals.TotalMinor,
			DiscountMinor: order.Totals.DiscountMinor,
			PromoCodeID:   order.PromoCodeID,
			PromoClaim:    order.PromoClaim,
			OccurredAt:    now,
		})
		if err != nil {
			return err
		}
		_, err = repos.Outbox().Enqueue(ctx, msg)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	session, err := b.provider.CreateSession(ctx, b.sessionRequest(order))
	if err != nil {
		logger.WithError(err).Error("checkout session creation failed")
		return Result{}, providerError(err)
	}

	if err := b.store.Orders().AttachSession(ctx, order.ID, session.ID); err != nil {
		return Result{}, fmt.Errorf("attach checkout session: %w", err)
	}

	b.metrics.CheckoutCreated(domain.SessionKindOrder)
	logger.WithFields(log.Fields{
		"session_id":  session.ID,
		"total_minor": order.Totals.TotalMinor,
		"promo_code":  applied.Code,
	}).Info("checkout session created")

	return Result{
		OrderID:   order.ID,
		SessionID: session.ID,
		URL:       session.URL,
		Totals:    order.Totals,
	}, nil
}

func (b *Builder) sessionRequest(order domain.Order) domain.CheckoutSessionRequest {
	lines := make([]domain.CheckoutLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, domain.CheckoutLine{
			Name:            fmt.Sprintf("%s (%s)", item.Name, item.Variant),
			UnitAmountMinor: item.UnitPriceMinor,
			Quantity:        int64(item.Quantity),
		})
	}

	metadata := map[string]string{
		domain.SessionMetaKind:    domain.SessionKindOrder,
		domain.SessionMetaOrderID: order.ID,
		domain.SessionMetaUserID:  order.UserID,
	}
	if order.PromoCodeID != "" {
		metadata[domain.SessionMetaPromoCodeID] = order.PromoCodeID
	}

	return domain.CheckoutSessionRequest{
		ClientReferenceID: order.ID,
		Currency:          order.Currency,
		Lines:             lines,
		ShippingMinor:     order.Totals.ShippingMinor,
		DiscountMinor:     order.Totals.DiscountMinor,
		Metadata:          metadata,
		IdempotencyKey:    "checkout:" + order.ID,
	}
}

// providerError гарантирует, что ошибка внешнего вызова классифицируется как ProviderError.
func providerError(err error) error {
	if domain.KindOf(err) == domain.KindProvider {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPaymentProvider, err)
}
