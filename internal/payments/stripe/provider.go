// Package stripe реализует CheckoutProvider поверх Stripe Checkout и проверку подписи вебхуков Stripe.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	gostripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/resilience"
)

const providerName = "stripe"

type sessionAPI interface {
	New(params *gostripe.CheckoutSessionParams) (*gostripe.CheckoutSession, error)
	Get(id string, params *gostripe.CheckoutSessionParams) (*gostripe.CheckoutSession, error)
}

type couponAPI interface {
	New(params *gostripe.CouponParams) (*gostripe.Coupon, error)
}

// Config описывает подключение к Stripe.
type Config struct {
	SecretKey string
	// SuccessURL может содержать {CHECKOUT_SESSION_ID}; Stripe подставит идентификатор сессии.
	SuccessURL string
	CancelURL  string
	Backends   *gostripe.Backends
	Logger     *log.Entry
	Metrics    *metrics.Metrics
	Breaker    *resilience.CircuitBreaker

	sessions sessionAPI
	coupons  couponAPI
}

// Provider — CheckoutProvider на Stripe.
type Provider struct {
	sessions   sessionAPI
	coupons    couponAPI
	successURL string
	cancelURL  string
	logger     *log.Entry
	metrics    *metrics.Metrics
	breaker    *resilience.CircuitBreaker
}

// NewProvider создаёт клиента Stripe.
func NewProvider(cfg Config) (*Provider, error) {
	sessions, coupons := cfg.sessions, cfg.coupons
	if sessions == nil || coupons == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		sc := client.New(key, cfg.Backends)
		sessions, coupons = sc.CheckoutSessions, sc.Coupons
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, errors.New("stripe: success and cancel urls are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "stripe-provider")
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(providerName, 5, 30*time.Second, logger)
	}

	return &Provider{
		sessions:   sessions,
		coupons:    coupons,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger,
		metrics:    cfg.Metrics,
		breaker:    breaker,
	}, nil
}

// CreateSession создаёт hosted checkout. Скидка передаётся одноразовым купоном на сумму,
// доставка отдельной фиксированной ставкой: итог у Stripe совпадает с итогом заказа.
func (p *Provider) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	currency := strings.ToLower(req.Currency)
	params := &gostripe.CheckoutSessionParams{
		Mode:       gostripe.String(string(gostripe.CheckoutSessionModePayment)),
		SuccessURL: gostripe.String(p.successURL),
		CancelURL:  gostripe.String(p.cancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = gostripe.String(req.ClientReferenceID)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
		params.PaymentIntentData = &gostripe.CheckoutSessionPaymentIntentDataParams{Metadata: params.Metadata}
	}

	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &gostripe.CheckoutSessionLineItemParams{
			Quantity: gostripe.Int64(max(line.Quantity, 1)),
			PriceData: &gostripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   gostripe.String(currency),
				UnitAmount: gostripe.Int64(line.UnitAmountMinor),
				ProductData: &gostripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: gostripe.String(line.Name),
				},
			},
		})
	}
	if req.ShippingMinor > 0 {
		params.ShippingOptions = []*gostripe.CheckoutSessionShippingOptionParams{{
			ShippingRateData: &gostripe.CheckoutSessionShippingOptionShippingRateDataParams{
				DisplayName: gostripe.String("Standard shipping"),
				Type:        gostripe.String("fixed_amount"),
				FixedAmount: &gostripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
					Amount:   gostripe.Int64(req.ShippingMinor),
					Currency: gostripe.String(currency),
				},
			},
		}}
	}

	var session *gostripe.CheckoutSession
	err := p.call(ctx, "create_session", func() error {
		if req.DiscountMinor > 0 {
			couponID, err := p.discountCoupon(ctx, req, currency)
			if err != nil {
				return err
			}
			params.Discounts = []*gostripe.CheckoutSessionDiscountParams{{Coupon: gostripe.String(couponID)}}
		}
		var err error
		session, err = p.sessions.New(params)
		return err
	})
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"session_id": session.ID,
		"order_id":   req.ClientReferenceID,
	}).Info("stripe checkout session created")
	return toDomainSession(session), nil
}

// RetrieveSession читает сессию вместе с payment intent.
func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	params := &gostripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	var session *gostripe.CheckoutSession
	err := p.call(ctx, "retrieve_session", func() error {
		var err error
		session, err = p.sessions.Get(sessionID, params)
		return err
	})
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("stripe: retrieve checkout session %s: %w", sessionID, err)
	}
	return toDomainSession(session), nil
}

func (p *Provider) discountCoupon(ctx context.Context, req domain.CheckoutSessionRequest, currency string) (string, error) {
	params := &gostripe.CouponParams{
		AmountOff:      gostripe.Int64(req.DiscountMinor),
		Currency:       gostripe.String(currency),
		Duration:       gostripe.String(string(gostripe.CouponDurationOnce)),
		MaxRedemptions: gostripe.Int64(1),
		Name:           gostripe.String("Promo discount"),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key + ":coupon")
	}
	coupon, err := p.coupons.New(params)
	if err != nil {
		return "", fmt.Errorf("create discount coupon: %w", err)
	}
	return coupon.ID, nil
}

// call прогоняет запрос через breaker и метрики. Ошибки 4xx от Stripe не открывают breaker.
func (p *Provider) call(ctx context.Context, operation string, fn func() error) error {
	started := time.Now()
	err := p.breaker.Execute(func() error {
		err := fn()
		if isClientError(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	p.metrics.ObserveProviderCall(providerName, operation, err, time.Since(started))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", domain.ErrPaymentProvider, err)
}

func isClientError(err error) bool {
	var stripeErr *gostripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429
}

func toDomainSession(s *gostripe.CheckoutSession) domain.CheckoutSession {
	if s == nil {
		return domain.CheckoutSession{}
	}
	out := domain.CheckoutSession{
		ID:                 s.ID,
		URL:                s.URL,
		PaymentStatus:      string(s.PaymentStatus),
		ClientReferenceID:  s.ClientReferenceID,
		Currency:           strings.ToLower(string(s.Currency)),
		AmountTotalMinor:   s.AmountTotal,
		PaymentMethodTypes: append([]string(nil), s.PaymentMethodTypes...),
	}
	if len(s.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}

var _ domain.CheckoutProvider = (*Provider)(nil)
