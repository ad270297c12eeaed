// Package giftcode продаёт подарочные коды тарифов дизайна и выпускает их после оплаты.
package giftcode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/catalog"
	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
)

const (
	defaultUsageLimit = 1
	maxUsageLimit     = 100
)

// PurchaseRequest — запрос покупки подарочного кода.
type PurchaseRequest struct {
	UserID     string
	Tier       string
	UsageLimit *int32
}

// PurchaseResult — ответ клиенту для перехода на hosted checkout.
type PurchaseResult struct {
	PurchaseID string
	SessionID  string
	URL        string
	PriceMinor int64
}

// Issuer оформляет покупку подарочного кода; сам код выпускается при сверке оплаты.
type Issuer struct {
	store    domain.Store
	catalog  *catalog.Catalog
	provider domain.CheckoutProvider
	logger   *log.Entry
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewIssuer собирает Issuer; logger и m могут быть nil.
func NewIssuer(store domain.Store, cat *catalog.Catalog, provider domain.CheckoutProvider, logger *log.Entry, m *metrics.Metrics) *Issuer {
	if logger == nil {
		logger = log.WithField("component", "giftcode-issuer")
	}
	return &Issuer{
		store:    store,
		catalog:  cat,
		provider: provider,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// PurchaseGiftCode проверяет тариф и создаёт checkout-сессию. Цена равна цене тарифа,
// умноженной на число использований кода.
func (i *Issuer) PurchaseGiftCode(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return PurchaseResult{}, domain.NewValidationError("userId", domain.ErrUserRequired)
	}
	tier, ok := i.catalog.Tier(strings.ToLower(strings.TrimSpace(req.Tier)))
	if !ok {
		return PurchaseResult{}, domain.NewValidationError("tier", domain.ErrTierInvalid)
	}

	limit := int32(defaultUsageLimit)
	if req.UsageLimit != nil {
		limit = *req.UsageLimit
	}
	if limit <= 0 || limit > maxUsageLimit {
		return PurchaseResult{}, domain.NewValidationError("usageLimit", domain.ErrUsageLimitInvalid)
	}

	purchase := domain.GiftPurchase{
		ID:         uuid.NewString(),
		UserID:     userID,
		Tier:       tier.ID,
		UsageLimit: &limit,
		PriceMinor: tier.PriceMinor * int64(limit),
		Currency:   i.catalog.Currency(),
		Status:     domain.GiftPurchasePendingPayment,
		CreatedAt:  i.now().UTC(),
	}
	if err := i.store.GiftPurchases().Create(ctx, purchase); err != nil {
		return PurchaseResult{}, fmt.Errorf("create gift purchase: %w", err)
	}

	logger := i.logger.WithFields(log.Fields{"gift_purchase_id": purchase.ID, "tier": tier.ID})

	session, err := i.provider.CreateSession(ctx, domain.CheckoutSessionRequest{
		ClientReferenceID: purchase.ID,
		Currency:          purchase.Currency,
		Lines: []domain.CheckoutLine{{
			Name:            fmt.Sprintf("Gift code: %s", tier.Name),
			UnitAmountMinor: tier.PriceMinor,
			Quantity:        int64(limit),
		}},
		Metadata: map[string]string{
			domain.SessionMetaKind:           domain.SessionKindGiftCode,
			domain.SessionMetaGiftPurchaseID: purchase.ID,
			domain.SessionMetaUserID:         userID,
		},
		IdempotencyKey: "gift:" + purchase.ID,
	})
	if err != nil {
		logger.WithError(err).Error("gift checkout session creation failed")
		if domain.KindOf(err) != domain.KindProvider {
			err = fmt.Errorf("%w: %w", domain.ErrPaymentProvider, err)
		}
		return PurchaseResult{}, err
	}

	if err := i.store.GiftPurchases().AttachSession(ctx, purchase.ID, session.ID); err != nil {
		return PurchaseResult{}, fmt.Errorf("attach gift checkout session: %w", err)
	}

	i.metrics.CheckoutCreated(domain.SessionKindGiftCode)
	logger.WithField("session_id", session.ID).Info("gift checkout session created")

	return PurchaseResult{
		PurchaseID: purchase.ID,
		SessionID:  session.ID,
		URL:        session.URL,
		PriceMinor: purchase.PriceMinor,
	}, nil
}
