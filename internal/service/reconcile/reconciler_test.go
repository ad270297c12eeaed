package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/service/payment"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
)

type reconcilerSuite struct {
	suite.Suite

	ctx        context.Context
	store      *memory.Store
	provider   *payment.MockProvider
	registry   *prometheus.Registry
	reconciler *Reconciler
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(reconcilerSuite))
}

func (s *reconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.provider = payment.NewMockProvider()
	s.registry = prometheus.NewRegistry()
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	s.reconciler = NewReconciler(s.store, s.provider, promo.NewLedger(s.store.Promos(), nil),
		WithMetrics(metrics.New(s.registry)),
		WithClock(func() time.Time { return fixed }),
	)
}

func limit(v int32) *int32 { return &v }

func (s *reconcilerSuite) seedPromo(id string, usageLimit *int32, usageCount int32) {
	s.Require().NoError(s.store.Promos().Create(s.ctx, domain.PromoCode{
		ID: id, Code: "CODE-" + id, Kind: domain.PromoKindPercentOff, PercentOff: 20, UsageLimit: usageLimit, UsageCount: usageCount,
	}))
}

// seedOrder создаёт заказ и оплаченную (если paid) сессию у mock-провайдера.
func (s *reconcilerSuite) seedOrder(id, promoID string, paid bool) domain.CheckoutSession {
	order := domain.Order{
		ID:              id,
		UserID:          "u-1",
		Status:          domain.OrderStatusPendingPayment,
		Currency:        "usd",
		Items:           []domain.OrderItem{{ID: id + "-1", ProductID: "tee-classic", Variant: "M", Name: "Tee", Quantity: 2, UnitPriceMinor: 2499}},
		ShippingAddress: &domain.Address{Name: "A", Line1: "1 Main", City: "Austin", PostalCode: "73301", Country: "US"},
		Totals:          domain.Totals{SubtotalMinor: 4998, ShippingMinor: 595, TotalMinor: 5593},
		CreatedAt:       time.Now().UTC(),
	}
	meta := map[string]string{
		domain.SessionMetaKind:    domain.SessionKindOrder,
		domain.SessionMetaOrderID: id,
		domain.SessionMetaUserID:  "u-1",
	}
	if promoID != "" {
		order.PromoCodeID = promoID
		order.PromoClaim = domain.PromoClaimPending
		order.Totals.DiscountMinor = 1000
		order.Totals.TotalMinor = 4593
		meta[domain.SessionMetaPromoCodeID] = promoID
	}
	s.Require().NoError(s.store.Orders().Create(s.ctx, order))

	session, err := s.provider.CreateSession(s.ctx, domain.CheckoutSessionRequest{
		ClientReferenceID: id,
		Currency:          "usd",
		Lines:             []domain.CheckoutLine{{Name: "Tee", UnitAmountMinor: 2499, Quantity: 2}},
		ShippingMinor:     order.Totals.ShippingMinor,
		DiscountMinor:     order.Totals.DiscountMinor,
		Metadata:          meta,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Orders().AttachSession(s.ctx, id, session.ID))
	if paid {
		s.Require().NoError(s.provider.Complete(session.ID))
	}
	return session
}

func (s *reconcilerSuite) outboxTypes() []string {
	var types []string
	for _, msg := range s.store.PendingOutbox() {
		types = append(types, msg.EventType)
	}
	return types
}

func (s *reconcilerSuite) anomalies(kind string) float64 {
	families, err := s.registry.Gather()
	s.Require().NoError(err)
	for _, family := range families {
		if family.GetName() != "printshop_reconcile_anomalies_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "kind" && label.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (s *reconcilerSuite) TestDuplicateWebhookAppliesOnce() {
	s.seedPromo("p-1", limit(10), 0)
	session := s.seedOrder("o-1", "p-1", true)

	first, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.Require().NoError(err)
	s.True(first.Applied)
	s.Equal(domain.PromoClaimClaimed, first.PromoClaim)

	second, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.Require().NoError(err, "duplicate delivery must succeed silently")
	s.False(second.Applied)

	order, err := s.store.Orders().Get(s.ctx, "o-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, order.Status)
	s.Equal(domain.PromoClaimClaimed, order.PromoClaim)
	s.False(order.PaidAt.IsZero())

	promoCode, err := s.store.Promos().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(int32(1), promoCode.UsageCount, "exactly one slot claimed")

	recorded, err := s.store.Payments().GetBySession(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(int64(4593), recorded.AmountMinor)
	s.Equal("card", recorded.Method)
	s.Equal("pi_"+session.ID, recorded.ProviderPaymentID)
	s.Equal(domain.PaymentStatusCompleted, recorded.Status)

	s.Equal([]string{domain.EventOrderPaid}, s.outboxTypes())
}

func (s *reconcilerSuite) TestConcurrentConfirmationsTransitionOnce() {
	s.seedPromo("p-1", limit(100), 0)
	session := s.seedOrder("o-1", "p-1", true)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
			s.NoError(err)
			if out.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, applied)
	promoCode, err := s.store.Promos().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(int32(1), promoCode.UsageCount)
}

func (s *reconcilerSuite) TestUnpaidSessionIsNotApplied() {
	session := s.seedOrder("o-1", "", false)

	_, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.ErrorIs(err, domain.ErrPaymentNotCompleted)
	s.True(domain.IsPermanentReconcileError(err))

	order, err := s.store.Orders().Get(s.ctx, "o-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPendingPayment, order.Status)
	s.Empty(s.outboxTypes())
}

func (s *reconcilerSuite) TestMismatchedSessionIsRejected() {
	cases := map[string]func(cs *domain.CheckoutSession){
		"amount":    func(cs *domain.CheckoutSession) { cs.AmountTotalMinor += 2 },
		"currency":  func(cs *domain.CheckoutSession) { cs.Currency = "eur" },
		"reference": func(cs *domain.CheckoutSession) { cs.ClientReferenceID = "other" },
		"owner":     func(cs *domain.CheckoutSession) { cs.Metadata[domain.SessionMetaUserID] = "intruder" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			s.SetupTest()
			session := s.seedOrder("o-"+name, "", true)
			s.Require().NoError(s.provider.Mutate(session.ID, mutate))

			_, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
			s.ErrorIs(err, domain.ErrPaymentMismatch)

			order, err := s.store.Orders().Get(s.ctx, "o-"+name)
			s.Require().NoError(err)
			s.Equal(domain.OrderStatusPendingPayment, order.Status)
			s.Equal(float64(1), s.anomalies(metrics.AnomalyPaymentMismatch))
		})
	}
}

func (s *reconcilerSuite) TestAmountWithinOneCentIsAccepted() {
	session := s.seedOrder("o-1", "", true)
	s.Require().NoError(s.provider.Mutate(session.ID, func(cs *domain.CheckoutSession) { cs.AmountTotalMinor-- }))

	out, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.Require().NoError(err)
	s.True(out.Applied)
}

func (s *reconcilerSuite) TestLostPromoRaceKeepsPaymentAndFlagsAnomaly() {
	s.seedPromo("p-last", limit(1), 0)
	winner := s.seedOrder("o-win", "p-last", true)
	loser := s.seedOrder("o-lose", "p-last", true)

	_, err := s.reconciler.OnPaymentConfirmed(s.ctx, winner.ID)
	s.Require().NoError(err)

	out, err := s.reconciler.OnPaymentConfirmed(s.ctx, loser.ID)
	s.Require().NoError(err, "claim loss must not surface as a checkout failure")
	s.True(out.Applied)
	s.Equal(domain.PromoClaimRejected, out.PromoClaim)

	order, err := s.store.Orders().Get(s.ctx, "o-lose")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, order.Status)
	s.Equal(domain.PromoClaimRejected, order.PromoClaim)

	promoCode, err := s.store.Promos().GetByID(s.ctx, "p-last")
	s.Require().NoError(err)
	s.Equal(int32(1), promoCode.UsageCount)

	s.Equal([]string{domain.EventOrderPaid, domain.EventPromoClaimRejected, domain.EventOrderPaid}, s.outboxTypes())
	s.Equal(float64(1), s.anomalies(metrics.AnomalyPromoClaimRejected))
}

func (s *reconcilerSuite) TestManualConfirm() {
	session := s.seedOrder("o-1", "", true)
	other := s.seedOrder("o-2", "", true)

	_, err := s.reconciler.ManualConfirm(s.ctx, ManualConfirmation{SessionID: session.ID})
	s.ErrorIs(err, domain.ErrOrderIDRequired)
	_, err = s.reconciler.ManualConfirm(s.ctx, ManualConfirmation{OrderID: "o-1"})
	s.ErrorIs(err, domain.ErrSessionIDRequired)

	_, err = s.reconciler.ManualConfirm(s.ctx, ManualConfirmation{OrderID: "o-1", SessionID: session.ID, ActorUserID: "u-2"})
	s.ErrorIs(err, domain.ErrOrderNotFound)

	_, err = s.reconciler.ManualConfirm(s.ctx, ManualConfirmation{OrderID: "o-1", SessionID: other.ID, ActorUserID: "u-1"})
	s.ErrorIs(err, domain.ErrPaymentMismatch)

	out, err := s.reconciler.ManualConfirm(s.ctx, ManualConfirmation{OrderID: "o-1", SessionID: session.ID, ActorUserID: "u-1"})
	s.Require().NoError(err)
	s.True(out.Applied)

	out, err = s.reconciler.ManualConfirm(s.ctx, ManualConfirmation{OrderID: "o-1", SessionID: session.ID, Operator: true})
	s.Require().NoError(err)
	s.False(out.Applied)

	again, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.Require().NoError(err)
	s.False(again.Applied, "webhook after manual confirm is a no-op")
}

func (s *reconcilerSuite) TestGiftPurchaseMintsOnce() {
	purchase := domain.GiftPurchase{
		ID: "g-1", UserID: "u-1", Tier: "premium", UsageLimit: limit(2), PriceMinor: 11998,
		Currency: "usd", Status: domain.GiftPurchasePendingPayment, CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.GiftPurchases().Create(s.ctx, purchase))
	session, err := s.provider.CreateSession(s.ctx, domain.CheckoutSessionRequest{
		ClientReferenceID: "g-1",
		Currency:          "usd",
		Lines:             []domain.CheckoutLine{{Name: "Gift", UnitAmountMinor: 5999, Quantity: 2}},
		Metadata: map[string]string{
			domain.SessionMetaKind:           domain.SessionKindGiftCode,
			domain.SessionMetaGiftPurchaseID: "g-1",
			domain.SessionMetaUserID:         "u-1",
		},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.provider.Complete(session.ID))

	first, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.Require().NoError(err)
	s.True(first.Applied)
	s.NotEmpty(first.MintedCode)

	second, err := s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.Require().NoError(err)
	s.False(second.Applied)
	s.Empty(second.MintedCode)

	code, err := s.store.Promos().GetByCode(s.ctx, first.MintedCode)
	s.Require().NoError(err)
	s.Equal(domain.PromoKindGift, code.Kind)
	s.Equal("premium", code.Tier)
	s.Equal(int32(2), *code.UsageLimit)
	s.Zero(code.UsageCount)

	stored, err := s.store.GiftPurchases().Get(s.ctx, "g-1")
	s.Require().NoError(err)
	s.Equal(domain.GiftPurchasePaid, stored.Status)
	s.Equal(code.ID, stored.PromoCodeID)

	s.Equal([]string{domain.EventGiftCodeMinted}, s.outboxTypes())
}

func (s *reconcilerSuite) TestUnknownSessionKind() {
	session, err := s.provider.CreateSession(s.ctx, domain.CheckoutSessionRequest{Currency: "usd"})
	s.Require().NoError(err)
	s.Require().NoError(s.provider.Complete(session.ID))

	_, err = s.reconciler.OnPaymentConfirmed(s.ctx, session.ID)
	s.ErrorIs(err, domain.ErrSessionMetadataMissing)
	s.Equal(float64(1), s.anomalies(metrics.AnomalyUnknownSessionKind))
}

func (s *reconcilerSuite) TestProviderFailureIsRetryable() {
	s.provider.RetrieveErr = errors.New("503 from provider")

	_, err := s.reconciler.OnPaymentConfirmed(s.ctx, "cs_any")
	s.ErrorIs(err, domain.ErrPaymentProvider)
	s.False(domain.IsPermanentReconcileError(err))

	_, err = s.reconciler.OnPaymentConfirmed(s.ctx, " ")
	s.ErrorIs(err, domain.ErrSessionIDRequired)
}
