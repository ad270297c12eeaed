package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printshop/internal/catalog"
	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/service/payment"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
)

var usAddress = &domain.Address{Name: "Ann Lee", Line1: "1 Main St", City: "Austin", State: "TX", PostalCode: "73301", Country: "US"}

type fixture struct {
	store    *memory.Store
	provider *payment.MockProvider
	builder  *Builder
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.NewStore()
	limit := int32(3)
	ctx := context.Background()
	require.NoError(t, store.Promos().Create(ctx, domain.PromoCode{ID: "p-20", Code: "SAVE20", Kind: domain.PromoKindPercentOff, PercentOff: 20, UsageLimit: &limit}))
	require.NoError(t, store.Promos().Create(ctx, domain.PromoCode{ID: "p-gift", Code: "GIFT-1", Kind: domain.PromoKindGift, Tier: "premium"}))
	require.NoError(t, store.Promos().Create(ctx, domain.PromoCode{ID: "p-off", Code: "OLD", Kind: domain.PromoKindPercentOff, PercentOff: 50, Disabled: true}))

	provider := payment.NewMockProvider()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	builder := NewBuilder(store, catalog.Default(), promo.NewLedger(store.Promos(), nil), provider,
		WithClock(func() time.Time { return fixed }))

	return fixture{store: store, provider: provider, builder: builder}
}

func teeCart() []LineRequest {
	return []LineRequest{{ProductID: "tee-classic", Variant: "M", Quantity: 2}}
}

func TestCreateCheckout_TotalsWithoutPromo(t *testing.T) {
	f := newFixture(t)

	res, err := f.builder.CreateCheckout(context.Background(), Request{UserID: "u-1", Items: teeCart(), ShippingAddress: usAddress})
	require.NoError(t, err)
	require.Equal(t, domain.Totals{SubtotalMinor: 4998, ShippingMinor: 595, DiscountMinor: 0, TotalMinor: 5593}, res.Totals)
	require.NotEmpty(t, res.SessionID)
	require.NotEmpty(t, res.URL)

	order, err := f.store.Orders().Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPendingPayment, order.Status)
	require.Equal(t, res.SessionID, order.CheckoutSessionID)
	require.Equal(t, domain.PromoClaimNone, order.PromoClaim)

	req := f.provider.LastRequest
	require.Equal(t, res.OrderID, req.ClientReferenceID)
	require.Equal(t, res.OrderID, req.Metadata[domain.SessionMetaOrderID])
	require.Equal(t, domain.SessionKindOrder, req.Metadata[domain.SessionMetaKind])
	require.Equal(t, "u-1", req.Metadata[domain.SessionMetaUserID])
	require.Equal(t, int64(595), req.ShippingMinor)

	pending := f.store.PendingOutbox()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType)
}

func TestCreateCheckout_PercentOffPromoRoundsHalfUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.builder.CreateCheckout(ctx, Request{UserID: "u-1", Items: teeCart(), ShippingAddress: usAddress, PromoCode: " save20 "})
	require.NoError(t, err)
	require.Equal(t, int64(1000), res.Totals.DiscountMinor)
	require.Equal(t, int64(4593), res.Totals.TotalMinor)

	order, err := f.store.Orders().Get(ctx, res.OrderID)
	require.NoError(t, err)
	require.Equal(t, "p-20", order.PromoCodeID)
	require.Equal(t, domain.PromoClaimPending, order.PromoClaim)
	require.Equal(t, "p-20", f.provider.LastRequest.Metadata[domain.SessionMetaPromoCodeID])

	promoCode, err := f.store.Promos().GetByID(ctx, "p-20")
	require.NoError(t, err)
	require.Zero(t, promoCode.UsageCount, "checkout must not consume a promo slot")
}

func TestCreateCheckout_ShippingZones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for country, want := range map[string]int64{"US": 595, "CA": 1295, "GB": 1995} {
		addr := *usAddress
		addr.Country = country
		res, err := f.builder.CreateCheckout(ctx, Request{UserID: "u-1", Items: teeCart(), ShippingAddress: &addr})
		require.NoError(t, err)
		require.Equal(t, want, res.Totals.ShippingMinor, country)
	}

	res, err := f.builder.CreateCheckout(ctx, Request{UserID: "u-1", Items: []LineRequest{{ProductID: "design-file", Variant: "png", Quantity: 1}}})
	require.NoError(t, err, "digital-only cart needs no address")
	require.Zero(t, res.Totals.ShippingMinor)
}

func TestCreateCheckout_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	incomplete := *usAddress
	incomplete.PostalCode = ""

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"no user", Request{Items: teeCart(), ShippingAddress: usAddress}, domain.ErrUserRequired},
		{"empty items", Request{UserID: "u-1", ShippingAddress: usAddress}, domain.ErrItemsRequired},
		{"zero quantity", Request{UserID: "u-1", Items: []LineRequest{{ProductID: "tee-classic", Variant: "M"}}, ShippingAddress: usAddress}, domain.ErrItemQtyInvalid},
		{"unknown product", Request{UserID: "u-1", Items: []LineRequest{{ProductID: "socks", Variant: "M", Quantity: 1}}, ShippingAddress: usAddress}, domain.ErrProductUnknown},
		{"missing address", Request{UserID: "u-1", Items: teeCart()}, domain.ErrShippingAddressIncomplete},
		{"incomplete address", Request{UserID: "u-1", Items: teeCart(), ShippingAddress: &incomplete}, domain.ErrShippingAddressIncomplete},
		{"unknown promo", Request{UserID: "u-1", Items: teeCart(), ShippingAddress: usAddress, PromoCode: "NOPE"}, domain.ErrPromoCodeInvalid},
		{"disabled promo", Request{UserID: "u-1", Items: teeCart(), ShippingAddress: usAddress, PromoCode: "OLD"}, domain.ErrPromoCodeInvalid},
		{"gift code", Request{UserID: "u-1", Items: teeCart(), ShippingAddress: usAddress, PromoCode: "GIFT-1"}, domain.ErrPromoCodeInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.builder.CreateCheckout(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	require.Zero(t, f.provider.CreateCalls)
	require.Empty(t, f.store.PendingOutbox(), "failed validation must not create orders")
}

func TestCreateCheckout_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.CreateErr = errors.New("connection reset")

	_, err := f.builder.CreateCheckout(context.Background(), Request{UserID: "u-1", Items: teeCart(), ShippingAddress: usAddress, PromoCode: "SAVE20"})
	require.ErrorIs(t, err, domain.ErrPaymentProvider)
	require.Equal(t, domain.KindProvider, domain.KindOf(err))

	orders, err := f.store.Orders().ListByUser(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, domain.OrderStatusPendingPayment, orders[0].Status)
	require.Empty(t, orders[0].CheckoutSessionID)

	promoCode, err := f.store.Promos().GetByID(context.Background(), "p-20")
	require.NoError(t, err)
	require.Zero(t, promoCode.UsageCount)
}

func TestComputeTotals(t *testing.T) {
	items := []domain.OrderItem{{Quantity: 1, UnitPriceMinor: 15}}

	// 15 * 10% = 1.5 цента, округляется от нуля
	require.Equal(t, int64(2), computeTotals(items, 0, 10).DiscountMinor)
	// скидка не больше subtotal
	require.Equal(t, int64(15), computeTotals(items, 500, 150).DiscountMinor)
	require.Equal(t, int64(500), computeTotals(items, 500, 150).TotalMinor)
	require.True(t, computeTotals(items, 595, 33).Consistent())
}
