package design

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
)

func seedOrder(t *testing.T, store *memory.Store, id string, status domain.OrderStatus) {
	t.Helper()
	require.NoError(t, store.Orders().Create(context.Background(), domain.Order{
		ID:       id,
		UserID:   "u-1",
		Status:   status,
		Currency: "usd",
		Items:    []domain.OrderItem{{ID: id + "-1", ProductID: "tote", Variant: "natural", Name: "Tote", Quantity: 1, UnitPriceMinor: 1800}},
		Totals:   domain.Totals{SubtotalMinor: 1800, ShippingMinor: 595, TotalMinor: 2395},
	}))
}

func TestAttachAndApprove(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "ord-1", domain.OrderStatusPaid)
	svc := NewService(store.Orders(), nil)

	first, err := svc.Attach(ctx, "u-1", "ord-1", "https://cdn.example.com/a.png")
	require.NoError(t, err)
	second, err := svc.Attach(ctx, "u-1", "ord-1", "https://cdn.example.com/b.png")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	tick := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return tick }
	_, err = svc.Approve(ctx, "u-1", "ord-1", second.ID)
	require.NoError(t, err)
	tick = tick.Add(time.Minute)
	approved, err := svc.Approve(ctx, "u-1", "ord-1", first.ID)
	require.NoError(t, err)
	assert.True(t, approved.Approved)

	order, err := store.Orders().Get(ctx, "ord-1")
	require.NoError(t, err)
	latest, ok := order.ApprovedDesign()
	require.True(t, ok)
	assert.Equal(t, first.ID, latest.ID, "most recently approved design wins")
}

func TestAttach_Errors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "ord-1", domain.OrderStatusPaid)
	seedOrder(t, store, "ord-2", domain.OrderStatusSubmitted)
	svc := NewService(store.Orders(), nil)

	tests := []struct {
		name    string
		userID  string
		orderID string
		url     string
		want    error
	}{
		{name: "empty url", userID: "u-1", orderID: "ord-1", url: "", want: domain.ErrDesignURLRequired},
		{name: "relative url", userID: "u-1", orderID: "ord-1", url: "/a.png", want: domain.ErrDesignURLRequired},
		{name: "foreign order", userID: "u-2", orderID: "ord-1", url: "https://x.io/a.png", want: domain.ErrOrderNotFound},
		{name: "unknown order", userID: "u-1", orderID: "ord-9", url: "https://x.io/a.png", want: domain.ErrOrderNotFound},
		{name: "already submitted", userID: "u-1", orderID: "ord-2", url: "https://x.io/a.png", want: domain.ErrOrderNotEditable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Attach(ctx, tt.userID, tt.orderID, tt.url)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := svc.Approve(ctx, "u-1", "ord-1", "missing")
	require.ErrorIs(t, err, domain.ErrDesignNotFound)
}
