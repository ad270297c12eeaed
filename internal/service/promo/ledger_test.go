package promo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
)

func limit(v int32) *int32 { return &v }

func seed(t *testing.T, store *memory.Store, promos ...domain.PromoCode) {
	t.Helper()
	for _, p := range promos {
		require.NoError(t, store.Promos().Create(context.Background(), p))
	}
}

func TestLedger_Validate(t *testing.T) {
	store := memory.NewStore()
	seed(t, store,
		domain.PromoCode{ID: "p-1", Code: "SAVE20", Kind: domain.PromoKindPercentOff, PercentOff: 20, UsageLimit: limit(10)},
		domain.PromoCode{ID: "p-2", Code: "OFF", Kind: domain.PromoKindPercentOff, PercentOff: 10, Disabled: true},
		domain.PromoCode{ID: "p-3", Code: "FULL", Kind: domain.PromoKindPercentOff, PercentOff: 10, UsageLimit: limit(2), UsageCount: 2},
		domain.PromoCode{ID: "p-4", Code: "FREE", Kind: domain.PromoKindGift, Tier: "premium"},
	)
	ledger := NewLedger(store.Promos(), nil)
	ctx := context.Background()

	promo, err := ledger.Validate(ctx, "  save20 ")
	require.NoError(t, err)
	require.Equal(t, "p-1", promo.ID)
	require.Equal(t, int32(20), promo.PercentOff)

	unlimited, err := ledger.Validate(ctx, "free")
	require.NoError(t, err)
	require.Nil(t, unlimited.UsageLimit)

	cases := []struct {
		name string
		code string
		want error
		kind domain.Kind
	}{
		{"empty", "  ", domain.ErrPromoCodeRequired, domain.KindValidation},
		{"unknown", "NOPE", domain.ErrPromoCodeInvalid, domain.KindNotFound},
		{"disabled", "off", domain.ErrPromoCodeInvalid, domain.KindNotFound},
		{"exhausted", "FULL", domain.ErrPromoUsageExceeded, domain.KindUsageExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ledger.Validate(ctx, tc.code)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.kind, domain.KindOf(err))
			require.Empty(t, got.ID, "details must not leak on failure")
		})
	}
}

func TestLedger_ClaimSlotConcurrent(t *testing.T) {
	const (
		n = 40
		k = 5
	)
	store := memory.NewStore()
	seed(t, store, domain.PromoCode{ID: "p-race", Code: "RACE", Kind: domain.PromoKindPercentOff, PercentOff: 15, UsageLimit: limit(k), UsageCount: k - 1})
	ledger := NewLedger(store.Promos(), nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		exceeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.ClaimSlot(context.Background(), nil, "p-race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrPromoUsageExceeded):
				exceeded++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, success)
	require.Equal(t, n-1, exceeded)

	promo, err := store.Promos().GetByID(context.Background(), "p-race")
	require.NoError(t, err)
	require.Equal(t, int32(k), promo.UsageCount)
}

func TestLedger_ClaimSlotInsideTx(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, domain.PromoCode{ID: "p-1", Code: "ONCE", Kind: domain.PromoKindPercentOff, PercentOff: 5, UsageLimit: limit(1)})
	ledger := NewLedger(store.Promos(), nil)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		return ledger.ClaimSlot(ctx, repos.Promos(), "p-1")
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		return ledger.ClaimSlot(ctx, repos.Promos(), "p-1")
	})
	require.ErrorIs(t, err, domain.ErrPromoUsageExceeded)

	require.ErrorIs(t, ledger.ClaimSlot(ctx, nil, ""), domain.ErrPromoCodeRequired)
}
