package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type giftPurchaseRepository struct {
	acc accessor
}

func (r *giftPurchaseRepository) Create(_ context.Context, purchase domain.GiftPurchase) error {
	return r.acc.do(func(st *state) error {
		if _, exists := st.gifts[purchase.ID]; exists {
			return domain.ErrOrderAlreadyExists
		}
		st.gifts[purchase.ID] = cloneGiftPurchase(purchase)
		return nil
	})
}

func (r *giftPurchaseRepository) Get(_ context.Context, id string) (domain.GiftPurchase, error) {
	var purchase domain.GiftPurchase
	err := r.acc.do(func(st *state) error {
		stored, ok := st.gifts[id]
		if !ok {
			return domain.ErrGiftPurchaseNotFound
		}
		purchase = cloneGiftPurchase(stored)
		return nil
	})
	return purchase, err
}

func (r *giftPurchaseRepository) AttachSession(_ context.Context, purchaseID, sessionID string) error {
	return r.acc.do(func(st *state) error {
		purchase, ok := st.gifts[purchaseID]
		if !ok {
			return domain.ErrGiftPurchaseNotFound
		}
		if purchase.Status != domain.GiftPurchasePendingPayment {
			return domain.ErrOrderNotEditable
		}
		purchase.CheckoutSessionID = sessionID
		st.gifts[purchaseID] = purchase
		return nil
	})
}

func (r *giftPurchaseRepository) MarkPaid(_ context.Context, purchaseID, promoCodeID string, paidAt time.Time) (bool, error) {
	transitioned := false
	err := r.acc.do(func(st *state) error {
		purchase, ok := st.gifts[purchaseID]
		if !ok {
			return domain.ErrGiftPurchaseNotFound
		}
		if purchase.Status != domain.GiftPurchasePendingPayment {
			return nil
		}
		purchase.Status = domain.GiftPurchasePaid
		purchase.PromoCodeID = promoCodeID
		purchase.PaidAt = paidAt
		st.gifts[purchaseID] = purchase
		transitioned = true
		return nil
	})
	return transitioned, err
}

func cloneGiftPurchase(src domain.GiftPurchase) domain.GiftPurchase {
	dst := src
	if src.UsageLimit != nil {
		limit := *src.UsageLimit
		dst.UsageLimit = &limit
	}
	return dst
}

var _ domain.GiftPurchaseRepository = (*giftPurchaseRepository)(nil)
