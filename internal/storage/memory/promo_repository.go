package memory

import (
	"context"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type promoRepository struct {
	acc accessor
}

func (r *promoRepository) Create(_ context.Context, promo domain.PromoCode) error {
	code := domain.NormalizeCode(promo.Code)
	return r.acc.do(func(st *state) error {
		if _, exists := st.promoByCode[code]; exists {
			return domain.ErrPromoCodeExists
		}
		if _, exists := st.promos[promo.ID]; exists {
			return domain.ErrPromoCodeExists
		}
		promo.Code = code
		st.promos[promo.ID] = promo.Clone()
		st.promoByCode[code] = promo.ID
		return nil
	})
}

func (r *promoRepository) GetByCode(_ context.Context, code string) (domain.PromoCode, error) {
	var promo domain.PromoCode
	err := r.acc.do(func(st *state) error {
		id, ok := st.promoByCode[domain.NormalizeCode(code)]
		if !ok {
			return domain.ErrPromoCodeInvalid
		}
		promo = st.promos[id].Clone()
		return nil
	})
	return promo, err
}

func (r *promoRepository) GetByID(_ context.Context, id string) (domain.PromoCode, error) {
	var promo domain.PromoCode
	err := r.acc.do(func(st *state) error {
		stored, ok := st.promos[id]
		if !ok {
			return domain.ErrPromoCodeInvalid
		}
		promo = stored.Clone()
		return nil
	})
	return promo, err
}

// ClaimSlot проверяет лимит и увеличивает счётчик под одним захватом мьютекса.
func (r *promoRepository) ClaimSlot(_ context.Context, id string) (bool, error) {
	claimed := false
	err := r.acc.do(func(st *state) error {
		promo, ok := st.promos[id]
		if !ok || promo.Disabled || promo.Exhausted() {
			return nil
		}
		promo.UsageCount++
		st.promos[id] = promo
		claimed = true
		return nil
	})
	return claimed, err
}

var _ domain.PromoRepository = (*promoRepository)(nil)
