package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

const promoColumns = `id, code, kind, tier, percent_off, usage_limit, usage_count, disabled, gift_purchase_id, created_at`

type promoRepository struct {
	q queryer
}

func (r *promoRepository) Create(ctx context.Context, promo domain.PromoCode) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	createdAt := promo.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// 23505 внутри транзакции прервал бы её, поэтому конфликт определяется по числу строк.
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO promo_codes (`+promoColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT DO NOTHING
	`,
		promo.ID, domain.NormalizeCode(promo.Code), string(promo.Kind), promo.Tier, promo.PercentOff,
		nullInt32(promo.UsageLimit), promo.UsageCount, promo.Disabled, nullString(promo.GiftPurchaseID), createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert promo code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPromoCodeExists
	}
	return nil
}

func (r *promoRepository) GetByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	return r.getOne(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = $1`, domain.NormalizeCode(code))
}

func (r *promoRepository) GetByID(ctx context.Context, id string) (domain.PromoCode, error) {
	return r.getOne(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = $1`, id)
}

// ClaimSlot занимает слот одним условным UPDATE; проверка лимита и инкремент атомарны
// на уровне строки, поэтому корректность сохраняется между процессами.
func (r *promoRepository) ClaimSlot(ctx context.Context, id string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE promo_codes
		SET usage_count = usage_count + 1
		WHERE id = $1
		  AND disabled = FALSE
		  AND (usage_limit IS NULL OR usage_count < usage_limit)
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim promo slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *promoRepository) getOne(ctx context.Context, query string, arg string) (domain.PromoCode, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		promo          domain.PromoCode
		kind           string
		usageLimit     sql.NullInt32
		giftPurchaseID sql.NullString
	)
	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&promo.ID, &promo.Code, &kind, &promo.Tier, &promo.PercentOff,
		&usageLimit, &promo.UsageCount, &promo.Disabled, &giftPurchaseID, &promo.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PromoCode{}, domain.ErrPromoCodeInvalid
		}
		return domain.PromoCode{}, fmt.Errorf("select promo code: %w", err)
	}
	promo.Kind = domain.PromoKind(kind)
	promo.UsageLimit = int32Ptr(usageLimit)
	promo.GiftPurchaseID = giftPurchaseID.String
	promo.CreatedAt = promo.CreatedAt.UTC()
	return promo, nil
}

var _ domain.PromoRepository = (*promoRepository)(nil)
