package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type giftPurchaseRepository struct {
	q queryer
}

func (r *giftPurchaseRepository) Create(ctx context.Context, g domain.GiftPurchase) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO gift_purchases (
			id, user_id, tier, usage_limit, price_minor, currency, status, checkout_session_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		g.ID, g.UserID, g.Tier, nullInt32(g.UsageLimit), g.PriceMinor, g.Currency, string(g.Status),
		nullString(g.CheckoutSessionID), g.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert gift purchase: %w", err)
	}
	return nil
}

func (r *giftPurchaseRepository) Get(ctx context.Context, id string) (domain.GiftPurchase, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		g          domain.GiftPurchase
		status     string
		usageLimit sql.NullInt32
		sessionID  sql.NullString
		promoID    sql.NullString
		paidAt     sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, tier, usage_limit, price_minor, currency, status,
		       checkout_session_id, promo_code_id, created_at, paid_at
		FROM gift_purchases
		WHERE id = $1
	`, id).Scan(
		&g.ID, &g.UserID, &g.Tier, &usageLimit, &g.PriceMinor, &g.Currency, &status,
		&sessionID, &promoID, &g.CreatedAt, &paidAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GiftPurchase{}, domain.ErrGiftPurchaseNotFound
		}
		return domain.GiftPurchase{}, fmt.Errorf("select gift purchase: %w", err)
	}
	g.Status = domain.GiftPurchaseStatus(status)
	g.UsageLimit = int32Ptr(usageLimit)
	g.CheckoutSessionID = sessionID.String
	g.PromoCodeID = promoID.String
	g.CreatedAt = g.CreatedAt.UTC()
	if paidAt.Valid {
		g.PaidAt = paidAt.Time.UTC()
	}
	return g, nil
}

func (r *giftPurchaseRepository) AttachSession(ctx context.Context, purchaseID, sessionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE gift_purchases SET checkout_session_id = $2
		WHERE id = $1 AND status = 'pending_payment'
	`, purchaseID, sessionID)
	if err != nil {
		return fmt.Errorf("attach gift checkout session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.Get(ctx, purchaseID); err != nil {
			return err
		}
		return domain.ErrOrderNotEditable
	}
	return nil
}

func (r *giftPurchaseRepository) MarkPaid(ctx context.Context, purchaseID, promoCodeID string, paidAt time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE gift_purchases
		SET status = 'paid', promo_code_id = $2, paid_at = $3
		WHERE id = $1 AND status = 'pending_payment'
	`, purchaseID, promoCodeID, paidAt.UTC())
	if err != nil {
		return false, fmt.Errorf("mark gift purchase paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, purchaseID); err != nil {
		return false, err
	}
	return false, nil
}

var _ domain.GiftPurchaseRepository = (*giftPurchaseRepository)(nil)
