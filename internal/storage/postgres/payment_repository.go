package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type paymentRepository struct {
	q queryer
}

func (r *paymentRepository) Record(ctx context.Context, p domain.Payment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (
			id, subject_type, subject_id, provider, provider_payment_id, session_id,
			amount_minor, currency, method, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		p.ID, string(p.SubjectType), p.SubjectID, p.Provider, p.ProviderPaymentID, p.SessionID,
		p.AmountMinor, p.Currency, p.Method, p.Status, p.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPaymentAlreadyRecorded
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetBySession(ctx context.Context, sessionID string) (domain.Payment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		p       domain.Payment
		subject string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, subject_type, subject_id, provider, provider_payment_id, session_id,
		       amount_minor, currency, method, status, created_at
		FROM payments
		WHERE session_id = $1
	`, sessionID).Scan(
		&p.ID, &subject, &p.SubjectID, &p.Provider, &p.ProviderPaymentID, &p.SessionID,
		&p.AmountMinor, &p.Currency, &p.Method, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	p.SubjectType = domain.PaymentSubject(subject)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
