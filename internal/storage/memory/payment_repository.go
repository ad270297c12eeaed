package memory

import (
	"context"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type paymentRepository struct {
	acc accessor
}

func (r *paymentRepository) Record(_ context.Context, payment domain.Payment) error {
	return r.acc.do(func(st *state) error {
		if _, exists := st.payments[payment.SessionID]; exists {
			return domain.ErrPaymentAlreadyRecorded
		}
		st.payments[payment.SessionID] = payment
		return nil
	})
}

func (r *paymentRepository) GetBySession(_ context.Context, sessionID string) (domain.Payment, error) {
	var payment domain.Payment
	err := r.acc.do(func(st *state) error {
		stored, ok := st.payments[sessionID]
		if !ok {
			return domain.ErrPaymentNotFound
		}
		payment = stored
		return nil
	})
	return payment, err
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
