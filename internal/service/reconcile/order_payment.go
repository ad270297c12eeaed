package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
)

func (r *Reconciler) applyOrderPayment(ctx context.Context, session domain.CheckoutSession, orderID string) (Outcome, error) {
	outcome := Outcome{Subject: domain.SessionKindOrder, SubjectID: orderID}
	logger := r.logger.WithFields(log.Fields{"order_id": orderID, "session_id": session.ID})

	if orderID == "" {
		return outcome, domain.ErrSessionMetadataMissing
	}
	if session.PaymentStatus != domain.SessionPaymentStatusPaid {
		r.metrics.PaymentReconciled("not_paid")
		return outcome, domain.ErrPaymentNotCompleted
	}

	order, err := r.store.Orders().Get(ctx, orderID)
	if err != nil {
		return outcome, err
	}
	if order.Status != domain.OrderStatusPendingPayment {
		r.metrics.PaymentReconciled("duplicate")
		logger.WithField("status", order.Status).Info("order already past pending payment, skipping duplicate confirmation")
		outcome.PromoClaim = order.PromoClaim
		return outcome, nil
	}

	if err := verifySession(session, order.ID, order.UserID, order.Totals.TotalMinor); err != nil {
		r.metrics.PaymentReconciled("mismatch")
		r.anomaly(metrics.AnomalyPaymentMismatch, logger.WithError(err), "checkout session does not match order")
		return outcome, err
	}
	if order.CheckoutSessionID != "" && order.CheckoutSessionID != session.ID {
		logger.WithField("attached_session_id", order.CheckoutSessionID).Warn("payment arrived for a replaced checkout session")
	}

	now := r.now().UTC()
	claim := domain.PromoClaimNone
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		transitioned, err := repos.Orders().MarkPaid(ctx, order.ID, now)
		if err != nil {
			return err
		}
		if !transitioned {
			return errDuplicate
		}

		if err := repos.Payments().Record(ctx, r.newPayment(session, domain.PaymentSubjectOrder, order.ID, now)); err != nil {
			return err
		}

		if order.PromoCodeID != "" {
			claim, err = r.claimPromo(ctx, repos, order, session, now)
			if err != nil {
				return err
			}
		}

		msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventOrderPaid, domain.OrderEventPayload{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Status:        domain.OrderStatusPaid,
			Currency:      order.Currency,
			TotalMinor:    order.Totals.TotalMinor,
			DiscountMinor: order.Totals.DiscountMinor,
			PromoCodeID:   order.PromoCodeID,
			PromoClaim:    claim,
			SessionID:     session.ID,
			OccurredAt:    now,
		})
		if err != nil {
			return err
		}
		_, err = repos.Outbox().Enqueue(ctx, msg)
		return err
	})
	if errors.Is(err, errDuplicate) {
		r.metrics.PaymentReconciled("duplicate")
		logger.Info("concurrent confirmation already marked order paid")
		return outcome, nil
	}
	if err != nil {
		r.metrics.PaymentReconciled("error")
		return outcome, fmt.Errorf("apply order payment: %w", err)
	}

	outcome.Applied = true
	outcome.PromoClaim = claim
	r.metrics.PaymentReconciled("paid")
	if order.PromoCodeID != "" {
		r.metrics.PromoClaim(claim == domain.PromoClaimClaimed)
	}
	if claim == domain.PromoClaimRejected {
		r.anomaly(metrics.AnomalyPromoClaimRejected, logger.WithFields(log.Fields{
			"promo_code_id":  order.PromoCodeID,
			"discount_minor": order.Totals.DiscountMinor,
		}), "order paid with a discount whose promo slot could not be claimed")
	}
	logger.WithField("promo_claim", claim).Info("order marked as paid")
	return outcome, nil
}

// claimPromo занимает слот в той же транзакции. Проигранная гонка не отменяет оплату:
// заказ помечается rejected и в outbox попадает событие для ручного разбора.
func (r *Reconciler) claimPromo(ctx context.Context, repos domain.Repositories, order domain.Order, session domain.CheckoutSession, now time.Time) (domain.PromoClaimState, error) {
	claim := domain.PromoClaimClaimed
	err := r.ledger.ClaimSlot(ctx, repos.Promos(), order.PromoCodeID)
	switch {
	case errors.Is(err, domain.ErrPromoUsageExceeded):
		claim = domain.PromoClaimRejected
	case err != nil:
		return "", err
	}

	if err := repos.Orders().SetPromoClaim(ctx, order.ID, claim); err != nil {
		return "", err
	}
	if claim == domain.PromoClaimClaimed {
		return claim, nil
	}

	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventPromoClaimRejected, domain.PromoClaimRejectedPayload{
		OrderID:       order.ID,
		UserID:        order.UserID,
		PromoCodeID:   order.PromoCodeID,
		DiscountMinor: order.Totals.DiscountMinor,
		SessionID:     session.ID,
		DetectedAt:    now,
	})
	if err != nil {
		return "", err
	}
	if _, err := repos.Outbox().Enqueue(ctx, msg); err != nil {
		return "", err
	}
	return claim, nil
}
