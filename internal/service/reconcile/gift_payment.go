package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/service/giftcode"
)

// applyGiftPayment выпускает подарочный код. Ворота pending_payment -> paid работают так же,
// как для заказа, поэтому повторный вебхук не выпустит второй код.
func (r *Reconciler) applyGiftPayment(ctx context.Context, session domain.CheckoutSession) (Outcome, error) {
	purchaseID := session.Metadata[domain.SessionMetaGiftPurchaseID]
	outcome := Outcome{Subject: domain.SessionKindGiftCode, SubjectID: purchaseID}
	logger := r.logger.WithFields(log.Fields{"gift_purchase_id": purchaseID, "session_id": session.ID})

	if purchaseID == "" {
		return outcome, domain.ErrSessionMetadataMissing
	}
	if session.PaymentStatus != domain.SessionPaymentStatusPaid {
		r.metrics.PaymentReconciled("not_paid")
		return outcome, domain.ErrPaymentNotCompleted
	}

	purchase, err := r.store.GiftPurchases().Get(ctx, purchaseID)
	if err != nil {
		return outcome, err
	}
	if purchase.Status != domain.GiftPurchasePendingPayment {
		r.metrics.PaymentReconciled("duplicate")
		logger.Info("gift purchase already paid, skipping duplicate confirmation")
		return outcome, nil
	}

	if err := verifySession(session, purchase.ID, purchase.UserID, purchase.PriceMinor); err != nil {
		r.metrics.PaymentReconciled("mismatch")
		r.anomaly(metrics.AnomalyPaymentMismatch, logger.WithError(err), "checkout session does not match gift purchase")
		return outcome, err
	}

	now := r.now().UTC()
	promoCodeID := uuid.NewString()
	var minted domain.PromoCode
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		transitioned, err := repos.GiftPurchases().MarkPaid(ctx, purchase.ID, promoCodeID, now)
		if err != nil {
			return err
		}
		if !transitioned {
			return errDuplicate
		}

		minted, err = giftcode.Mint(ctx, repos.Promos(), purchase, promoCodeID, now)
		if err != nil {
			return err
		}

		if err := repos.Payments().Record(ctx, r.newPayment(session, domain.PaymentSubjectGiftPurchase, purchase.ID, now)); err != nil {
			return err
		}

		msg, err := domain.NewOutboxMessage(domain.AggregateGiftPurchase, purchase.ID, domain.EventGiftCodeMinted, domain.GiftCodeMintedPayload{
			GiftPurchaseID: purchase.ID,
			UserID:         purchase.UserID,
			PromoCodeID:    minted.ID,
			Code:           minted.Code,
			Tier:           minted.Tier,
			UsageLimit:     minted.UsageLimit,
			MintedAt:       now,
		})
		if err != nil {
			return err
		}
		_, err = repos.Outbox().Enqueue(ctx, msg)
		return err
	})
	if errors.Is(err, errDuplicate) {
		r.metrics.PaymentReconciled("duplicate")
		return outcome, nil
	}
	if err != nil {
		r.metrics.PaymentReconciled("error")
		// оплата прошла, код не выпущен; повторная доставка вебхука повторит выпуск
		r.anomaly(metrics.AnomalyGiftMintFailed, logger.WithError(err), "gift code mint failed after successful payment")
		return outcome, fmt.Errorf("apply gift payment: %w", err)
	}

	r.metrics.PaymentReconciled("paid")
	r.metrics.GiftCodeMinted()
	logger.WithFields(log.Fields{"promo_code_id": minted.ID, "tier": minted.Tier}).Info("gift code minted")

	outcome.Applied = true
	outcome.MintedCode = minted.Code
	return outcome, nil
}
