package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/payments/stripe"
	"github.com/vladislavdragonenkov/printshop/internal/printprovider"
	"github.com/vladislavdragonenkov/printshop/internal/service/fulfillment"
)

const (
	sourceStripe      = "stripe"
	sourceFulfillment = "fulfillment"

	maxWebhookBody = 1 << 20
)

type ackResponse struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

func (h *handlers) ack(w http.ResponseWriter, source, result string) {
	h.metrics.Webhook(source, result)
	writeJSON(w, http.StatusOK, ackResponse{Received: true, Result: result})
}

func (h *handlers) readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeAPIError(r.Context(), w, newAPIError("invalid_body", "webhook body could not be read", http.StatusBadRequest))
		return nil, false
	}
	return body, true
}

// markNew — быстрый фильтр дубликатов. Ошибка хранилища не блокирует обработку:
// условные переходы в хранилище всё равно не дадут применить событие дважды.
func (h *handlers) markNew(ctx context.Context, source, eventID string) bool {
	if h.dedup == nil {
		return true
	}
	fresh, err := h.dedup.MarkNew(ctx, source, eventID)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"source": source, "provider_event_id": eventID}).
			Warn("webhook dedup store unavailable")
		return true
	}
	return fresh
}

func (h *handlers) forget(ctx context.Context, source, eventID string) {
	if h.dedup == nil {
		return
	}
	if err := h.dedup.Forget(context.WithoutCancel(ctx), source, eventID); err != nil {
		h.logger.WithError(err).WithField("provider_event_id", eventID).Warn("failed to forget webhook event")
	}
}

// stripeWebhook проверяет подпись до разбора тела. Неизвестные типы событий подтверждаются
// и игнорируются; 400 только при ошибке подписи.
func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := h.readWebhookBody(w, r)
	if !ok {
		return
	}
	if h.payment == nil {
		writeAPIError(ctx, w, newAPIError("webhook_unavailable", "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}

	event, err := h.payment.Verify(body, r.Header.Get(stripe.SignatureHeader))
	if err != nil {
		h.metrics.Webhook(sourceStripe, "invalid")
		h.logger.WithError(err).Warn("rejected payment webhook")
		writeAPIError(ctx, w, errorFor(err))
		return
	}
	if !event.PaymentConfirmed {
		h.ack(w, sourceStripe, "ignored")
		return
	}
	if !h.markNew(ctx, sourceStripe, event.ID) {
		h.ack(w, sourceStripe, "duplicate")
		return
	}

	logger := h.logger.WithFields(log.Fields{"provider_event_id": event.ID, "session_id": event.SessionID})
	outcome, err := h.svc.Reconciler.OnPaymentConfirmed(ctx, event.SessionID)
	if err != nil {
		// отметку снимаем всегда: повторная доставка после ошибки должна дойти до сверки
		h.forget(ctx, sourceStripe, event.ID)
		if domain.IsPermanentReconcileError(err) {
			logger.WithError(err).Warn("payment webhook not applied")
			h.ack(w, sourceStripe, "rejected")
			return
		}
		h.metrics.Webhook(sourceStripe, "error")
		writeError(ctx, w, logger, err)
		return
	}

	logger.WithFields(log.Fields{
		"subject":    outcome.Subject,
		"subject_id": outcome.SubjectID,
		"applied":    outcome.Applied,
	}).Info("payment webhook processed")
	h.ack(w, sourceStripe, "processed")
}

// fulfillmentWebhook записывает событие исполнения в журнал. Типы, не относящиеся
// к исполнению, и события неизвестных заказов подтверждаются без записи.
func (h *handlers) fulfillmentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := h.readWebhookBody(w, r)
	if !ok {
		return
	}

	event, err := printprovider.ParseWebhook(h.fwhSec, body, r.Header.Get(printprovider.SignatureHeader))
	if err != nil {
		h.metrics.Webhook(sourceFulfillment, "invalid")
		h.logger.WithError(err).Warn("rejected fulfillment webhook")
		writeAPIError(ctx, w, errorFor(err))
		return
	}
	if event.Kind == "" || event.OrderID == "" {
		h.ack(w, sourceFulfillment, "ignored")
		return
	}
	if !h.markNew(ctx, sourceFulfillment, event.ProviderEventID) {
		h.ack(w, sourceFulfillment, "duplicate")
		return
	}

	logger := h.logger.WithFields(log.Fields{
		"order_id":          event.OrderID,
		"event_kind":        event.Kind,
		"provider_event_id": event.ProviderEventID,
	})
	recorded, err := h.svc.Events.Record(ctx, fulfillment.RecordRequest{
		OrderID:         event.OrderID,
		Kind:            event.Kind,
		ProviderEventID: event.ProviderEventID,
		Payload:         event.Raw,
		OccurredAt:      event.OccurredAt,
	})
	if err != nil {
		h.forget(ctx, sourceFulfillment, event.ProviderEventID)
		if errors.Is(err, domain.ErrOrderNotFound) || domain.KindOf(err) == domain.KindValidation {
			logger.WithError(err).Warn("fulfillment webhook not recorded")
			h.ack(w, sourceFulfillment, "rejected")
			return
		}
		h.metrics.Webhook(sourceFulfillment, "error")
		writeError(ctx, w, logger, err)
		return
	}

	result := "processed"
	if !recorded {
		result = "duplicate"
	}
	h.ack(w, sourceFulfillment, result)
}
