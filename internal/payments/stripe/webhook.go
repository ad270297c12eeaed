package stripe

import (
	"encoding/json"
	"fmt"
	"strings"

	gostripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// SignatureHeader — заголовок с подписью вебхука Stripe.
const SignatureHeader = "Stripe-Signature"

// WebhookEvent — проверенное событие Stripe.
type WebhookEvent struct {
	ID   string
	Type string
	// SessionID заполнен для событий checkout.session.*.
	SessionID string
	// PaymentConfirmed означает, что событие подтверждает оплату сессии.
	PaymentConfirmed bool
}

// WebhookVerifier проверяет подпись по сырому телу запроса до любого разбора payload.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier создаёт проверку с общим секретом endpoint'а.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: strings.TrimSpace(secret)}
}

// Verify проверяет подпись и разбирает событие. Ошибка подписи оборачивает ErrWebhookSignatureInvalid.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	if v.secret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret is not configured", domain.ErrWebhookSignatureInvalid)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", domain.ErrWebhookSignatureInvalid, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case gostripe.EventTypeCheckoutSessionCompleted, gostripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session gostripe.CheckoutSession
		if event.Data == nil || json.Unmarshal(event.Data.Raw, &session) != nil || session.ID == "" {
			return WebhookEvent{}, domain.NewValidationError("data.object", domain.ErrSessionIDRequired)
		}
		out.SessionID = session.ID
		// completed с отложенным методом оплаты ещё не означает списание: ждём async_payment_succeeded
		out.PaymentConfirmed = event.Type == gostripe.EventTypeCheckoutSessionAsyncPaymentSucceeded ||
			session.PaymentStatus != gostripe.CheckoutSessionPaymentStatusUnpaid
	}
	return out, nil
}
