package printprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// SignatureHeader — заголовок с HMAC-SHA256 (hex) от сырого тела вебхука.
const SignatureHeader = "X-Fulfillment-Signature"

// WebhookEvent — разобранное уведомление провайдера печати.
type WebhookEvent struct {
	Type string
	// Kind пуст, если тип не относится к исполнению заказа.
	Kind            domain.FulfillmentKind
	OrderID         string
	ProviderOrderID string
	ProviderEventID string
	OccurredAt      time.Time
	Raw             json.RawMessage
}

type webhookDTO struct {
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Order struct {
			ID         providerID `json:"id"`
			ExternalID string     `json:"external_id"`
		} `json:"order"`
	} `json:"data"`
}

// Sign вычисляет подпись тела; используется и провайдером, и тестами.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook проверяет подпись, затем разбирает тело. Событие без type считается некорректным.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	if strings.TrimSpace(secret) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret is not configured", domain.ErrWebhookSignatureInvalid)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: malformed signature", domain.ErrWebhookSignatureInvalid)
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(got, want) {
		return WebhookEvent{}, domain.ErrWebhookSignatureInvalid
	}

	var dto webhookDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return WebhookEvent{}, domain.NewValidationError("body", fmt.Errorf("malformed webhook payload: %w", err))
	}
	if strings.TrimSpace(dto.Type) == "" {
		return WebhookEvent{}, domain.NewValidationError("type", fmt.Errorf("webhook type is required"))
	}

	event := WebhookEvent{
		Type:            dto.Type,
		OrderID:         dto.Data.Order.ExternalID,
		ProviderOrderID: string(dto.Data.Order.ID),
		Raw:             json.RawMessage(body),
	}
	if kind, ok := domain.ParseFulfillmentKind(dto.Type); ok {
		event.Kind = kind
	}
	if dto.Created > 0 {
		event.OccurredAt = time.Unix(dto.Created, 0).UTC()
	}
	// повторная доставка провайдером меняет счётчик retries, но не type/order/created
	event.ProviderEventID = fmt.Sprintf("wh:%s:%s:%d", dto.Type, event.ProviderOrderID, dto.Created)
	return event, nil
}
