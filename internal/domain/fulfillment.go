package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// FulfillmentKind — вид события исполнения заказа.
type FulfillmentKind string

const (
	FulfillmentSubmitted    FulfillmentKind = "submitted"
	FulfillmentAccepted     FulfillmentKind = "accepted"
	FulfillmentInProduction FulfillmentKind = "in_production"
	FulfillmentShipped      FulfillmentKind = "shipped"
	FulfillmentDelivered    FulfillmentKind = "delivered"
	FulfillmentFailed       FulfillmentKind = "failed"
	FulfillmentCanceled     FulfillmentKind = "canceled"
)

// ParseFulfillmentKind сопоставляет тип уведомления провайдера с видом события.
// Второе значение false означает, что тип не относится к исполнению заказа.
func ParseFulfillmentKind(raw string) (FulfillmentKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "submitted", "order_created":
		return FulfillmentSubmitted, true
	case "accepted", "order_accepted":
		return FulfillmentAccepted, true
	case "in_production", "in-production", "order_in_production", "inprocess":
		return FulfillmentInProduction, true
	case "shipped", "package_shipped":
		return FulfillmentShipped, true
	case "delivered", "package_delivered":
		return FulfillmentDelivered, true
	case "failed", "order_failed":
		return FulfillmentFailed, true
	case "canceled", "cancelled", "order_canceled":
		return FulfillmentCanceled, true
	default:
		return "", false
	}
}

// FulfillmentEvent — неизменяемая запись журнала исполнения.
type FulfillmentEvent struct {
	ID      string
	OrderID string
	Kind    FulfillmentKind
	// ProviderEventID служит ключом дедупликации повторных доставок; может быть пустым.
	ProviderEventID string
	Payload         json.RawMessage
	OccurredAt      time.Time
	RecordedAt      time.Time
}

// Clone возвращает копию события.
func (e FulfillmentEvent) Clone() FulfillmentEvent {
	dst := e
	dst.Payload = append(json.RawMessage(nil), e.Payload...)
	return dst
}
