package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий, публикуемых через transactional outbox.
const (
	EventOrderCreated              = "order.created"
	EventOrderPaid                 = "order.paid"
	EventOrderFulfillmentSubmitted = "order.fulfillment_submitted"
	EventOrderFulfillmentUpdated   = "order.fulfillment_updated"
	EventGiftCodeMinted            = "giftcode.minted"
	EventPromoClaimRejected        = "promo.claim_rejected"
)

// Типы агрегатов в outbox.
const (
	AggregateOrder        = "order"
	AggregateGiftPurchase = "gift_purchase"
)

// OutboxStatus — состояние сообщения outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed — ретраи исчерпаны, сообщение ушло в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// DefaultOutboxBatch — размер выборки PullPending при limit <= 0.
const DefaultOutboxBatch = 100

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderEventPayload — тело событий order.*; заполняются только относящиеся к событию поля.
type OrderEventPayload struct {
	OrderID               string          `json:"orderId"`
	UserID                string          `json:"userId"`
	Status                OrderStatus     `json:"status"`
	Currency              string          `json:"currency,omitempty"`
	TotalMinor            int64           `json:"totalMinor"`
	DiscountMinor         int64           `json:"discountMinor,omitempty"`
	PromoCodeID           string          `json:"promoCodeId,omitempty"`
	PromoClaim            PromoClaimState `json:"promoClaim,omitempty"`
	SessionID             string          `json:"sessionId,omitempty"`
	ProviderFulfillmentID string          `json:"providerFulfillmentId,omitempty"`
	FulfillmentKind       FulfillmentKind `json:"fulfillmentKind,omitempty"`
	OccurredAt            time.Time       `json:"occurredAt"`
}

// GiftCodeMintedPayload — тело события giftcode.minted.
type GiftCodeMintedPayload struct {
	GiftPurchaseID string    `json:"giftPurchaseId"`
	UserID         string    `json:"userId"`
	PromoCodeID    string    `json:"promoCodeId"`
	Code           string    `json:"code"`
	Tier           string    `json:"tier"`
	UsageLimit     *int32    `json:"usageLimit"`
	MintedAt       time.Time `json:"mintedAt"`
}

// PromoClaimRejectedPayload — тело события promo.claim_rejected для ручного разбора.
type PromoClaimRejectedPayload struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	PromoCodeID   string    `json:"promoCodeId"`
	DiscountMinor int64     `json:"discountMinor"`
	SessionID     string    `json:"sessionId"`
	DetectedAt    time.Time `json:"detectedAt"`
}

// NewOutboxMessage сериализует payload в JSON и собирает сообщение outbox.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (OutboxMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// DeadLetter — запись DLQ: исходное сообщение outbox и причина, по которой оно не ушло.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

// NewDeadLetter фиксирует сообщение, для которого исчерпаны попытки публикации.
func NewDeadLetter(msg OutboxMessage, publishErr error, at time.Time) DeadLetter {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	reason := "unknown"
	if publishErr != nil {
		reason = publishErr.Error()
	}
	return DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   reason,
		DLQPublishedAt: at.UTC().Format(time.RFC3339Nano),
	}
}

// Envelope упаковывает запись в сообщение для DLQ-топика под тем же id и ключом агрегата.
func (d DeadLetter) Envelope() (OutboxMessage, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       raw,
	}, nil
}

// Message восстанавливает исходное сообщение outbox для повторной публикации.
func (d DeadLetter) Message() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}
