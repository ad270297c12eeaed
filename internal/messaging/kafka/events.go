package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "printshop.order.events"
	TopicDeadLetterQueue = "printshop.order.events.dlq"
)

// Заголовки сообщений: по ним потребители фильтруют события без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderReplayedFrom  = "x-replayed-from"
)

// Envelope — формат сообщения в топике событий заказа.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox. Пустой payload заменяется на {}.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// Key — ключ партиционирования: все события агрегата попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// DeadLetter — запись DLQ, которую пишет outbox worker после исчерпания попыток.
type DeadLetter = domain.DeadLetter

// DecodeDeadLetter извлекает исходное сообщение outbox из значения DLQ-топика.
// DLQ-запись сама приходит в Envelope, её тело лежит в payload.
func DecodeDeadLetter(value []byte) (DeadLetter, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	var record DeadLetter
	if err := json.Unmarshal(envelope.Payload, &record); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dlq record: %w", err)
	}
	if record.OutboxID == "" {
		record.OutboxID = envelope.ID
	}
	if record.OutboxID == "" || record.EventType == "" {
		return DeadLetter{}, fmt.Errorf("dlq record %q has no outbox id or event type", envelope.ID)
	}
	return record, nil
}
