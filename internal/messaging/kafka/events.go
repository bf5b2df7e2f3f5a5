package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

const (
	TopicOrderEvents     = "orderproc.order.events"
	TopicDeadLetterQueue = "orderproc.dlq"
)

const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	// HeaderOriginalTopic ставится на записи DLQ: куда событие должно было уйти.
	HeaderOriginalTopic = "x-original-topic"
)

// Envelope — JSON-значение записи Kafka для outbox-события.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает событие; пустой payload становится {}.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	env := Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(`{}`),
		PublishedAt:   publishedAt.UTC(),
	}
	if len(msg.Payload) > 0 {
		env.Payload = json.RawMessage(msg.Payload)
	}
	return env
}

// Message восстанавливает outbox-событие из конверта.
func (e Envelope) Message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}

// MessageKey партиционирует по заказу, чтобы события одного заказа шли по порядку.
func MessageKey(msg domain.OutboxMessage) string {
	if msg.AggregateID == "" {
		return msg.ID
	}
	return msg.AggregateID
}
