package kafka

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher has no producer")

// OutboxTopicPublisher реализует domain.OutboxPublisher поверх Producer.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	headers  map[string]string
	now      func() time.Time
}

// PublisherOption настраивает OutboxTopicPublisher.
type PublisherOption func(*OutboxTopicPublisher)

// WithOriginalTopic помечает записи заголовком HeaderOriginalTopic.
// Используется для DLQ, чтобы при разборе было видно исходный topic.
func WithOriginalTopic(topic string) PublisherOption {
	return func(p *OutboxTopicPublisher) {
		if topic != "" {
			p.headers[HeaderOriginalTopic] = topic
		}
	}
}

// NewOutboxPublisher пишет в topic; пустой topic заменяется на TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string, opts ...PublisherOption) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	p := &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		headers:  map[string]string{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

// Publish отправляет событие в Envelope с ключом MessageKey.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	headers := maps.Clone(p.headers)
	headers[HeaderEventType] = event.EventType
	headers[HeaderAggregateType] = event.AggregateType

	return p.producer.Send(ctx, Record{
		Topic:   p.topic,
		Key:     MessageKey(event),
		Value:   NewEnvelope(event, p.now()),
		Headers: headers,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
