package domain

import (
	"context"
	"time"
)

// Validator проверяет бизнес-правила запроса. Не должен изменять запрос.
type Validator interface {
	Validate(ctx context.Context, req OrderRequest) bool
}

// ValidatorFunc позволяет использовать обычную функцию как Validator.
type ValidatorFunc func(ctx context.Context, req OrderRequest) bool

// Validate вызывает f(ctx, req).
func (f ValidatorFunc) Validate(ctx context.Context, req OrderRequest) bool {
	return f(ctx, req)
}

// OrderStore сохраняет заказы. Save обязан вернуть ошибку, если заказ
// не был сохранён.
type OrderStore interface {
	Save(ctx context.Context, order Order) error
}

// OrderReader читает сохранённые заказы для транспортов.
type OrderReader interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; при limit<=0 ограничения нет.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// OrderRepository объединяет запись и чтение заказов.
type OrderRepository interface {
	OrderStore
	OrderReader
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

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

const (
	// AggregateTypeOrder — тип агрегата для outbox-сообщений заказа.
	AggregateTypeOrder = "order"
	// EventTypeOrderCreated — событие о новом сохранённом заказе.
	EventTypeOrderCreated = "order.created"
)
