package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OrderCreatedPayload — тело события order.created в outbox.
type OrderCreatedPayload struct {
	OrderID       string      `json:"order_id"`
	CustomerID    string      `json:"customer_id"`
	Items         []OrderItem `json:"items"`
	TotalQuantity int64       `json:"total_quantity"`
	OrderDate     time.Time   `json:"order_date"`
}

// NewOrderCreatedMessage формирует outbox-сообщение для только что сохранённого заказа.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderCreatedPayload{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		Items:         order.Items,
		TotalQuantity: order.TotalQuantity(),
		OrderDate:     order.OrderDate,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order created payload: %w", err)
	}

	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     EventTypeOrderCreated,
		Payload:       payload,
	}, nil
}
