package domain

import (
	"slices"
	"time"
)

// DeliveryWindow задаёт срок, через который заказ ожидается у клиента.
const DeliveryWindow = 3 * 24 * time.Hour

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ProductID — внешний идентификатор товара.
	ProductID string `json:"product_id"`
	// Quantity — количество единиц товара. Ядро не проверяет значение,
	// это задача валидатора.
	Quantity int32 `json:"quantity"`
}

// OrderRequest — входящий запрос на оформление заказа.
type OrderRequest struct {
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
}

// Order — заказ, созданный процессором и переданный в хранилище.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	// OrderDate фиксирует момент создания заказа (UTC).
	OrderDate time.Time
}

// OrderConfirmation возвращается клиенту после успешного сохранения заказа.
type OrderConfirmation struct {
	OrderID           string    `json:"order_id"`
	TrackingNumber    string    `json:"tracking_number"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

// NewOrder собирает заказ из запроса. Позиции копируются, чтобы хранилище
// не разделяло срез с вызывающей стороной.
func NewOrder(id string, req OrderRequest, now time.Time) Order {
	return Order{
		ID:         id,
		CustomerID: req.CustomerID,
		Items:      slices.Clone(req.Items),
		OrderDate:  now.UTC(),
	}
}

// TotalQuantity возвращает суммарное количество единиц по всем позициям.
func (o Order) TotalQuantity() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Quantity)
	}
	return total
}
