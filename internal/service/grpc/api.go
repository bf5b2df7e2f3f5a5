package grpcsvc

import (
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

// OrderItem — позиция заказа на проводе.
type OrderItem struct {
	ProductID string
	Quantity  int32
}

// ProcessOrderRequest — запрос на оформление заказа.
type ProcessOrderRequest struct {
	CustomerID string
	Items      []*OrderItem
}

// ProcessOrderResponse — подтверждение оформленного заказа.
type ProcessOrderResponse struct {
	OrderID           string
	TrackingNumber    string
	EstimatedDelivery time.Time
}

// GetOrderRequest запрашивает заказ по идентификатору.
type GetOrderRequest struct {
	OrderID string
}

// GetOrderResponse содержит найденный заказ.
type GetOrderResponse struct {
	Order *Order
}

// ListOrdersRequest запрашивает заказы клиента, новые первыми.
type ListOrdersRequest struct {
	CustomerID string
	Limit      int32
}

// ListOrdersResponse содержит заказы клиента.
type ListOrdersResponse struct {
	Orders []*Order
}

// Order — сохранённый заказ на проводе. OrderDate идёт как google.protobuf.Timestamp.
type Order struct {
	ID            string
	CustomerID    string
	Items         []*OrderItem
	TotalQuantity int64
	OrderDate     time.Time
}

func (*OrderItem) messageName() protoreflect.Name { return "OrderItem" }

func (x *OrderItem) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setString(m, "product_id", x.ProductID)
	setInt(m, "quantity", int64(x.Quantity))
}

func (x *OrderItem) fromProto(m protoreflect.Message) {
	x.ProductID = getString(m, "product_id")
	x.Quantity = int32(getInt(m, "quantity"))
}

func (*ProcessOrderRequest) messageName() protoreflect.Name { return "ProcessOrderRequest" }

func (x *ProcessOrderRequest) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setString(m, "customer_id", x.CustomerID)
	setList(m, "items", x.Items)
}

func (x *ProcessOrderRequest) fromProto(m protoreflect.Message) {
	x.CustomerID = getString(m, "customer_id")
	x.Items = getList[OrderItem](m, "items")
}

func (*ProcessOrderResponse) messageName() protoreflect.Name { return "ProcessOrderResponse" }

func (x *ProcessOrderResponse) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setString(m, "order_id", x.OrderID)
	setString(m, "tracking_number", x.TrackingNumber)
	setTime(m, "estimated_delivery", x.EstimatedDelivery)
}

func (x *ProcessOrderResponse) fromProto(m protoreflect.Message) {
	x.OrderID = getString(m, "order_id")
	x.TrackingNumber = getString(m, "tracking_number")
	x.EstimatedDelivery = getTime(m, "estimated_delivery")
}

func (*GetOrderRequest) messageName() protoreflect.Name { return "GetOrderRequest" }

func (x *GetOrderRequest) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setString(m, "order_id", x.OrderID)
}

func (x *GetOrderRequest) fromProto(m protoreflect.Message) {
	x.OrderID = getString(m, "order_id")
}

func (*GetOrderResponse) messageName() protoreflect.Name { return "GetOrderResponse" }

func (x *GetOrderResponse) toProto(m protoreflect.Message) {
	if x == nil || x.Order == nil {
		return
	}
	x.Order.toProto(m.Mutable(fieldOf(m, "order")).Message())
}

func (x *GetOrderResponse) fromProto(m protoreflect.Message) {
	x.Order = nil
	if fd := fieldOf(m, "order"); m.Has(fd) {
		x.Order = new(Order)
		x.Order.fromProto(m.Get(fd).Message())
	}
}

func (*ListOrdersRequest) messageName() protoreflect.Name { return "ListOrdersRequest" }

func (x *ListOrdersRequest) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setString(m, "customer_id", x.CustomerID)
	setInt(m, "limit", int64(x.Limit))
}

func (x *ListOrdersRequest) fromProto(m protoreflect.Message) {
	x.CustomerID = getString(m, "customer_id")
	x.Limit = int32(getInt(m, "limit"))
}

func (*ListOrdersResponse) messageName() protoreflect.Name { return "ListOrdersResponse" }

func (x *ListOrdersResponse) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setList(m, "orders", x.Orders)
}

func (x *ListOrdersResponse) fromProto(m protoreflect.Message) {
	x.Orders = getList[Order](m, "orders")
}

func (*Order) messageName() protoreflect.Name { return "Order" }

func (x *Order) toProto(m protoreflect.Message) {
	if x == nil {
		return
	}
	setString(m, "id", x.ID)
	setString(m, "customer_id", x.CustomerID)
	setList(m, "items", x.Items)
	setInt(m, "total_quantity", x.TotalQuantity)
	setTime(m, "order_date", x.OrderDate)
}

func (x *Order) fromProto(m protoreflect.Message) {
	x.ID = getString(m, "id")
	x.CustomerID = getString(m, "customer_id")
	x.Items = getList[OrderItem](m, "items")
	x.TotalQuantity = getInt(m, "total_quantity")
	x.OrderDate = getTime(m, "order_date")
}

func toDomainRequest(req *ProcessOrderRequest) *domain.OrderRequest {
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item == nil {
			// nil-позиция превращается в пустую и будет отклонена валидатором.
			items = append(items, domain.OrderItem{})
			continue
		}
		items = append(items, domain.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return &domain.OrderRequest{CustomerID: req.CustomerID, Items: items}
}

func toWireOrder(order domain.Order) *Order {
	items := make([]*OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, &OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return &Order{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Items:         items,
		TotalQuantity: order.TotalQuantity(),
		OrderDate:     order.OrderDate.UTC(),
	}
}
