package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

// OrderRepository хранит заказы в памяти процесса: для локальной разработки и тестов.
// Если передан outbox, Save ставит событие order.created в очередь вместе с заказом.
type OrderRepository struct {
	mu     sync.RWMutex
	items  map[string]domain.Order
	outbox domain.OutboxRepository
}

// NewOrderRepository возвращает in-memory репозиторий. outbox может быть nil.
func NewOrderRepository(outbox domain.OutboxRepository) *OrderRepository {
	return &OrderRepository{
		items:  make(map[string]domain.Order),
		outbox: outbox,
	}
}

// Save сохраняет новый заказ, если ID ещё не занят.
func (r *OrderRepository) Save(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg domain.OutboxMessage
	if r.outbox != nil {
		var err error
		if msg, err = domain.NewOrderCreatedMessage(order); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию позиций, чтобы избежать мутаций извне.
	order.Items = slices.Clone(order.Items)

	if r.outbox != nil {
		if _, err := r.outbox.Enqueue(msg); err != nil {
			return err
		}
	}
	r.items[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = slices.Clone(order.Items)
	return order, nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		order.Items = slices.Clone(order.Items)
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].OrderDate.Equal(result[j].OrderDate) {
			return result[i].OrderDate.After(result[j].OrderDate)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Len возвращает количество сохранённых заказов.
func (r *OrderRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Ping всегда успешен для живого ctx: in-memory хранилище не теряет соединение.
func (r *OrderRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
