package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

const (
	insertOrderQuery = `INSERT INTO orders (id, customer_id, order_date) VALUES ($1, $2, $3)`

	// Позиции пишутся одним запросом: pgx передаёт срезы Go как массивы PostgreSQL.
	insertItemsQuery = `
		INSERT INTO order_items (order_id, position, product_id, quantity)
		SELECT $1, t.position, t.product_id, t.quantity
		FROM unnest($2::int[], $3::text[], $4::int[]) AS t(position, product_id, quantity)`

	selectOrderQuery = `
		SELECT o.id, o.customer_id, o.order_date, i.product_id, i.quantity
		FROM orders o
		LEFT JOIN order_items i ON i.order_id = o.id
		WHERE o.id = $1
		ORDER BY i.position`

	// LIMIT NULL в PostgreSQL означает "без ограничения".
	selectCustomerOrdersQuery = `
		WITH picked AS (
			SELECT id, customer_id, order_date
			FROM orders
			WHERE customer_id = $1
			ORDER BY order_date DESC, id DESC
			LIMIT $2
		)
		SELECT p.id, p.customer_id, p.order_date, i.product_id, i.quantity
		FROM picked p
		LEFT JOIN order_items i ON i.order_id = p.id
		ORDER BY p.order_date DESC, p.id DESC, i.position`
)

// OrderRepository хранит заказы в таблицах orders и order_items.
// Save в той же транзакции пишет событие order.created в outbox_messages.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.DB(), now: time.Now}
}

func (r *OrderRepository) Save(ctx context.Context, order domain.Order) (err error) {
	event, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", order.ID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insertOrderQuery, order.ID, order.CustomerID, order.OrderDate.UTC()); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderAlreadyExists, order.ID)
		}
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	if len(order.Items) > 0 {
		positions := make([]int32, len(order.Items))
		products := make([]string, len(order.Items))
		quantities := make([]int32, len(order.Items))
		for i, item := range order.Items {
			positions[i] = int32(i)
			products[i] = item.ProductID
			quantities[i] = item.Quantity
		}
		if _, err = tx.ExecContext(ctx, insertItemsQuery, order.ID, positions, products, quantities); err != nil {
			return fmt.Errorf("insert items of %s: %w", order.ID, err)
		}
	}

	if _, err = enqueueOutbox(ctx, tx, event, r.now()); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", order.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectOrderQuery, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

// ListByCustomer возвращает заказы клиента от новых к старым; limit<=0 снимает ограничение.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectCustomerOrdersQuery, customerID,
		sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", customerID, err)
	}
	return scanOrders(rows)
}

// scanOrders сворачивает строки "заказ x позиция" в заказы, сохраняя порядок строк.
// У заказа без позиций product_id и quantity приходят NULL.
func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order    domain.Order
			product  sql.NullString
			quantity sql.NullInt32
		)
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.OrderDate, &product, &quantity); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		last := len(orders) - 1
		if last < 0 || orders[last].ID != order.ID {
			order.OrderDate = order.OrderDate.UTC()
			order.Items = make([]domain.OrderItem, 0, 1)
			orders = append(orders, order)
			last++
		}
		if product.Valid {
			orders[last].Items = append(orders[last].Items, domain.OrderItem{
				ProductID: product.String,
				Quantity:  quantity.Int32,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
