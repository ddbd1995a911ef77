package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-assistant/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that uses the given pool or
// transaction.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order header and one row per item. It must run inside
// a transaction for the insert to be atomic.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if err := r.db.QueryRow(ctx,
		`INSERT INTO orders (user_id, total, status) VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		o.UserID, o.Total, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt); err != nil {
		return errors.Wrap(err, "insert order")
	}

	for _, it := range o.Items {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Quantity, it.Price,
		); err != nil {
			return errors.Wrapf(err, "insert item %d of order %d", it.ProductID, o.ID)
		}
	}
	return nil
}

// GetByID returns order.ErrNotFound when no order has the given ID.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, created_at, total, status FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.UserID, &o.CreatedAt, &o.Total, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	o.Status = order.Status(status)

	rows, err := r.db.Query(ctx,
		`SELECT oi.product_id, p.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`,
		id,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of order %d", id)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan order items")
	}
	return &o, nil
}
