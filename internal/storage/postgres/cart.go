package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-assistant/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db DB
}

// NewCartRepository returns a CartRepository that uses the given pool or
// transaction.
func NewCartRepository(db DB) *CartRepository {
	return &CartRepository{db: db}
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var c cart.Cart
	err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt)
	return c, err
}

func (r *CartRepository) findByUser(ctx context.Context, userID int64, lock bool) (*cart.Cart, error) {
	q := `SELECT id, user_id, created_at FROM carts WHERE user_id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "find cart of user %d", userID)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find cart of user %d", userID)
	}
	return &c, nil
}

// FindByUser returns cart.ErrNotFound when the user has no cart.
func (r *CartRepository) FindByUser(ctx context.Context, userID int64) (*cart.Cart, error) {
	return r.findByUser(ctx, userID, false)
}

// LockByUser selects the user's cart FOR UPDATE.
func (r *CartRepository) LockByUser(ctx context.Context, userID int64) (*cart.Cart, error) {
	return r.findByUser(ctx, userID, true)
}

// GetOrCreate relies on the UNIQUE(user_id) constraint: a concurrent insert
// blocks until the other transaction finishes and then does nothing. The cart
// row is returned locked so item writes serialize with a running checkout.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID int64) (*cart.Cart, error) {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, errors.Wrapf(err, "create cart of user %d", userID)
	}
	return r.findByUser(ctx, userID, true)
}

// AddItem inserts the product or merges quantity into the existing entry.
func (r *CartRepository) AddItem(ctx context.Context, cartID, productID int64, quantity int) (cart.Item, error) {
	var it cart.Item
	err := r.db.QueryRow(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING product_id, quantity`,
		cartID, productID, quantity,
	).Scan(&it.ProductID, &it.Quantity)
	if err != nil {
		return cart.Item{}, errors.Wrapf(err, "add product %d to cart %d", productID, cartID)
	}
	return it, nil
}

// Items returns the cart entries in insertion order.
func (r *CartRepository) Items(ctx context.Context, cartID int64) ([]cart.Item, error) {
	rows, err := r.db.Query(ctx,
		`SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY id`,
		cartID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of cart %d", cartID)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan cart items")
	}
	return items, nil
}

// Lines returns the cart entries joined with current product name and price.
func (r *CartRepository) Lines(ctx context.Context, cartID int64) ([]cart.Line, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ci.product_id, p.name, ci.quantity, p.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`,
		cartID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of cart %d", cartID)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.Price)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan cart lines")
	}
	return lines, nil
}

// Clear deletes every entry of the cart.
func (r *CartRepository) Clear(ctx context.Context, cartID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return errors.Wrapf(err, "clear cart %d", cartID)
	}
	return nil
}
