// Package cart defines shopping carts and their storage contract.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a user has no cart yet.
var ErrNotFound = errors.New("cart not found")

// Cart is the single shopping cart of a user. It is created on the first add
// and never deleted, only emptied.
type Cart struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
}

// Item is one product entry in a cart.
type Item struct {
	ProductID int64
	Quantity  int
}

// Line is an item joined with the current product name and price.
type Line struct {
	ProductID int64
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns quantity multiplied by price.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Repository defines cart persistence operations.
type Repository interface {
	// FindByUser returns ErrNotFound if the user has no cart.
	FindByUser(ctx context.Context, userID int64) (*Cart, error)
	// LockByUser is FindByUser that also locks the cart row until the
	// surrounding transaction ends.
	LockByUser(ctx context.Context, userID int64) (*Cart, error)
	// GetOrCreate returns the user's cart, creating it exactly once even
	// under concurrent calls. Like LockByUser, the cart stays locked until
	// the surrounding transaction ends.
	GetOrCreate(ctx context.Context, userID int64) (*Cart, error)
	// AddItem inserts the product or adds quantity to the existing entry and
	// returns the resulting item.
	AddItem(ctx context.Context, cartID, productID int64, quantity int) (Item, error)
	// Items returns the cart entries in insertion order.
	Items(ctx context.Context, cartID int64) ([]Item, error)
	// Lines returns the cart entries joined with product data.
	Lines(ctx context.Context, cartID int64) ([]Line, error)
	// Clear removes all entries. The cart itself is kept.
	Clear(ctx context.Context, cartID int64) error
}
