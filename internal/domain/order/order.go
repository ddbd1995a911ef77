// Package order defines placed orders and their storage contract.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the fulfilment state of an order.
type Status string

// StatusProcessing is the status every new order starts in.
const StatusProcessing Status = "Processing"

// Order is an immutable record of a checkout. Only Status may change later.
type Order struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
	Total     decimal.Decimal
	Status    Status
	Items     []Item
}

// Item is an order line with the unit price captured at checkout.
type Item struct {
	ProductID int64
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns quantity multiplied by the captured price.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and its items, filling in ID and CreatedAt.
	Create(ctx context.Context, o *Order) error
	// GetByID returns the order with its items or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Order, error)
}
