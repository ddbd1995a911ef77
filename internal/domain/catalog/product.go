// Package catalog defines the product catalog and its storage contract.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item available for purchase.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

// InStock reports whether quantity units can be taken from the current stock.
func (p Product) InStock(quantity int) bool {
	return p.Stock >= quantity
}

// Repository defines catalog persistence operations.
type Repository interface {
	// List returns every product ordered by ID.
	List(ctx context.Context) ([]Product, error)
	// GetByID returns ErrNotFound when no product matches.
	GetByID(ctx context.Context, id int64) (*Product, error)
	// Search matches query as a case-insensitive substring of the product name.
	Search(ctx context.Context, query string) ([]Product, error)
	// LockByIDs re-reads and locks the given products until the surrounding
	// transaction ends. Rows are locked in ascending ID order; missing IDs are
	// simply absent from the result.
	LockByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// DecrementStock takes quantity units from the product. It returns
	// ErrOutOfStock when the stock would become negative.
	DecrementStock(ctx context.Context, id int64, quantity int) error
}

// ErrOutOfStock is returned by DecrementStock when stock is insufficient.
var ErrOutOfStock = errors.New("stock would become negative")
