package commerce

import (
	"context"

	"github.com/xenking/kart-assistant/internal/domain/cart"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/order"
)

// Repositories groups the stores the commerce operations work with. Inside
// Store.WithinTx all three share one transaction.
type Repositories struct {
	Catalog catalog.Repository
	Carts   cart.Repository
	Orders  order.Repository
}

// Store is the persistence boundary of the commerce operations.
type Store interface {
	// Repositories returns repositories for reads outside a transaction.
	Repositories() Repositories
	// WithinTx runs fn in a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise; fn's error is returned as is.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}

// Publisher receives orders after their checkout transaction committed.
type Publisher interface {
	OrderPlaced(ctx context.Context, o *order.Order) error
}

type nopPublisher struct{}

func (nopPublisher) OrderPlaced(context.Context, *order.Order) error { return nil }
