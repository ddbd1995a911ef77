// Package commerce implements the shopping operations the assistant can
// invoke: catalog queries, cart management, checkout and order lookup.
package commerce

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-assistant/internal/domain/cart"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/order"
)

// AddToCartResult describes the cart entry after a successful add.
type AddToCartResult struct {
	CartID  int64
	Product catalog.Product
	// Added is the quantity of this request, Quantity the merged total.
	Added    int
	Quantity int
}

// CartView is a read-only snapshot of a user's cart.
type CartView struct {
	CartID int64
	Lines  []cart.Line
	Total  decimal.Decimal
}

// Empty reports whether there is nothing to check out.
func (v *CartView) Empty() bool {
	return len(v.Lines) == 0
}

// Service encapsulates the commerce business logic on top of a Store.
type Service struct {
	store  Store
	events Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the receiver of committed orders.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// NewService creates a commerce Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: nopPublisher{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListProducts returns the whole catalog.
func (s *Service) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	products, err := s.store.Repositories().Catalog.List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list products", Err: err}
	}
	return products, nil
}

// ProductDetails returns a single product.
func (s *Service) ProductDetails(ctx context.Context, productID int64) (*catalog.Product, error) {
	p, err := s.store.Repositories().Catalog.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, &StorageError{Op: "get product", Err: err}
	}
	return p, nil
}

// SearchProducts returns products whose name contains query, ignoring case.
// No match is an empty result, not an error.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]catalog.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	products, err := s.store.Repositories().Catalog.Search(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "search products", Err: err}
	}
	if products == nil {
		products = []catalog.Product{}
	}
	return products, nil
}

// AddToCart puts quantity units of a product into the user's cart, creating
// the cart on first use. The stock check is optimistic: nothing is reserved
// and Checkout validates again.
func (s *Service) AddToCart(ctx context.Context, userID, productID int64, quantity int) (*AddToCartResult, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.ProductDetails(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.InStock(quantity) {
		return nil, &InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Requested: quantity,
			Available: p.Stock,
		}
	}

	res := &AddToCartResult{Product: *p, Added: quantity}
	if err := s.store.WithinTx(ctx, func(ctx context.Context, r Repositories) error {
		c, err := r.Carts.GetOrCreate(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "get or create cart")
		}
		item, err := r.Carts.AddItem(ctx, c.ID, p.ID, quantity)
		if err != nil {
			return errors.Wrap(err, "add item")
		}
		res.CartID = c.ID
		res.Quantity = item.Quantity
		return nil
	}); err != nil {
		return nil, &StorageError{Op: "add to cart", Err: err}
	}

	return res, nil
}

// ViewCart returns the user's cart lines and total. A missing cart is
// reported as an empty view.
func (s *Service) ViewCart(ctx context.Context, userID int64) (*CartView, error) {
	carts := s.store.Repositories().Carts

	c, err := carts.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return &CartView{Lines: []cart.Line{}, Total: decimal.Zero}, nil
		}
		return nil, &StorageError{Op: "view cart", Err: err}
	}

	lines, err := carts.Lines(ctx, c.ID)
	if err != nil {
		return nil, &StorageError{Op: "view cart", Err: err}
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	if lines == nil {
		lines = []cart.Line{}
	}
	return &CartView{CartID: c.ID, Lines: lines, Total: total.Round(2)}, nil
}

// Checkout converts the user's cart into an order. Either the order is
// created, stock is decremented and the cart is emptied, or nothing changes.
func (s *Service) Checkout(ctx context.Context, userID int64) (*order.Order, error) {
	var placed *order.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, r Repositories) error {
		c, err := r.Carts.LockByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, cart.ErrNotFound) {
				return ErrNoCart
			}
			return errors.Wrap(err, "lock cart")
		}

		items, err := r.Carts.Items(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "cart items")
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		// Lock in ascending ID order so concurrent checkouts cannot deadlock.
		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductID)
		}
		slices.Sort(ids)
		ids = slices.Compact(ids)

		locked, err := r.Catalog.LockByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "lock products")
		}
		products := make(map[int64]catalog.Product, len(locked))
		for _, p := range locked {
			products[p.ID] = p
		}

		o := &order.Order{
			UserID: userID,
			Status: order.StatusProcessing,
			Items:  make([]order.Item, 0, len(items)),
		}
		total := decimal.Zero
		for _, it := range items {
			p, ok := products[it.ProductID]
			if !ok {
				return &ProductNotFoundError{ProductID: it.ProductID}
			}
			if !p.InStock(it.Quantity) {
				return &InsufficientStockError{
					ProductID: p.ID,
					Name:      p.Name,
					Requested: it.Quantity,
					Available: p.Stock,
				}
			}
			line := order.Item{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  it.Quantity,
				Price:     p.Price,
			}
			total = total.Add(line.Subtotal())
			o.Items = append(o.Items, line)
		}
		o.Total = total.Round(2)

		if err := r.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		for _, line := range o.Items {
			if err := r.Catalog.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, catalog.ErrOutOfStock) {
					return &InsufficientStockError{
						ProductID: line.ProductID,
						Name:      line.Name,
						Requested: line.Quantity,
						Available: products[line.ProductID].Stock,
					}
				}
				return errors.Wrapf(err, "decrement stock of %d", line.ProductID)
			}
		}
		if err := r.Carts.Clear(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		placed = o
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, &StorageError{Op: "checkout", Err: err}
	}

	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.Int64("order_id", placed.ID),
		zap.Int64("user_id", userID),
		zap.Stringer("total", placed.Total),
	)
	if err := s.events.OrderPlaced(ctx, placed); err != nil {
		lg.Warn("Publish order placed", zap.Int64("order_id", placed.ID), zap.Error(err))
	}

	return placed, nil
}

// GetOrderStatus returns an order with its items.
func (s *Service) GetOrderStatus(ctx context.Context, orderID int64) (*order.Order, error) {
	o, err := s.store.Repositories().Orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, &OrderNotFoundError{OrderID: orderID}
		}
		return nil, &StorageError{Op: "get order", Err: err}
	}
	return o, nil
}
