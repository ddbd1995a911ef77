package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-assistant/internal/domain/cart"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/order"
)

var (
	_ catalog.Repository = (*catalogRepo)(nil)
	_ cart.Repository    = (*cartRepo)(nil)
	_ order.Repository   = (*orderRepo)(nil)
)

type catalogRepo struct {
	do access
}

func (r *catalogRepo) List(_ context.Context) ([]catalog.Product, error) {
	var out []catalog.Product
	err := r.do(func(st *state) error {
		out = slices.SortedFunc(maps.Values(st.products), byID(productID))
		return nil
	})
	return out, err
}

func (r *catalogRepo) GetByID(_ context.Context, id int64) (*catalog.Product, error) {
	var out *catalog.Product
	err := r.do(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return catalog.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *catalogRepo) Search(_ context.Context, query string) ([]catalog.Product, error) {
	query = strings.ToLower(query)
	out := []catalog.Product{}
	err := r.do(func(st *state) error {
		for _, p := range st.products {
			if strings.Contains(strings.ToLower(p.Name), query) {
				out = append(out, p)
			}
		}
		slices.SortFunc(out, byID(productID))
		return nil
	})
	return out, err
}

func (r *catalogRepo) LockByIDs(_ context.Context, ids []int64) ([]catalog.Product, error) {
	var out []catalog.Product
	err := r.do(func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out = append(out, p)
			}
		}
		slices.SortFunc(out, byID(productID))
		return nil
	})
	return out, err
}

func (r *catalogRepo) DecrementStock(_ context.Context, id int64, quantity int) error {
	return r.do(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return catalog.ErrNotFound
		}
		if p.Stock < quantity {
			return catalog.ErrOutOfStock
		}
		p.Stock -= quantity
		st.products[id] = p
		return nil
	})
}

type cartRepo struct {
	do  access
	now func() time.Time
}

func (r *cartRepo) FindByUser(_ context.Context, userID int64) (*cart.Cart, error) {
	var out *cart.Cart
	err := r.do(func(st *state) error {
		id, ok := st.cartByUser[userID]
		if !ok {
			return cart.ErrNotFound
		}
		c := st.carts[id]
		out = &c
		return nil
	})
	return out, err
}

// LockByUser is FindByUser: transactions already hold the store lock.
func (r *cartRepo) LockByUser(ctx context.Context, userID int64) (*cart.Cart, error) {
	return r.FindByUser(ctx, userID)
}

func (r *cartRepo) GetOrCreate(_ context.Context, userID int64) (*cart.Cart, error) {
	var out *cart.Cart
	err := r.do(func(st *state) error {
		if id, ok := st.cartByUser[userID]; ok {
			c := st.carts[id]
			out = &c
			return nil
		}
		st.lastCart++
		c := cart.Cart{ID: st.lastCart, UserID: userID, CreatedAt: r.now().UTC()}
		st.carts[c.ID] = c
		st.cartByUser[userID] = c.ID
		out = &c
		return nil
	})
	return out, err
}

func (r *cartRepo) AddItem(_ context.Context, cartID, productID int64, quantity int) (cart.Item, error) {
	var out cart.Item
	err := r.do(func(st *state) error {
		if _, ok := st.carts[cartID]; !ok {
			return errors.Errorf("cart %d does not exist", cartID)
		}
		if _, ok := st.products[productID]; !ok {
			return errors.Errorf("product %d does not exist", productID)
		}
		items := st.items[cartID]
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity += quantity
				out = items[i]
				return nil
			}
		}
		out = cart.Item{ProductID: productID, Quantity: quantity}
		st.items[cartID] = append(items, out)
		return nil
	})
	return out, err
}

func (r *cartRepo) Items(_ context.Context, cartID int64) ([]cart.Item, error) {
	var out []cart.Item
	err := r.do(func(st *state) error {
		out = slices.Clone(st.items[cartID])
		return nil
	})
	return out, err
}

func (r *cartRepo) Lines(_ context.Context, cartID int64) ([]cart.Line, error) {
	var out []cart.Line
	err := r.do(func(st *state) error {
		for _, it := range st.items[cartID] {
			p := st.products[it.ProductID]
			out = append(out, cart.Line{
				ProductID: it.ProductID,
				Name:      p.Name,
				Quantity:  it.Quantity,
				Price:     p.Price,
			})
		}
		return nil
	})
	return out, err
}

func (r *cartRepo) Clear(_ context.Context, cartID int64) error {
	return r.do(func(st *state) error {
		delete(st.items, cartID)
		return nil
	})
}

type orderRepo struct {
	do  access
	now func() time.Time
}

func (r *orderRepo) Create(_ context.Context, o *order.Order) error {
	return r.do(func(st *state) error {
		st.lastOrder++
		o.ID = st.lastOrder
		o.CreatedAt = r.now().UTC()
		stored := *o
		stored.Items = slices.Clone(o.Items)
		st.orders[o.ID] = stored
		return nil
	})
}

func (r *orderRepo) GetByID(_ context.Context, id int64) (*order.Order, error) {
	var out *order.Order
	err := r.do(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		o.Items = slices.Clone(o.Items)
		out = &o
		return nil
	})
	return out, err
}
