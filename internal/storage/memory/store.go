// Package memory implements the commerce store in process memory.
//
// Transactions are serialized by a single mutex and rolled back by restoring
// a snapshot taken when the transaction began, which gives the same
// all-or-nothing and no-oversell guarantees as the PostgreSQL store.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xenking/kart-assistant/internal/domain/cart"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
	"github.com/xenking/kart-assistant/internal/domain/order"
)

var _ commerce.Store = (*Store)(nil)

type state struct {
	products   map[int64]catalog.Product
	carts      map[int64]cart.Cart
	cartByUser map[int64]int64
	items      map[int64][]cart.Item
	orders     map[int64]order.Order
	lastCart   int64
	lastOrder  int64
}

func (s *state) clone() *state {
	c := *s
	c.products = maps.Clone(s.products)
	c.carts = maps.Clone(s.carts)
	c.cartByUser = maps.Clone(s.cartByUser)
	c.items = make(map[int64][]cart.Item, len(s.items))
	for id, items := range s.items {
		c.items[id] = slices.Clone(items)
	}
	c.orders = make(map[int64]order.Order, len(s.orders))
	for id, o := range s.orders {
		o.Items = slices.Clone(o.Items)
		c.orders[id] = o
	}
	return &c
}

// access runs fn against the store state with the store mutex held.
type access func(fn func(st *state) error) error

// Store is an in-memory commerce.Store.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New creates a Store holding the given catalog.
func New(products ...catalog.Product) *Store {
	st := &state{
		products:   make(map[int64]catalog.Product, len(products)),
		carts:      make(map[int64]cart.Cart),
		cartByUser: make(map[int64]int64),
		items:      make(map[int64][]cart.Item),
		orders:     make(map[int64]order.Order),
	}
	s := &Store{st: st, now: time.Now}
	s.Upsert(products...)
	return s
}

func (s *Store) locked(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) repositories(do access) commerce.Repositories {
	return commerce.Repositories{
		Catalog: &catalogRepo{do: do},
		Carts:   &cartRepo{do: do, now: s.now},
		Orders:  &orderRepo{do: do, now: s.now},
	}
}

// Repositories implements commerce.Store. Each call locks the store on its own.
func (s *Store) Repositories() commerce.Repositories {
	return s.repositories(s.locked)
}

// WithinTx implements commerce.Store. Repositories passed to fn must not be
// used after fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r commerce.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	direct := func(fn func(st *state) error) error { return fn(s.st) }

	err := fn(ctx, s.repositories(direct))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

func byID[T any](id func(T) int64) func(a, b T) int {
	return func(a, b T) int {
		return cmp.Compare(id(a), id(b))
	}
}

func productID(p catalog.Product) int64 { return p.ID }

// Upsert inserts or replaces products by ID.
func (s *Store) Upsert(products ...catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.st.products[p.ID] = p
	}
}
