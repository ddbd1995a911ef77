package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-assistant/internal/domain/cart"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
	"github.com/xenking/kart-assistant/internal/domain/order"
)

var productCols = []string{"id", "name", "description", "price", "stock"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestCatalogRepository_List(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(q("FROM products ORDER BY id")).
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow(int64(1), "Laptop", "13 inch", decimal.RequireFromString("750.00"), 10).
			AddRow(int64(2), "Smartphone", "", decimal.RequireFromString("500.00"), 25))

	products, err := NewCatalogRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Laptop", products[0].Name)
	assert.Equal(t, 25, products[1].Stock)
	assert.True(t, decimal.RequireFromString("500").Equal(products[1].Price))
}

func TestCatalogRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(q("FROM products WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(productCols))

	_, err := NewCatalogRepository(mock).GetByID(context.Background(), 42)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalogRepository_GetByID_QueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(q("FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err := NewCatalogRepository(mock).GetByID(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, catalog.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCatalogRepository_Search_EscapesPattern(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(q("name ILIKE")).
		WithArgs(`50\%\_off`).
		WillReturnRows(pgxmock.NewRows(productCols))

	products, err := NewCatalogRepository(mock).Search(context.Background(), "50%_off")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCatalogRepository_DecrementStock(t *testing.T) {
	tests := []struct {
		name    string
		updated int64
		wantErr error
	}{
		{name: "enough stock", updated: 1},
		{name: "out of stock", updated: 0, wantErr: catalog.ErrOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(q("UPDATE products SET stock = stock - $2")).
				WithArgs(int64(3), 2).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.updated))

			err := NewCatalogRepository(mock).DecrementStock(context.Background(), 3, 2)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCartRepository_GetOrCreate(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(q("INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING")).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(q("FROM carts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "created_at"}).
			AddRow(int64(11), int64(7), created))

	c, err := NewCartRepository(mock).GetOrCreate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, &cart.Cart{ID: 11, UserID: 7, CreatedAt: created}, c)
}

func TestCartRepository_AddItem_Merges(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(q("DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity")).
		WithArgs(int64(11), int64(3), 3).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "quantity"}).AddRow(int64(3), 5))

	it, err := NewCartRepository(mock).AddItem(context.Background(), 11, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, cart.Item{ProductID: 3, Quantity: 5}, it)
}

func TestOrderRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "created_at", "total", "status"}).
			AddRow(int64(9), int64(1), created, decimal.RequireFromString("100.00"), "Processing"))
	mock.ExpectQuery(q("FROM order_items oi")).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "name", "quantity", "price"}).
			AddRow(int64(3), "Headphones", 2, decimal.RequireFromString("50.00")))

	o, err := NewOrderRepository(mock).GetByID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Headphones", o.Items[0].Name)
	assert.Equal(t, "100.00", o.Items[0].Subtotal().StringFixed(2))
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "created_at", "total", "status"}))

	_, err := NewOrderRepository(mock).GetByID(context.Background(), 404)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestStore_WithinTx_Commit(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM cart_items WHERE cart_id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	err := NewStore(mock).WithinTx(context.Background(), func(ctx context.Context, r commerce.Repositories) error {
		return r.Carts.Clear(ctx, 5)
	})
	require.NoError(t, err)
}

func TestStore_WithinTx_RollbackKeepsError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := NewStore(mock).WithinTx(context.Background(), func(context.Context, commerce.Repositories) error {
		return commerce.ErrEmptyCart
	})
	require.ErrorIs(t, err, commerce.ErrEmptyCart)
}

func TestStore_WithinTx_BeginFails(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := NewStore(mock).WithinTx(context.Background(), func(context.Context, commerce.Repositories) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

// TestCheckout_RollsBackOnInsertFailure drives the commerce service against
// the mock to verify the whole checkout runs in one transaction.
func TestCheckout_RollsBackOnInsertFailure(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM carts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "created_at"}).
			AddRow(int64(10), int64(1), created))
	mock.ExpectQuery(q("SELECT product_id, quantity FROM cart_items")).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "quantity"}).AddRow(int64(3), 2))
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs([]int64{3}).
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow(int64(3), "Headphones", "", decimal.RequireFromString("50.00"), 5))
	mock.ExpectQuery(q("INSERT INTO orders")).
		WithArgs(int64(1), pgxmock.AnyArg(), "Processing").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	svc := commerce.NewService(NewStore(mock))
	_, err := svc.Checkout(context.Background(), 1)

	var storageErr *commerce.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, commerce.KindStorage, commerce.KindOf(err))
}
