//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16",
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "kart",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, container.Terminate(terminateCtx))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/kart?sslmode=disable", host, port.Port())
}

func setupStore(ctx context.Context, t *testing.T, products ...catalog.Product) *Store {
	t.Helper()

	dsn := startPostgres(ctx, t)
	require.NoError(t, RunMigrations(ctx, dsn, zap.NewNop()))

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, NewCatalogRepository(pool).Upsert(ctx, products))
	return NewStore(pool)
}

func TestIntegration_ConcurrentCheckoutLastUnit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := setupStore(ctx, t, catalog.Product{
		ID: 1, Name: "Headphones", Price: decimal.NewFromInt(50), Stock: 1,
	})
	svc := commerce.NewService(store)

	for _, user := range []int64{1, 2} {
		_, err := svc.AddToCart(ctx, user, 1, 1)
		require.NoError(t, err)
	}

	results := make([]error, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, user := range []int64{1, 2} {
		g.Go(func() error {
			_, results[i] = svc.Checkout(gctx, user)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, short int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case commerce.KindOf(err) == commerce.KindInsufficientStock:
			short++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)

	p, err := svc.ProductDetails(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestIntegration_ConcurrentAddCreatesOneCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := setupStore(ctx, t, catalog.Product{
		ID: 1, Name: "Kindle Paperwhite", Price: decimal.NewFromInt(149), Stock: 100,
	})
	svc := commerce.NewService(store)

	const workers = 10
	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			_, err := svc.AddToCart(gctx, 42, 1, 2)
			return err
		})
	}
	require.NoError(t, g.Wait())

	view, err := svc.ViewCart(ctx, 42)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, workers*2, view.Lines[0].Quantity)
}

func TestIntegration_CheckoutAndOrderStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := setupStore(ctx, t,
		catalog.Product{ID: 1, Name: "Laptop", Price: decimal.NewFromInt(750), Stock: 10},
		catalog.Product{ID: 2, Name: "Smartphone", Price: decimal.NewFromInt(500), Stock: 25},
	)
	svc := commerce.NewService(store)

	_, err := svc.AddToCart(ctx, 1, 1, 1)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, 1, 2, 2)
	require.NoError(t, err)

	placed, err := svc.Checkout(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1750.00", placed.Total.StringFixed(2))

	got, err := svc.GetOrderStatus(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Processing", string(got.Status))
	require.Len(t, got.Items, 2)

	view, err := svc.ViewCart(ctx, 1)
	require.NoError(t, err)
	assert.True(t, view.Empty())

	_, err = svc.Checkout(ctx, 1)
	require.ErrorIs(t, err, commerce.ErrEmptyCart)

	found, err := svc.SearchProducts(ctx, "PHONE")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 23, found[0].Stock)
}

func TestIntegration_AddToCartWaitsForCheckout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := setupStore(ctx, t, catalog.Product{
		ID: 1, Name: "Smartphone", Price: decimal.NewFromInt(500), Stock: 25,
	})
	svc := commerce.NewService(store)

	_, err := svc.AddToCart(ctx, 1, 1, 2)
	require.NoError(t, err)

	added := make(chan error, 1)
	err = store.WithinTx(ctx, func(txCtx context.Context, r commerce.Repositories) error {
		c, err := r.Carts.LockByUser(txCtx, 1)
		if err != nil {
			return err
		}
		items, err := r.Carts.Items(txCtx, c.ID)
		if err != nil {
			return err
		}
		require.Len(t, items, 1)
		assert.Equal(t, 2, items[0].Quantity)

		// Merging into the locked cart must wait for this transaction.
		go func() {
			_, err := svc.AddToCart(ctx, 1, 1, 3)
			added <- err
		}()
		select {
		case err := <-added:
			t.Fatalf("add to cart finished while the cart was locked: %v", err)
		case <-time.After(300 * time.Millisecond):
		}
		return r.Carts.Clear(txCtx, c.ID)
	})
	require.NoError(t, err)
	require.NoError(t, <-added)

	view, err := svc.ViewCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, 3, view.Lines[0].Quantity, "units added during checkout are kept")
}
