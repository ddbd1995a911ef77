package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-assistant/internal/domain/commerce"
)

var _ commerce.Store = (*Store)(nil)

// Store implements commerce.Store on a pgx pool.
type Store struct {
	pool Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

func repositories(db DB) commerce.Repositories {
	return commerce.Repositories{
		Catalog: NewCatalogRepository(db),
		Carts:   NewCartRepository(db),
		Orders:  NewOrderRepository(db),
	}
}

// Repositories implements commerce.Store.
func (s *Store) Repositories() commerce.Repositories {
	return repositories(s.pool)
}

// WithinTx implements commerce.Store. The transaction runs at READ COMMITTED;
// operations that need stronger guarantees take row locks.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r commerce.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	if err := fn(ctx, repositories(tx)); err != nil {
		// Roll back even when ctx is already cancelled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			zctx.From(ctx).Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
