package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-assistant/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

const productColumns = `id, name, description, price, stock`

// likeEscaper escapes LIKE metacharacters so user input matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	db DB
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool
// or transaction.
func NewCatalogRepository(db DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock)
	return p, err
}

// List returns all products ordered by ID.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	return products, nil
}

// GetByID returns catalog.ErrNotFound when no product has the given ID.
func (r *CatalogRepository) GetByID(ctx context.Context, id int64) (*catalog.Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// Search returns products whose name contains query, ignoring case.
func (r *CatalogRepository) Search(ctx context.Context, query string) ([]catalog.Product, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY id`,
		likeEscaper.Replace(query),
	)
	if err != nil {
		return nil, errors.Wrap(err, "search products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	return products, nil
}

// LockByIDs selects the products FOR UPDATE in ascending ID order.
func (r *CatalogRepository) LockByIDs(ctx context.Context, ids []int64) ([]catalog.Product, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan locked products")
	}
	return products, nil
}

// DecrementStock subtracts quantity from the product stock. The update is
// guarded so stock never goes below zero.
func (r *CatalogRepository) DecrementStock(ctx context.Context, id int64, quantity int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		id, quantity,
	)
	if err != nil {
		return errors.Wrapf(err, "decrement stock of product %d", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrOutOfStock
	}
	return nil
}

// Upsert inserts or replaces products by ID and moves the identity sequence
// past the highest ID. It is used for seeding.
func (r *CatalogRepository) Upsert(ctx context.Context, products []catalog.Product) error {
	for _, p := range products {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO products (id, name, description, price, stock) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				price = EXCLUDED.price,
				stock = EXCLUDED.stock`,
			p.ID, p.Name, p.Description, p.Price, p.Stock,
		); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
	}
	if _, err := r.db.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('products', 'id'), (SELECT COALESCE(MAX(id), 1) FROM products))`,
	); err != nil {
		return errors.Wrap(err, "advance product id sequence")
	}
	return nil
}
