package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/storage/postgres"
	"github.com/xenking/kart-assistant/internal/storage/seed"
)

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file, optionally .gz (default: embedded catalog)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	products, err := readProducts(lg, productsFile)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, databaseURL, lg); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg.Info("Upserting products", zap.Int("count", len(products)))
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return postgres.NewCatalogRepository(tx).Upsert(ctx, products)
	}); err != nil {
		return errors.Wrap(err, "seed products")
	}
	for _, p := range products {
		lg.Debug("Upserted product", zap.Int64("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}

func readProducts(lg *zap.Logger, path string) ([]catalog.Product, error) {
	if path == "" {
		lg.Info("Using embedded catalog")
		return seed.Default()
	}
	lg.Info("Reading products file", zap.String("path", path))
	products, err := seed.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products")
	}
	return products, nil
}
