// Package seed loads catalog seed files.
package seed

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-assistant/db"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
)

type productJSON struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// Decode reads a JSON array of products.
func Decode(r io.Reader) ([]catalog.Product, error) {
	var raw []productJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	products := make([]catalog.Product, 0, len(raw))
	seen := make(map[int64]struct{}, len(raw))
	for i, p := range raw {
		switch {
		case p.ID <= 0:
			return nil, errors.Errorf("product #%d: id must be positive", i)
		case strings.TrimSpace(p.Name) == "":
			return nil, errors.Errorf("product %d: name is required", p.ID)
		case p.Price.IsNegative():
			return nil, errors.Errorf("product %d: negative price", p.ID)
		case p.Stock < 0:
			return nil, errors.Errorf("product %d: negative stock", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Errorf("product %d: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		products = append(products, catalog.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price.Round(2),
			Stock:       p.Stock,
		})
	}
	return products, nil
}

// Load reads the products file at path. Files ending in .gz are gunzipped.
func Load(path string) ([]catalog.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return Decode(r)
}

// Default returns the catalog embedded in the binary.
func Default() ([]catalog.Product, error) {
	return Decode(bytes.NewReader(db.SeedProducts))
}
