// Package db provides the embedded database migrations and seed catalog.
package db

import "embed"

// Migrations holds the golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// SeedProducts is the default catalog loaded by the in-memory store and
// cmd/seed-db.
//
//go:embed seed/products.json
var SeedProducts []byte
