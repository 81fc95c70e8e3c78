package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name       TEXT NOT NULL,
		price      NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (price >= 0),
		stock      INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		product_id       BIGINT NOT NULL REFERENCES products(id),
		customer_name    TEXT NOT NULL CHECK (customer_name <> ''),
		customer_address TEXT NOT NULL CHECK (customer_address <> ''),
		customer_phone   TEXT NOT NULL CHECK (customer_phone <> ''),
		quantity         INTEGER NOT NULL CHECK (quantity > 0),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_product_id ON orders(product_id)`,
}

// Migrate creates the schema if it does not exist. Every statement is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
