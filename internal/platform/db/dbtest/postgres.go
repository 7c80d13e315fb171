//go:build integration

// Package dbtest starts a disposable migrated Postgres for integration tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
)

// Start runs a Postgres container, applies the migrations and returns a pool.
// The container is terminated when the test ends.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("treasury"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dsn, slog.New(slog.NewTextHandler(io.Discard, nil))))

	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// Seed executes statements in order, failing the test on the first error.
func Seed(t *testing.T, pool *pgxpool.Pool, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := pool.Exec(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// BaseFixtures seeds currencies, one AED and one USD bank account with a
// rate, and the treasury control account mappings.
var BaseFixtures = []string{
	`INSERT INTO currencies (id, code, name) VALUES (1, 'AED', 'UAE Dirham'), (2, 'USD', 'US Dollar')`,
	`INSERT INTO bank_accounts (id, name, currency_code, currency_id, ledger_account_id) VALUES
		(10, 'Operating AED', 'AED', 1, 1010),
		(20, 'Operating USD', 'USD', 2, 1020)`,
	`INSERT INTO exchange_rates (bank_account_id, effective_from, rate_to_base) VALUES (20, '2026-01-01', 3.6725)`,
	`INSERT INTO account_mappings (module, key, account_id) VALUES ('TREASURY', 'ap.control', 2100), ('TREASURY', 'ar.control', 1200)`,
}
