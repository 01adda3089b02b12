// Package pgtest starts a throwaway Postgres for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/slot-reservations/internal/migrations"
)

// Start runs a migrated Postgres container and returns a pool connected to
// it. The test is skipped under -short.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("slots"),
		postgres.WithUsername("slots"),
		postgres.WithPassword("slots"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, migrations.Up(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// InsertExperience adds a minimal experience row so slots can reference it.
func InsertExperience(t *testing.T, pool *pgxpool.Pool, id string, price int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO experiences (id, title, price) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		id, "Experience "+id, price)
	require.NoError(t, err)
}
