//go:build integration

package repositories

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/tokenlink/internal/database"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/BradenHooton/tokenlink/pkg/auth"
)

// testDB manages a PostgreSQL testcontainer with the schema applied.
type testDB struct {
	container testcontainers.Container
	db        *database.DB
}

// setupTestDatabase starts postgres, runs migrations and registers teardown.
func setupTestDatabase(t *testing.T) *testDB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("tokenlink"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	db := database.NewFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, db.Migrate(ctx))

	return &testDB{container: container, db: db}
}

// cleanupTables truncates all tables for test isolation
func (tdb *testDB) cleanupTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"login_tokens", "users"} {
		_, err := tdb.db.Pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "failed to truncate %s", table)
	}
}

// seedUser inserts an active user with a hashed password.
func (tdb *testDB) seedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	user, err := NewUserRepository(tdb.db).Create(context.Background(), &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
	})
	require.NoError(t, err)
	return user
}
