//go:build postgres

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
	pgstore "hydrofirma/internal/storage/postgres"
	"hydrofirma/internal/testutil"
)

// testDB is shared by every test in the package and set up once in TestMain.
var testDB struct {
	pool      *pgxpool.Pool
	container testcontainers.Container
}

// TestMain uses DATABASE_URL when set and otherwise starts a postgres
// container.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("hydrofirma_test"),
			tcpostgres.WithUsername("hydrofirma"),
			tcpostgres.WithPassword("hydrofirma"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}
		testDB.container = container

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
			_ = container.Terminate(ctx)
			os.Exit(1)
		}
	}

	pool, err := pgstore.Open(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		if testDB.container != nil {
			_ = testDB.container.Terminate(ctx)
		}
		os.Exit(1)
	}
	testDB.pool = pool

	code := m.Run()

	pool.Close()
	if testDB.container != nil {
		_ = testDB.container.Terminate(ctx)
	}
	os.Exit(code)
}

// resetDB empties every data table between tests.
func resetDB(t *testing.T) {
	t.Helper()
	for _, table := range []string{"audit_events", "profiles", "accounts"} {
		if _, err := testDB.pool.Exec(context.Background(), "DELETE FROM "+table); err != nil {
			t.Fatalf("failed to reset table %s: %v", table, err)
		}
	}
}

func TestMigrationsApplied(t *testing.T) {
	v, err := pgstore.SchemaVersion(context.Background(), testDB.pool)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v < 3 {
		t.Fatalf("schema version = %d, want >= 3", v)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	before, _ := pgstore.SchemaVersion(ctx, testDB.pool)
	pool, err := pgstore.Open(ctx, testDB.pool.Config().ConnString())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pool.Close()
	after, _ := pgstore.SchemaVersion(ctx, pool)
	if before != after {
		t.Fatalf("schema version changed on reopen: %d -> %d", before, after)
	}
}

func TestAccountStore(t *testing.T) {
	testutil.AccountStoreSuite(t, func(t *testing.T) identity.AccountStore {
		resetDB(t)
		return identity.NewPostgresAccountStore(testDB.pool)
	})
}

func TestProfileStore(t *testing.T) {
	testutil.ProfileStoreSuite(t, func(t *testing.T) profile.Store {
		resetDB(t)
		return profile.NewPostgresStore(testDB.pool)
	})
}

func TestAuditLogger(t *testing.T) {
	testutil.AuditLoggerSuite(t, func(t *testing.T) audit.Logger {
		resetDB(t)
		return audit.NewPostgresLogger(testDB.pool)
	})
}
