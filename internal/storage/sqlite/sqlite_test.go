//go:build sqlite

package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
	sqlitestore "hydrofirma/internal/storage/sqlite"
	"hydrofirma/internal/testutil"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "hydrofirma.db")
	db, err := sqlitestore.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "hydrofirma.db")
	db, err := sqlitestore.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := sqlitestore.SchemaVersion(ctx, db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v < 3 {
		t.Fatalf("schema version = %d, want >= 3", v)
	}
	_ = db.Close()

	db, err = sqlitestore.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	again, _ := sqlitestore.SchemaVersion(ctx, db)
	if again != v {
		t.Fatalf("schema version changed on reopen: %d -> %d", v, again)
	}
}

func TestAccountStore(t *testing.T) {
	testutil.AccountStoreSuite(t, func(t *testing.T) identity.AccountStore {
		return identity.NewSQLiteAccountStore(openTestDB(t))
	})
}

func TestProfileStore(t *testing.T) {
	testutil.ProfileStoreSuite(t, func(t *testing.T) profile.Store {
		return profile.NewSQLiteStore(openTestDB(t))
	})
}

func TestAuditLogger(t *testing.T) {
	testutil.AuditLoggerSuite(t, func(t *testing.T) audit.Logger {
		return audit.NewSQLiteLogger(openTestDB(t))
	})
}
