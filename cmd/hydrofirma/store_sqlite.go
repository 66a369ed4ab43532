//go:build sqlite && !postgres

package main

import (
	"context"
	"fmt"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/config"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
	sqlitestore "hydrofirma/internal/storage/sqlite"
)

const defaultSQLiteDSN = "file:hydrofirma.db?cache=shared&_pragma=foreign_keys(1)"

// openStores opens one SQLite database for accounts, profiles and audit
// events. Profiles go to Redis instead when configured.
func openStores(ctx context.Context, cfg config.Config, logger observability.Logger) (*stores, error) {
	dsn := cfg.Storage.SQLiteDSN
	if dsn == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sqlitestore.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	version, err := sqlitestore.SchemaVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &stores{
		accounts: identity.NewSQLiteAccountStore(db),
		profiles: profile.NewSQLiteStore(db),
		audit:    audit.NewSQLiteLogger(db),
		closers:  []func() error{db.Close},
	}
	if _, err := redisProfiles(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisPrefix, st, logger); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("redis profile store: %w", err)
	}
	logger.Info("using sqlite store", "dsn", dsn, "schema_version", version)
	return st, nil
}
