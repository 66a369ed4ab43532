//go:build !sqlite && !postgres

package main

import (
	"context"
	"fmt"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/config"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
)

// openStores keeps accounts and audit events in memory. Profiles go to
// Redis when configured. A database setting without the matching build tag
// is logged and ignored.
func openStores(ctx context.Context, cfg config.Config, logger observability.Logger) (*stores, error) {
	if cfg.Storage.SQLiteDSN != "" {
		logger.Warn("sqlite_dsn set, but binary not built with -tags sqlite; using in-memory store")
	}
	if cfg.Storage.PostgresURL != "" {
		logger.Warn("postgres_url set, but binary not built with -tags postgres; using in-memory store")
	}
	st := &stores{
		accounts: identity.NewMemoryAccountStore(),
		profiles: profile.NewMemoryStore(),
		audit:    audit.NewMemoryLogger(),
	}
	if _, err := redisProfiles(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisPrefix, st, logger); err != nil {
		return nil, fmt.Errorf("redis profile store: %w", err)
	}
	logger.Info("using in-memory account store")
	return st, nil
}
