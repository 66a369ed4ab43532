package main

import (
	"context"
	"errors"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
)

// stores bundles the persistence backends chosen for this build.
type stores struct {
	accounts identity.AccountStore
	profiles profile.Store
	audit    audit.Logger
	closers  []func() error
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// redisProfiles switches the profile documents to Redis when a URL is set.
// It reports false when Redis is not configured.
func redisProfiles(ctx context.Context, url, prefix string, st *stores, logger observability.Logger) (bool, error) {
	if url == "" {
		return false, nil
	}
	client, err := profile.DialRedis(ctx, url)
	if err != nil {
		return false, err
	}
	st.profiles = profile.NewRedisStore(client, prefix)
	st.closers = append(st.closers, client.Close)
	logger.Info("using redis profile store", "prefix", prefix)
	return true, nil
}
