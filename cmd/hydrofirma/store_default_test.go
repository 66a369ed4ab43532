//go:build !sqlite && !postgres

package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"hydrofirma/internal/config"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
)

func TestOpenStoresInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.SQLiteDSN = "file:ignored.db"
	st, err := openStores(context.Background(), *cfg, observability.Discard())
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer st.Close()
	if _, ok := st.profiles.(*profile.MemoryStore); !ok {
		t.Fatalf("profiles = %T", st.profiles)
	}
	if st.accounts == nil || st.audit == nil {
		t.Fatal("stores not wired")
	}
}

func TestOpenStoresRedisProfiles(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Storage.RedisURL = "redis://" + mr.Addr()
	st, err := openStores(context.Background(), *cfg, observability.Discard())
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	if _, ok := st.profiles.(*profile.RedisStore); !ok {
		t.Fatalf("profiles = %T", st.profiles)
	}
	if len(st.closers) != 1 {
		t.Fatalf("closers = %d", len(st.closers))
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
