package identity_test

import (
	"testing"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/testutil"
)

func TestMemoryAccountStore(t *testing.T) {
	testutil.AccountStoreSuite(t, func(t *testing.T) identity.AccountStore {
		return identity.NewMemoryAccountStore()
	})
}
