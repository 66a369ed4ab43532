package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
)

// EmailVerifier applies verification links. *identity.Service implements it.
type EmailVerifier interface {
	ApplyEmailVerification(ctx context.Context, code string) (*identity.Identity, error)
	Now() time.Time
}

// PasswordResetter completes reset links. *identity.Service implements it.
type PasswordResetter interface {
	ConfirmPasswordReset(ctx context.Context, code, password string) error
}

// ApplyEmailVerification applies a verification code and marks the Profile
// verified. A missing Profile is left missing.
func ApplyEmailVerification(ctx context.Context, provider EmailVerifier, profiles profile.Store, code string) (*identity.Identity, error) {
	id, err := provider.ApplyEmailVerification(ctx, code)
	if err != nil {
		return nil, err
	}
	patch := profile.Patch{EmailVerified: profile.Bool(true), UpdatedAt: profile.Time(provider.Now())}
	if err := profiles.Update(ctx, id.ID, patch); err != nil && !errors.Is(err, profile.ErrNotFound) {
		return id, fmt.Errorf("mark profile verified: %w", err)
	}
	return id, nil
}

// ConfirmPasswordReset sets a new password from a reset code.
func ConfirmPasswordReset(ctx context.Context, provider PasswordResetter, code, password string) error {
	return provider.ConfirmPasswordReset(ctx, code, password)
}
