// Package identity is the credential provider behind HydroFirma sign-in.
//
// Service owns accounts, passwords, action codes (password reset and email
// verification) and mail dispatch. Client holds one signed-in state on top
// of a Service and publishes every change on a channel.
package identity

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// ErrCredential is the root of every credential failure. Callers surface it
// as a generic message and never echo the specific cause.
var ErrCredential = errors.New("credential error")

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrCredential)
	ErrEmailInUse         = fmt.Errorf("%w: email already in use", ErrCredential)
	ErrWeakPassword       = fmt.Errorf("%w: password too weak", ErrCredential)
	ErrInvalidEmail       = fmt.Errorf("%w: invalid email", ErrCredential)
	ErrInvalidActionCode  = fmt.Errorf("%w: invalid or expired action code", ErrCredential)
)

var (
	// ErrRequiresRecentLogin means the operation needs a fresh sign-in.
	ErrRequiresRecentLogin = errors.New("requires recent login")
	// ErrNoSession means no identity is signed in.
	ErrNoSession = errors.New("no signed-in identity")
	// ErrAccountNotFound is returned by id-addressed provider calls.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by AccountStore on a duplicate email.
	ErrAccountExists = errors.New("account already exists")
)

// MinPasswordLength is the provider's minimum password length.
const MinPasswordLength = 6

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

// Identity is the provider-issued record of a signed-in user.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailRules is the address policy shared by the provider and the sign-in
// forms.
func EmailRules() []validation.Rule {
	return []validation.Rule{validation.Required, validation.Length(3, 254), is.Email}
}

// ValidateEmail checks address syntax.
func ValidateEmail(email string) error {
	return validation.Validate(email, EmailRules()...)
}

// ValidatePassword enforces the provider's password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}
