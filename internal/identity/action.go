package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Action code purposes.
const (
	purposeResetPassword = "resetPassword"
	purposeVerifyEmail   = "verifyEmail"
)

// Default action code lifetimes.
const (
	DefaultResetCodeTTL  = time.Hour
	DefaultVerifyCodeTTL = 72 * time.Hour
)

const actionIssuer = "hydrofirma"

// actionClaims are carried by the signed codes embedded in emailed links.
type actionClaims struct {
	Purpose string `json:"purpose"`
	Email   string `json:"email"`
	// Fingerprint of the password hash a reset code was issued against.
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

type actionCodes struct {
	secret []byte
	now    func() time.Time
}

func (c *actionCodes) issue(purpose string, a *Account, ttl time.Duration) (string, error) {
	now := c.now()
	claims := actionClaims{
		Purpose: purpose,
		Email:   a.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    actionIssuer,
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if purpose == purposeResetPassword {
		claims.Fingerprint = hashFingerprint(a.PasswordHash)
	}
	code, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign action code: %w", err)
	}
	return code, nil
}

// parse validates signature, expiry, issuer and purpose. Every failure maps
// to ErrInvalidActionCode.
func (c *actionCodes) parse(code, purpose string) (*actionClaims, error) {
	if code == "" {
		return nil, ErrInvalidActionCode
	}
	claims := &actionClaims{}
	_, err := jwt.ParseWithClaims(code, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(actionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidActionCode, err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidActionCode
	}
	return claims, nil
}
