package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when Options.BcryptCost is zero.
const DefaultBcryptCost = 12

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
// Returns ErrInvalidCredentials if the password does not match.
func VerifyPassword(password string, hash []byte) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// hashFingerprint binds a reset code to the password it was issued against,
// so the code dies once the password changes.
func hashFingerprint(hash []byte) string {
	sum := sha256.Sum256(hash)
	return hex.EncodeToString(sum[:8])
}
