package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const defaultBcryptCost = 12

// PasswordHasher hashes and verifies user secrets with bcrypt. The cost
// is process-wide configuration injected at construction.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher clamps the cost into bcrypt's supported range.
// A zero or negative cost selects the default.
func NewPasswordHasher(cost int) PasswordHasher {
	if cost <= 0 {
		cost = defaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return PasswordHasher{cost: cost}
}

// Hash produces a salted one-way hash of the password.
func (h PasswordHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored hash. A malformed
// hash fails closed: the comparison is simply false, never an error a
// caller might treat as retryable. bcrypt's comparison is constant-time
// over the derived key.
func (h PasswordHasher) Verify(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
