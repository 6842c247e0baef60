package auth

import (
	"errors"
	"fmt"
)

// Caller-facing categories. Only these cross the component boundary;
// the concrete cause of a denial stays in the audit log.
var (
	// ErrInvalidCredentials covers unknown identifier, wrong password and
	// deactivated accounts alike, so the response never confirms whether
	// an account exists.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrTokenInvalid covers bad signature, wrong kind and expiry for
	// access tokens without distinguishing which check failed.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrRefreshDenied covers not-found, expired, revoked and reused
	// refresh tokens uniformly.
	ErrRefreshDenied = errors.New("auth: refresh denied")

	// ErrForbidden means the principal authenticated but lacks the
	// required permission.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrTransient marks storage or timeout failures. Safe for the caller
	// to retry with backoff; never an authorization decision.
	ErrTransient = errors.New("auth: transient failure")
)

// Internal signals shared between the service and store implementations.
var (
	ErrNotFound = errors.New("auth: not found")

	// ErrRefreshReused marks presentation of an already-rotated refresh
	// token, a possible-theft signal. Callers outside this package only
	// ever observe ErrRefreshDenied.
	ErrRefreshReused = errors.New("auth: refresh token reused")
)

// transientErr wraps an unexpected storage error into the transient
// category, preserving the operation for internal logging.
func transientErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
