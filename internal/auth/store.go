package auth

import "context"

// Store describes the persistence operations the auth core needs from
// its collaborators. Implementations must be safe for concurrent use.
type Store interface {
	UserStore
	RoleStore
	TokenStore
}

// UserStore reads and updates principal records.
type UserStore interface {
	// FindUser returns the user by opaque identifier.
	// Returns ErrNotFound if no record exists.
	FindUser(ctx context.Context, id string) (*User, error)

	// FindUserByLogin resolves a user by email or username, matched
	// case-insensitively. Active and inactive records are both returned;
	// the caller decides how an inactive account surfaces.
	FindUserByLogin(ctx context.Context, login string) (*User, error)

	// UpdatePassword replaces the stored hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// TouchLastLogin records a successful login. Best effort.
	TouchLastLogin(ctx context.Context, userID string) error
}

// RoleStore provides read access to roles and assignments scoped to a user.
type RoleStore interface {
	// RolesFor returns active roles reached through active assignments.
	RolesFor(ctx context.Context, userID string) ([]Role, error)

	// PermissionSetsFor returns the permission maps of those roles.
	PermissionSetsFor(ctx context.Context, userID string) ([]PermissionSet, error)
}

// TokenStore manages the refresh-token lifecycle.
type TokenStore interface {
	// CreateToken persists a new refresh-token record.
	CreateToken(ctx context.Context, tok *RefreshToken) error

	// ConsumeToken atomically marks the live record matching tokenHash
	// as revoked and inserts replacement (with UserID copied from the
	// consumed record) in a single transition. Exactly one concurrent
	// caller can win for a given hash.
	//
	// Returns the consumed record on success. Returns ErrRefreshReused
	// together with the stale record when the hash matches an
	// already-revoked row, and ErrNotFound when no live, unexpired row
	// matches. Expiry is enforced here at read time.
	ConsumeToken(ctx context.Context, tokenHash string, replacement *RefreshToken) (*RefreshToken, error)

	// RevokeToken marks the record matching tokenHash revoked.
	// Idempotent: unknown or already-revoked hashes are not errors.
	RevokeToken(ctx context.Context, tokenHash string) error

	// RevokeAllForUser revokes every live token of the user.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpiredTokens removes expired rows. Operational hygiene
	// only; correctness never depends on it.
	DeleteExpiredTokens(ctx context.Context) (int64, error)
}
