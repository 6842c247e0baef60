package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"worklane.org/internal/ids"
)

const refreshSecretBytes = 32

// RefreshTokens issues, rotates and revokes opaque refresh tokens.
// Raw token material is cryptographically random; only its sha256 hash
// is persisted, so a stolen database cannot replay tokens.
type RefreshTokens struct {
	tokens TokenStore
	ttl    time.Duration
	now    func() time.Time
}

// NewRefreshTokens wires the component to its persistence collaborator.
func NewRefreshTokens(tokens TokenStore, ttl time.Duration) *RefreshTokens {
	return &RefreshTokens{tokens: tokens, ttl: ttl, now: time.Now}
}

// Issue generates a fresh refresh token for the user and persists its
// record. The returned raw value is never retrievable again.
func (r *RefreshTokens) Issue(ctx context.Context, userID string) (string, *RefreshToken, error) {
	raw, rec, err := r.generate(userID)
	if err != nil {
		return "", nil, err
	}
	if err := r.tokens.CreateToken(ctx, rec); err != nil {
		return "", nil, transientErr("create refresh token", err)
	}
	return raw, rec, nil
}

// ValidateAndRotate consumes the presented raw token and replaces it
// with a new one for the same user. Exactly one concurrent caller can
// win for a given token; losers observe a denial, which doubles as the
// reuse-detection signal.
//
// Presenting an already-rotated token is treated as possible theft: the
// entire set of the owner's live tokens is revoked before denying.
func (r *RefreshTokens) ValidateAndRotate(ctx context.Context, raw string) (string, *RefreshToken, error) {
	hash := HashToken(raw)
	newRaw, next, err := r.generate("")
	if err != nil {
		return "", nil, err
	}

	consumed, err := r.tokens.ConsumeToken(ctx, hash, next)
	if err != nil {
		if errors.Is(err, ErrRefreshReused) && consumed != nil {
			// Fail closed for the whole account: any outstanding token
			// may be in an attacker's hands.
			if revokeErr := r.tokens.RevokeAllForUser(ctx, consumed.UserID); revokeErr != nil {
				return "", nil, transientErr("revoke after reuse", revokeErr)
			}
			return "", consumed, ErrRefreshReused
		}
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, transientErr("consume refresh token", err)
	}

	next.UserID = consumed.UserID
	return newRaw, next, nil
}

// Revoke marks the presented token revoked. Unknown tokens are ignored.
func (r *RefreshTokens) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := r.tokens.RevokeToken(ctx, HashToken(raw)); err != nil {
		return transientErr("revoke refresh token", err)
	}
	return nil
}

// RevokeAllForUser is the logout-everywhere and credential-compromise
// response.
func (r *RefreshTokens) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := r.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return transientErr("revoke user tokens", err)
	}
	return nil
}

func (r *RefreshTokens) generate(userID string) (string, *RefreshToken, error) {
	secret := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, err
	}
	raw := base64.RawURLEncoding.EncodeToString(secret)
	now := r.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}
	return raw, rec, nil
}

// HashToken derives the storage key for a raw refresh-token value.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
