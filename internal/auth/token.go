package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "worklane"

// defaultLeeway absorbs clock drift between nodes when validating
// expiry and issued-at.
const defaultLeeway = 30 * time.Second

// TokenKind tags a signed token with its intended use.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims are the fields embedded in a signed token.
type Claims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Codec encodes and verifies signed, time-bound claims using HS256.
// The signing key is immutable for the process lifetime; rotating it
// invalidates all outstanding access tokens, which is acceptable given
// their short TTL. A multi-key grace period is a known limitation.
type Codec struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// NewCodec builds a codec around the process signing key.
func NewCodec(key []byte, leeway time.Duration) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Codec{key: key, leeway: leeway, now: time.Now}, nil
}

// Issue signs a token embedding the subject, kind, issued-at and expiry.
func (c *Codec) Issue(userID string, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}

	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, kind and expiry. Every failure maps
// to the single ErrTokenInvalid outcome so the response never reveals
// which check rejected the token.
func (c *Codec) Verify(token string, kind TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != string(kind) {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
