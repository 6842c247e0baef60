package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"worklane.org/internal/audit"
	"worklane.org/internal/obs"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Service orchestrates login, refresh, logout, identity resolution and
// authorization checks. It is the only component external callers
// invoke; everything else in this package is its collaborator.
//
// All methods are safe under arbitrary concurrent invocation, for
// different users and for the same user. The single point that needs a
// true atomic transition, refresh rotation, is delegated to
// TokenStore.ConsumeToken.
type Service struct {
	store   Store
	hasher  PasswordHasher
	codec   *Codec
	refresh *RefreshTokens
	eval    *Evaluator

	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	bcryptCost int
	now        func() time.Time
}

// ServiceOption configures Service construction.
type ServiceOption func(*Service)

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithLeeway overrides the clock-skew tolerance for token verification.
func WithLeeway(leeway time.Duration) ServiceOption {
	return func(s *Service) {
		if leeway > 0 {
			s.leeway = leeway
		}
	}
}

// WithBcryptCost overrides the password-hash work factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithClock overrides the time source. Test use.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the session service around a store and the
// process signing key.
func NewService(store Store, signingKey []byte, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	svc := &Service{
		store:      store,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		leeway:     defaultLeeway,
		bcryptCost: defaultBcryptCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	codec, err := NewCodec(signingKey, svc.leeway)
	if err != nil {
		return nil, err
	}
	codec.now = svc.now
	svc.codec = codec
	svc.hasher = NewPasswordHasher(svc.bcryptCost)
	svc.refresh = NewRefreshTokens(store, svc.refreshTTL)
	svc.refresh.now = svc.now
	svc.eval = NewEvaluator(store)
	return svc, nil
}

// Hasher exposes the configured password hasher, e.g. for provisioning
// tooling that needs to write compatible hashes.
func (s *Service) Hasher() PasswordHasher { return s.hasher }

// Login verifies credentials and issues a token pair. Unknown
// identifier, wrong password and deactivated account all produce the
// same generic denial; the concrete cause goes to the audit log only.
func (s *Service) Login(ctx context.Context, login, password string) (TokenPair, Principal, error) {
	login = strings.TrimSpace(strings.ToLower(login))
	if login == "" || password == "" {
		obs.ObserveLogin("denied")
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}

	user, err := s.store.FindUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("denied")
			s.deny(ctx, "auth.login.denied", map[string]any{"login": login, "cause": "unknown identifier"})
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return TokenPair{}, Principal{}, transientErr("find user", err)
	}
	if !user.Active {
		obs.ObserveLogin("denied")
		s.deny(ctx, "auth.login.denied", map[string]any{"user_id": user.ID, "cause": "inactive account"})
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		obs.ObserveLogin("denied")
		s.deny(ctx, "auth.login.denied", map[string]any{"user_id": user.ID, "cause": "password mismatch"})
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintPair(ctx, user.ID)
	if err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, Principal{}, err
	}

	// Best effort; a failed timestamp update must not fail the login.
	_ = s.store.TouchLastLogin(ctx, user.ID)

	obs.ObserveLogin("ok")
	return pair, principal, nil
}

// Refresh rotates the presented refresh token and mints a new access
// token for its owner. All failure causes collapse into the same
// generic denial; reuse of a rotated token additionally revokes every
// live token of the owner before denying.
func (s *Service) Refresh(ctx context.Context, rawToken string) (TokenPair, Principal, error) {
	newRaw, rec, err := s.refresh.ValidateAndRotate(ctx, rawToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshReused):
			fields := map[string]any{"cause": "rotated token reused"}
			if rec != nil {
				fields["user_id"] = rec.UserID
			}
			s.denyRefresh(ctx, fields)
			return TokenPair{}, Principal{}, ErrRefreshDenied
		case errors.Is(err, ErrNotFound):
			s.denyRefresh(ctx, map[string]any{"cause": "token not found or expired"})
			return TokenPair{}, Principal{}, ErrRefreshDenied
		default:
			obs.ObserveRefresh("error")
			return TokenPair{}, Principal{}, err
		}
	}

	user, err := s.store.FindUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The rotation already inserted a replacement row; its raw
			// value dies with this denial, so revoke the whole set rather
			// than leave it live until the sweep.
			_ = s.refresh.RevokeAllForUser(ctx, rec.UserID)
			s.denyRefresh(ctx, map[string]any{"user_id": rec.UserID, "cause": "owner missing"})
			return TokenPair{}, Principal{}, ErrRefreshDenied
		}
		obs.ObserveRefresh("error")
		return TokenPair{}, Principal{}, transientErr("find user", err)
	}
	if !user.Active {
		_ = s.refresh.RevokeAllForUser(ctx, user.ID)
		s.denyRefresh(ctx, map[string]any{"user_id": user.ID, "cause": "inactive account"})
		return TokenPair{}, Principal{}, ErrRefreshDenied
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		obs.ObserveRefresh("error")
		return TokenPair{}, Principal{}, err
	}
	access, accessExp, err := s.codec.Issue(user.ID, TokenKindAccess, s.accessTTL)
	if err != nil {
		obs.ObserveRefresh("error")
		return TokenPair{}, Principal{}, err
	}

	obs.ObserveRefresh("ok")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     newRaw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, principal, nil
}

// Logout revokes the presented refresh token. Idempotent: an unknown or
// already-revoked token is not an error. Only a storage failure
// surfaces, as a transient error.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if err := s.refresh.Revoke(ctx, rawToken); err != nil {
		return err
	}
	obs.ObserveRevocation("logout")
	return nil
}

// CurrentPrincipal verifies an access token and returns its owner with
// resolved permissions. The secret hash never leaves this package; use
// Principal.User.Profile() at the boundary.
func (s *Service) CurrentPrincipal(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.codec.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return Principal{}, ErrTokenInvalid
	}
	user, err := s.store.FindUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrTokenInvalid
		}
		return Principal{}, transientErr("find user", err)
	}
	if !user.Active {
		// Surfaces as an invalid token so the response does not confirm
		// the account's existence or state.
		return Principal{}, ErrTokenInvalid
	}
	return s.principal(ctx, user)
}

// ChangePassword verifies the old secret, stores the new hash and
// revokes every outstanding refresh token for the user, forcing
// re-login everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return ErrInvalidCredentials
	}
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return transientErr("find user", err)
	}
	if !user.Active || !s.hasher.Verify(user.PasswordHash, oldPassword) {
		s.deny(ctx, "auth.password.denied", map[string]any{"user_id": user.ID, "cause": "verification failed"})
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return transientErr("update password", err)
	}
	if err := s.refresh.RevokeAllForUser(ctx, user.ID); err != nil {
		return err
	}
	obs.ObserveRevocation("password_change")
	_ = audit.LogEvent(ctx, "auth.password.changed", map[string]any{"user_id": user.ID})
	return nil
}

// Authorize reports whether the user holds the permission key,
// defaulting to deny for absent keys.
func (s *Service) Authorize(ctx context.Context, userID, permission string) (bool, error) {
	return s.eval.Authorize(ctx, userID, permission)
}

// Require resolves the principal and fails with ErrForbidden when the
// permission is missing.
func (s *Service) Require(ctx context.Context, userID, permission string) (Principal, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrForbidden
		}
		return Principal{}, transientErr("find user", err)
	}
	principal, err := s.principal(ctx, user)
	if err != nil {
		return Principal{}, err
	}
	if !principal.HasPermission(permission) {
		s.deny(ctx, "auth.permission.denied", map[string]any{"user_id": userID, "permission": permission})
		return Principal{}, ErrForbidden
	}
	return principal, nil
}

// EffectivePermissions exposes the evaluator for callers that need the
// whole set, e.g. to render a UI.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	return s.eval.EffectivePermissions(ctx, userID)
}

// SweepExpiredTokens deletes expired refresh-token rows.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredTokens(ctx)
	if err != nil {
		return 0, transientErr("sweep expired tokens", err)
	}
	return n, nil
}

func (s *Service) principal(ctx context.Context, user *User) (Principal, error) {
	perms, err := s.eval.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Permissions: perms}, nil
}

func (s *Service) mintPair(ctx context.Context, userID string) (TokenPair, error) {
	access, accessExp, err := s.codec.Issue(userID, TokenKindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	rawRefresh, rec, err := s.refresh.Issue(ctx, userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     rawRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) deny(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

func (s *Service) denyRefresh(ctx context.Context, fields map[string]any) {
	obs.ObserveRefresh("denied")
	_ = audit.LogEvent(ctx, "auth.refresh.denied", fields)
}
