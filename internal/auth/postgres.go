package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL via the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Open connects to PostgreSQL with pool defaults tuned for the API's
// request volume.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

// User store ---------------------------------------------------------------

const userColumns = `id, email, username, password_hash, first_name, last_name,
	coalesce(department, ''), active, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.Department, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGStore) FindUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindUserByLogin(ctx context.Context, login string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1) or lower(username)=lower($1)`, login)
	return scanUser(row)
}

func (s *PGStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login=now() where id=$1`, userID)
	return err
}

// Role store ---------------------------------------------------------------

func (s *PGStore) RolesFor(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), r.permissions, r.active, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id=$1 and ur.active and r.active
		order by r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var (
			role Role
			raw  []byte
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &raw,
			&role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Permissions = PermissionSet{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &role.Permissions); err != nil {
				return nil, err
			}
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PGStore) PermissionSetsFor(ctx context.Context, userID string) ([]PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.permissions
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id=$1 and ur.active and r.active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []PermissionSet
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		set := PermissionSet{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &set); err != nil {
				return nil, err
			}
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// Token store --------------------------------------------------------------

func (s *PGStore) CreateToken(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, false, $5)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt)
	return err
}

// ConsumeToken performs the rotation transition as a conditional update
// whose rows-affected count decides the winner: under concurrent
// refreshes of the same token only one transaction flips revoked from
// false to true, the rest observe the already-revoked row.
func (s *PGStore) ConsumeToken(ctx context.Context, tokenHash string, replacement *RefreshToken) (*RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var consumed RefreshToken
	consumed.TokenHash = tokenHash
	consumed.Revoked = true
	err = tx.QueryRowContext(ctx, `
		update refresh_tokens
		set revoked = true
		where token_hash=$1 and revoked = false and expires_at > now()
		returning id, user_id, expires_at, created_at`,
		tokenHash).Scan(&consumed.ID, &consumed.UserID, &consumed.ExpiresAt, &consumed.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.classifyDeadToken(ctx, tx, tokenHash)
	}
	if err != nil {
		return nil, err
	}

	replacement.UserID = consumed.UserID
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, false, $5)`,
		replacement.ID, replacement.UserID, replacement.TokenHash,
		replacement.ExpiresAt, replacement.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &consumed, nil
}

// classifyDeadToken distinguishes a reused (already-revoked) token from
// an unknown or expired one. The distinction feeds the audit log and
// the defensive revoke-all; callers outside the package see a uniform
// denial either way.
func (s *PGStore) classifyDeadToken(ctx context.Context, tx *sql.Tx, tokenHash string) (*RefreshToken, error) {
	var stale RefreshToken
	stale.TokenHash = tokenHash
	err := tx.QueryRowContext(ctx, `
		select id, user_id, expires_at, revoked, created_at
		from refresh_tokens where token_hash=$1`,
		tokenHash).Scan(&stale.ID, &stale.UserID, &stale.ExpiresAt, &stale.Revoked, &stale.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if stale.Revoked {
		return &stale, ErrRefreshReused
	}
	// Present but not revoked: the conditional update skipped it because
	// it is expired. Lazy expiry treats it the same as absent.
	return nil, ErrNotFound
}

func (s *PGStore) RevokeToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked = true where token_hash=$1`, tokenHash)
	return err
}

func (s *PGStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked = true where user_id=$1 and revoked = false`, userID)
	return err
}

func (s *PGStore) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
