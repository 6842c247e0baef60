package auth

import "time"

// User represents a workforce principal. Records are owned by the
// user-management subsystem; this package only reads them and never
// creates new ones.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Department   string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public projection of a user, safe to return to callers.
type Profile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Department string `json:"department,omitempty"`
	Active     bool   `json:"active"`
}

// Profile strips credential material from the user record.
func (u *User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Department: u.Department,
		Active:     u.Active,
	}
}

// PermissionSet maps a permission key to whether it is granted.
// Absent keys are not granted.
type PermissionSet map[string]bool

// Role groups permission flags. Permissions are stored as a JSON object
// in the roles table.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions PermissionSet
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleAssignment links a user to a role. Deactivating an assignment
// revokes the single grant without deleting history.
type RoleAssignment struct {
	UserID     string
	RoleID     string
	Active     bool
	AssignedAt time.Time
}

// RefreshToken is the persisted record of an issued refresh token.
// Only the sha256 hash of the raw value is stored; the raw value is
// returned to the client once and never recoverable afterwards.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// TokenPair carries the credentials returned by login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Principal is a user with resolved effective permissions.
type Principal struct {
	User        *User
	Permissions PermissionSet
}

// HasPermission reports whether the principal holds the permission key.
// Unknown keys deny.
func (p Principal) HasPermission(key string) bool {
	return p.Permissions[key]
}
