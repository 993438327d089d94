// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable records) and Redis (recovery sessions, rate limits).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheMiss is returned by recovery lookups when the key is absent or expired.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrPasswordAlreadySet is returned by SetPasswordIfUnset when the user already has a hash.
var ErrPasswordAlreadySet = errors.New("password already set")

// ErrIdentityExists is returned when (provider, provider_user_id) is already linked.
// The surrounding transaction has been rolled back; callers re-fetch the existing link.
var ErrIdentityExists = errors.New("external identity already linked")

// Role is the access level stored in users.role.
type Role string

const (
	RoleRoot  Role = "root"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User represents a row in the users table.
// Nullable columns are pointers, nil means SQL NULL.
// PasswordHash nil means no local password (OAuth-only account).
type User struct {
	ID            uuid.UUID
	Phone         *string
	PhoneVerified bool
	Email         *string
	EmailVerified bool
	FirstName     *string
	LastName      *string
	Patronymic    *string
	Birthday      *time.Time
	About         *string
	PasswordHash  *string
	Role          Role
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExternalIdentity represents a row in the oauth_accounts table.
// Profile fields are the provider snapshot taken at link time; never updated afterwards.
type ExternalIdentity struct {
	ID             uuid.UUID
	Provider       string
	ProviderUserID string
	UserID         uuid.UUID
	Phone          *string
	Email          *string
	FirstName      *string
	LastName       *string
	Birthday       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProfilePatch lists the user columns that may be changed after creation.
// nil means "leave unchanged". The field set is fixed; there is no generic column update.
type ProfilePatch struct {
	Phone      *string
	Email      *string
	FirstName  *string
	LastName   *string
	Patronymic *string
	Birthday   *time.Time
	About      *string
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.Phone == nil && p.Email == nil && p.FirstName == nil && p.LastName == nil &&
		p.Patronymic == nil && p.Birthday == nil && p.About == nil
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
