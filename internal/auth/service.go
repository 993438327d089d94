// service.go -- Credential service: registration, login, passwords, profile.
//
// Transport-agnostic. Every failure a client may see is an *AppError;
// anything else is an internal error and surfaces as 500.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MGallo-Code/pomodoro/internal/mail"
	"github.com/MGallo-Code/pomodoro/internal/normalize"
	"github.com/MGallo-Code/pomodoro/internal/oauth"
	"github.com/MGallo-Code/pomodoro/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserStore is the user persistence the service needs.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
// Missing rows are reported as pgx.ErrNoRows.
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*store.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) (*store.User, error)

	// SetPasswordIfUnset returns store.ErrPasswordAlreadySet if a hash exists.
	SetPasswordIfUnset(ctx context.Context, id uuid.UUID, passwordHash string) (*store.User, error)

	UpdateUserProfile(ctx context.Context, id uuid.UUID, patch store.ProfilePatch) (*store.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// IdentityStore links external provider accounts to users.
// Satisfied by *store.PostgresStore. Both writes are transactional and return
// store.ErrIdentityExists (rolled back) when the identity was linked concurrently.
type IdentityStore interface {
	GetIdentity(ctx context.Context, provider, providerUserID string) (*store.ExternalIdentity, error)
	CreateUserWithIdentity(ctx context.Context, u *store.User, e *store.ExternalIdentity) error
	LinkIdentity(ctx context.Context, e *store.ExternalIdentity, enrich store.ProfilePatch) error
}

// RecoveryCache holds forgot-password state. Satisfied by *store.RecoveryStore.
// Lookups of absent or expired keys return store.ErrCacheMiss.
type RecoveryCache interface {
	CreateRecoverySession(ctx context.Context, recoveryID string, userID uuid.UUID, codeHash string, ttl time.Duration) error
	GetRecoveryCode(ctx context.Context, recoveryID string) (string, error)
	PromoteRecoverySession(ctx context.Context, recoveryID, codeHash, resetToken string, ttl time.Duration) (uuid.UUID, error)
	ConsumeResetToken(ctx context.Context, resetToken string) (uuid.UUID, error)
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter -- defined here per Go convention.
type RateLimiter interface {
	// Allow returns store.ErrRateLimitExceeded when the key is locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// Limits groups the rate limit policies applied by the service.
type Limits struct {
	Login          store.RateLimit // per normalized phone
	Recovery       store.RateLimit // per normalized phone, applied whether or not the user exists
	RecoveryVerify store.RateLimit // per recovery id
}

// Service implements the credential and recovery operations.
// All fields are required unless noted; build once in main and share.
type Service struct {
	Users      UserStore
	Identities IdentityStore
	Recovery   RecoveryCache
	Limiter    RateLimiter
	Mailer     mail.Mailer
	Tokens     *TokenCodec
	Providers  map[string]oauth.Provider // may be empty
	Policy     PasswordPolicy
	Limits     Limits

	RecoveryCodeTTL time.Duration
	ResetTokenTTL   time.Duration
	ExternalTimeout time.Duration // bound on provider and mail calls
}

// dummyPasswordHash is verified against when no user exists so the miss path
// costs the same argon2 work as a real check.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=3,p=2$YWJjZGVmZ2hpamtsbW5vcA$kC6C6jqLzC0JLlJgXhHbKMhLLpVvLJLLQw/IqT9ZYPU"

func burnVerify(secret string) { VerifyPassword(secret, dummyPasswordHash) }

// RegisterInput is the self-service signup payload. Optional fields may be empty.
type RegisterInput struct {
	Phone      string
	Password   string
	FirstName  string
	LastName   string
	Patronymic string
	Email      string
	Birthday   string // YYYY-MM-DD
	About      string
}

// Register validates input, hashes the password and creates the user.
// Duplicate phone or email is ErrIntegrity.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	if failures := s.Policy.Validate(in.Password); len(failures) > 0 {
		return nil, validationError(failures...)
	}

	phone, ok := normalize.Phone(in.Phone)
	if !ok {
		return nil, validationError("invalid phone number")
	}
	u := &store.User{Phone: &phone}

	var failures []string
	var err error
	if u.FirstName, err = requiredName("first_name", in.FirstName); err != nil {
		failures = append(failures, err.Error())
	}
	if u.LastName, err = requiredName("last_name", in.LastName); err != nil {
		failures = append(failures, err.Error())
	}
	if u.Patronymic, err = optionalName("patronymic", in.Patronymic); err != nil {
		failures = append(failures, err.Error())
	}
	if u.Email, err = optionalEmail(in.Email); err != nil {
		failures = append(failures, err.Error())
	}
	if u.Birthday, err = optionalBirthday(in.Birthday); err != nil {
		failures = append(failures, err.Error())
	}
	if len(failures) > 0 {
		return nil, validationError(failures...)
	}
	if about := strings.TrimSpace(in.About); about != "" {
		u.About = &about
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = &hash
	if u.ID, err = uuid.NewV7(); err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}

	if err := s.Users.CreateUser(ctx, u); err != nil {
		if appErr := integrityError(err); appErr != nil {
			return nil, appErr
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	slog.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login verifies phone + password and returns a bearer token.
// Unknown or inactive users are ErrUserNotFound; a user without a local password
// gets ErrInvalidCredentials with a detail pointing at external login.
func (s *Service) Login(ctx context.Context, rawPhone, password string) (string, error) {
	phone, ok := normalize.Phone(rawPhone)
	if !ok {
		burnVerify(password)
		return "", ErrUserNotFound
	}
	if err := s.allow(ctx, "login:"+phone, s.Limits.Login); err != nil {
		return "", err
	}

	user, err := s.Users.GetUserByPhone(ctx, phone)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("fetching user: %w", err)
	}
	if user == nil || !user.IsActive {
		burnVerify(password)
		return "", ErrUserNotFound
	}
	if user.PasswordHash == nil {
		return "", ErrInvalidCredentials.WithDetail("account created via external provider")
	}

	match, err := VerifyPassword(password, *user.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		slog.Warn("login failed", "user_id", user.ID, "reason", "wrong_password")
		return "", ErrInvalidCredentials
	}

	token, err := s.Tokens.Issue(user.ID.String())
	if err != nil {
		return "", err
	}
	slog.Info("user logged in", "user_id", user.ID)
	return token, nil
}

// Authenticate resolves a bearer token to an active user.
// Every failure, including a deleted or deactivated user, is ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	sub, err := s.Tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromString(sub)
	if err != nil {
		return nil, ErrInvalidToken.wrap(err)
	}
	user, err := s.Users.GetUserByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidToken.wrap(err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidToken.wrap(errors.New("user inactive"))
	}
	return user, nil
}

// SetPassword gives an externally-created account its first local password.
// ErrPasswordAlreadySet if one exists; the check is atomic in the store.
func (s *Service) SetPassword(ctx context.Context, user *store.User, password string) (*store.User, error) {
	if user.PasswordHash != nil {
		return nil, ErrPasswordAlreadySet
	}
	if failures := s.Policy.Validate(password); len(failures) > 0 {
		return nil, validationError(failures...)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	updated, err := s.Users.SetPasswordIfUnset(ctx, user.ID, hash)
	switch {
	case errors.Is(err, store.ErrPasswordAlreadySet):
		return nil, ErrPasswordAlreadySet
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("setting password: %w", err)
	}
	slog.Info("password set", "user_id", user.ID)
	return updated, nil
}

// ChangePassword replaces the password after verifying the old one.
// Policy and "must differ" checks run before any hashing.
func (s *Service) ChangePassword(ctx context.Context, user *store.User, oldPassword, newPassword string) (*store.User, error) {
	if failures := s.Policy.Validate(newPassword); len(failures) > 0 {
		return nil, validationError(failures...)
	}
	if newPassword == oldPassword {
		return nil, validationError("new password must differ from the old one")
	}
	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials.WithDetail("no password set, use set_password")
	}

	match, err := VerifyPassword(oldPassword, *user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		slog.Warn("password change failed", "user_id", user.ID, "reason", "wrong_password")
		return nil, ErrInvalidCredentials.WithDetail("wrong password")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	updated, err := s.Users.UpdateUserPassword(ctx, user.ID, hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating password: %w", err)
	}
	slog.Info("password changed", "user_id", user.ID)
	return updated, nil
}

// ProfileInput carries a partial profile update. nil fields are left unchanged.
type ProfileInput struct {
	Phone      *string
	Email      *string
	FirstName  *string
	LastName   *string
	Patronymic *string
	Birthday   *string // YYYY-MM-DD
	About      *string
}

// UpdateProfile applies in to targetID on behalf of actor.
//
//	root:  editable only by itself
//	admin: editable by itself or root
//	user:  editable by itself, admin or root
func (s *Service) UpdateProfile(ctx context.Context, actor *store.User, targetID uuid.UUID, in ProfileInput) (*store.User, error) {
	target, err := s.loadTarget(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	if !canUpdate(actor, target) {
		slog.Warn("profile update denied", "actor_id", actor.ID, "target_id", target.ID)
		return nil, ErrAccessDenied
	}

	patch, err := buildPatch(in)
	if err != nil {
		return nil, err
	}
	updated, err := s.Users.UpdateUserProfile(ctx, target.ID, patch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if appErr := integrityError(err); appErr != nil {
			return nil, appErr
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	slog.Info("profile updated", "actor_id", actor.ID, "user_id", target.ID)
	return updated, nil
}

// DeleteUser hard-deletes targetID. Only root may delete, and never another root.
func (s *Service) DeleteUser(ctx context.Context, actor *store.User, targetID uuid.UUID) error {
	if actor.Role != store.RoleRoot {
		return ErrAccessDenied
	}
	target, err := s.loadTarget(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if target.Role == store.RoleRoot && target.ID != actor.ID {
		return ErrAccessDenied
	}
	if err := s.Users.DeleteUser(ctx, target.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("deleting user: %w", err)
	}
	slog.Info("user deleted", "actor_id", actor.ID, "user_id", target.ID)
	return nil
}

func (s *Service) loadTarget(ctx context.Context, actor *store.User, id uuid.UUID) (*store.User, error) {
	if id == actor.ID {
		return actor, nil
	}
	u, err := s.Users.GetUserByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return u, nil
}

func canUpdate(actor, target *store.User) bool {
	if actor.ID == target.ID {
		return true
	}
	switch target.Role {
	case store.RoleRoot:
		return false
	case store.RoleAdmin:
		return actor.Role == store.RoleRoot
	default:
		return actor.Role == store.RoleRoot || actor.Role == store.RoleAdmin
	}
}

// allow applies a rate limit policy, translating lockout to ErrRateLimited.
func (s *Service) allow(ctx context.Context, key string, policy store.RateLimit) error {
	err := s.Limiter.Allow(ctx, key, policy)
	if errors.Is(err, store.ErrRateLimitExceeded) {
		slog.Warn("rate limit exceeded", "action", strings.SplitN(key, ":", 2)[0])
		return ErrRateLimited
	}
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// --- input helpers ---

const (
	nameMinLen = 2
	nameMaxLen = 30
)

func requiredName(field, raw string) (*string, error) {
	n, err := optionalName(field, raw)
	if err == nil && n == nil {
		return nil, fmt.Errorf("%s is required", field)
	}
	return n, err
}

func optionalName(field, raw string) (*string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	n, _ := normalize.Name(raw)
	if l := utf8.RuneCountInString(n); l < nameMinLen || l > nameMaxLen {
		return nil, fmt.Errorf("%s must be %d to %d characters", field, nameMinLen, nameMaxLen)
	}
	return &n, nil
}

func optionalEmail(raw string) (*string, error) {
	e := strings.ToLower(strings.TrimSpace(raw))
	if e == "" {
		return nil, nil
	}
	if msg := ValidateEmail(e); msg != "" {
		return nil, errors.New(msg)
	}
	return &e, nil
}

func optionalBirthday(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errors.New("birthday must be YYYY-MM-DD")
	}
	if b.After(time.Now()) {
		return nil, errors.New("birthday is in the future")
	}
	return &b, nil
}

// buildPatch validates and normalizes a ProfileInput. A blank name, email or
// birthday is rejected rather than clearing the column.
func buildPatch(in ProfileInput) (store.ProfilePatch, error) {
	var p store.ProfilePatch
	var failures []string
	fail := func(err error) {
		if err != nil {
			failures = append(failures, err.Error())
		}
	}

	if in.Phone != nil {
		if phone, ok := normalize.Phone(*in.Phone); ok {
			p.Phone = &phone
		} else {
			failures = append(failures, "invalid phone number")
		}
	}
	if in.Email != nil {
		e, err := optionalEmail(*in.Email)
		if err == nil && e == nil {
			err = errors.New("email must not be empty")
		}
		fail(err)
		p.Email = e
	}
	var err error
	if in.FirstName != nil {
		p.FirstName, err = requiredName("first_name", *in.FirstName)
		fail(err)
	}
	if in.LastName != nil {
		p.LastName, err = requiredName("last_name", *in.LastName)
		fail(err)
	}
	if in.Patronymic != nil {
		p.Patronymic, err = requiredName("patronymic", *in.Patronymic)
		fail(err)
	}
	if in.Birthday != nil {
		b, err := optionalBirthday(*in.Birthday)
		if err == nil && b == nil {
			err = errors.New("birthday must not be empty")
		}
		fail(err)
		p.Birthday = b
	}
	if in.About != nil {
		about := strings.TrimSpace(*in.About)
		p.About = &about
	}

	if len(failures) > 0 {
		return store.ProfilePatch{}, validationError(failures...)
	}
	return p, nil
}
