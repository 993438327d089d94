// identity.go -- Login through an external provider, with account link and merge.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/pomodoro/internal/normalize"
	"github.com/MGallo-Code/pomodoro/internal/oauth"
	"github.com/MGallo-Code/pomodoro/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"
)

// Provider returns the configured provider named name.
func (s *Service) Provider(name string) (oauth.Provider, bool) {
	p, ok := s.Providers[name]
	return p, ok
}

// CompleteOAuth exchanges an authorization code with the named provider,
// resolves the external identity to a local user and returns a bearer token.
//
// Resolution order: existing link; else a user with the same normalized phone
// (linked, empty profile fields filled from the provider); else a new user.
// Concurrent first logins of one identity resolve to the same user.
func (s *Service) CompleteOAuth(ctx context.Context, providerName, code, codeVerifier string) (string, error) {
	p, ok := s.Provider(providerName)
	if !ok {
		return "", validationError("unknown provider")
	}
	if code == "" {
		return "", validationError("authorization code is required")
	}

	exCtx, cancel := context.WithTimeout(ctx, s.ExternalTimeout)
	prof, err := p.Exchange(exCtx, code, codeVerifier)
	cancel()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			slog.Warn("oauth exchange rejected", "provider", providerName, "error", err)
			return "", ErrInvalidCredentials.WithDetail("oauth authentication failed").wrap(err)
		}
		return "", ErrUpstream.wrap(err)
	}

	user, err := s.resolveIdentity(ctx, providerName, prof)
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", ErrAccessDenied.WithDetail("account is disabled")
	}

	token, err := s.Tokens.Issue(user.ID.String())
	if err != nil {
		return "", err
	}
	slog.Info("oauth user logged in", "user_id", user.ID, "provider", providerName)
	return token, nil
}

// resolveIdentity finds or creates the local user for prof. If another request
// links the identity (or creates the user for its phone) first, the write is
// rolled back and the lookup repeated once; losing twice is a 409.
func (s *Service) resolveIdentity(ctx context.Context, provider string, prof *oauth.Profile) (*store.User, error) {
	for attempt := 0; ; attempt++ {
		ident, err := s.Identities.GetIdentity(ctx, provider, prof.ID)
		if err == nil {
			return s.userByID(ctx, ident.UserID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("fetching identity: %w", err)
		}

		user, err := s.linkOrCreate(ctx, provider, prof)
		lostRace := errors.Is(err, store.ErrIdentityExists) || isConflictOn(err, "phone")
		if lostRace && attempt == 0 {
			slog.Info("oauth identity linked concurrently, retrying lookup", "provider", provider)
			continue
		}
		if errors.Is(err, store.ErrIdentityExists) {
			return nil, ErrIntegrity.WithDetail("account is being linked by another request, try again").wrap(err)
		}
		return user, err
	}
}

// providerProfile is a Profile after normalization; nil means absent.
type providerProfile struct {
	phone     *string
	email     *string
	firstName *string
	lastName  *string
	birthday  *time.Time
}

func normalizeProfile(prof *oauth.Profile) providerProfile {
	var pp providerProfile
	if phone, ok := normalize.Phone(prof.Phone); ok {
		pp.phone = &phone
	}
	if e, err := optionalEmail(prof.Email); err == nil {
		pp.email = e
	}
	if n, ok := normalize.Name(prof.FirstName); ok {
		pp.firstName = &n
	}
	if n, ok := normalize.Name(prof.LastName); ok {
		pp.lastName = &n
	}
	pp.birthday = prof.Birthday
	return pp
}

// enrichment lists the provider values for fields the local user has empty.
// Only first_name, last_name, birthday and email are ever merged.
func enrichment(u *store.User, pp providerProfile) store.ProfilePatch {
	empty := func(v *string) bool { return v == nil || *v == "" }
	var p store.ProfilePatch
	if empty(u.FirstName) {
		p.FirstName = pp.firstName
	}
	if empty(u.LastName) {
		p.LastName = pp.lastName
	}
	if u.Birthday == nil {
		p.Birthday = pp.birthday
	}
	if empty(u.Email) {
		p.Email = pp.email
	}
	return p
}

func (s *Service) linkOrCreate(ctx context.Context, provider string, prof *oauth.Profile) (*store.User, error) {
	pp := normalizeProfile(prof)
	identID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating identity id: %w", err)
	}
	ident := &store.ExternalIdentity{
		ID:             identID,
		Provider:       provider,
		ProviderUserID: prof.ID,
		Phone:          pp.phone,
		Email:          pp.email,
		FirstName:      pp.firstName,
		LastName:       pp.lastName,
		Birthday:       pp.birthday,
	}

	if pp.phone != nil {
		existing, err := s.Users.GetUserByPhone(ctx, *pp.phone)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("fetching user by phone: %w", err)
		}
		if existing != nil {
			return s.linkExisting(ctx, existing, ident, enrichment(existing, pp))
		}
	}
	return s.createFromProfile(ctx, ident, pp)
}

func (s *Service) linkExisting(ctx context.Context, u *store.User, ident *store.ExternalIdentity, patch store.ProfilePatch) (*store.User, error) {
	ident.UserID = u.ID
	err := s.Identities.LinkIdentity(ctx, ident, patch)
	if patch.Email != nil && isConflictOn(err, "email") {
		// Provider email belongs to another account; link without it.
		slog.Warn("oauth email already in use, skipping email merge", "user_id", u.ID, "provider", ident.Provider)
		patch.Email = nil
		err = s.Identities.LinkIdentity(ctx, ident, patch)
	}
	if err != nil {
		return nil, s.identityWriteError(err)
	}
	slog.Info("oauth identity linked to existing user", "user_id", u.ID, "provider", ident.Provider)
	return s.userByID(ctx, u.ID)
}

func (s *Service) createFromProfile(ctx context.Context, ident *store.ExternalIdentity, pp providerProfile) (*store.User, error) {
	userID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	u := &store.User{
		ID:        userID,
		Phone:     pp.phone,
		Email:     pp.email,
		FirstName: pp.firstName,
		LastName:  pp.lastName,
		Birthday:  pp.birthday,
	}
	err = s.Identities.CreateUserWithIdentity(ctx, u, ident)
	if u.Email != nil && isConflictOn(err, "email") {
		slog.Warn("oauth email already in use, creating user without it", "provider", ident.Provider)
		u.Email = nil
		err = s.Identities.CreateUserWithIdentity(ctx, u, ident)
	}
	if err != nil {
		return nil, s.identityWriteError(err)
	}
	slog.Info("oauth user created", "user_id", u.ID, "provider", ident.Provider)
	return u, nil
}

// isConflictOn reports a unique violation whose detail names field.
func isConflictOn(err error, field string) bool {
	appErr := integrityError(err)
	return appErr != nil && strings.Contains(appErr.Detail, field+" already registered")
}

// identityWriteError passes ErrIdentityExists through for the caller's retry
// and translates constraint violations.
func (s *Service) identityWriteError(err error) error {
	if errors.Is(err, store.ErrIdentityExists) {
		return err
	}
	if appErr := integrityError(err); appErr != nil {
		return appErr
	}
	return fmt.Errorf("writing identity: %w", err)
}

func (s *Service) userByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u, err := s.Users.GetUserByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return u, nil
}
