// stores.go
//
// Shared mock implementations of the auth package's store, cache, limiter,
// mailer and provider interfaces. Imported by test files across packages to
// avoid duplicate mock definitions.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/MGallo-Code/pomodoro/internal/oauth"
	"github.com/MGallo-Code/pomodoro/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MockStore implements auth.UserStore and auth.IdentityStore for tests.
//
// Always stateful...Users and Identities are maps, like a real store.
// Unique phone and email violations come back as *pgconn.PgError with the
// same constraint names Postgres uses, so error translation is exercised.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr    error
	GetUserErr       error
	UpdateErr        error
	DeleteUserErr    error
	GetIdentityErr   error
	IdentityWriteErr error

	Users      map[uuid.UUID]*store.User
	Identities map[string]*store.ExternalIdentity // keyed by provider + "|" + provider user id

	LinkIdentityCalls int

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:      make(map[uuid.UUID]*store.User),
		Identities: make(map[string]*store.ExternalIdentity),
	}
	for _, u := range users {
		if u.Role == "" {
			u.Role = store.RoleUser
		}
		ms.Users[u.ID] = u
	}
	return ms
}

func identityKey(provider, providerUserID string) string { return provider + "|" + providerUserID }

func cloneUser(u *store.User) *store.User {
	c := *u
	return &c
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// conflictLocked reports a unique violation of u's phone or email against
// any other user. Caller holds mu.
func (m *MockStore) conflictLocked(u *store.User) error {
	for _, other := range m.Users {
		if other.ID == u.ID {
			continue
		}
		if u.Phone != nil && other.Phone != nil && *u.Phone == *other.Phone {
			return uniqueViolation("users_phone_key")
		}
		if u.Email != nil && other.Email != nil && *u.Email == *other.Email {
			return uniqueViolation("users_email_key")
		}
	}
	return nil
}

func (m *MockStore) insertUserLocked(u *store.User) error {
	if err := m.conflictLocked(u); err != nil {
		return err
	}
	if u.Role == "" {
		u.Role = store.RoleUser
	}
	u.IsActive = true
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	m.Users[u.ID] = cloneUser(u)
	return nil
}

func (m *MockStore) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertUserLocked(u)
}

func (m *MockStore) getUser(match func(*store.User) bool) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	return m.getUser(func(u *store.User) bool { return u.ID == id })
}

func (m *MockStore) GetUserByPhone(_ context.Context, phone string) (*store.User, error) {
	return m.getUser(func(u *store.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (m *MockStore) UpdateUserPassword(_ context.Context, id uuid.UUID, passwordHash string) (*store.User, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u.PasswordHash = &passwordHash
	u.UpdatedAt = time.Now()
	return cloneUser(u), nil
}

func (m *MockStore) SetPasswordIfUnset(_ context.Context, id uuid.UUID, passwordHash string) (*store.User, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if u.PasswordHash != nil {
		return nil, store.ErrPasswordAlreadySet
	}
	u.PasswordHash = &passwordHash
	u.UpdatedAt = time.Now()
	return cloneUser(u), nil
}

func (m *MockStore) UpdateUserProfile(_ context.Context, id uuid.UUID, patch store.ProfilePatch) (*store.User, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	next := cloneUser(u)
	if patch.Phone != nil && (next.Phone == nil || *next.Phone != *patch.Phone) {
		next.Phone, next.PhoneVerified = patch.Phone, false
	}
	if patch.Email != nil && (next.Email == nil || *next.Email != *patch.Email) {
		next.Email, next.EmailVerified = patch.Email, false
	}
	if patch.FirstName != nil {
		next.FirstName = patch.FirstName
	}
	if patch.LastName != nil {
		next.LastName = patch.LastName
	}
	if patch.Patronymic != nil {
		next.Patronymic = patch.Patronymic
	}
	if patch.Birthday != nil {
		next.Birthday = patch.Birthday
	}
	if patch.About != nil {
		next.About = patch.About
	}
	if err := m.conflictLocked(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	m.Users[id] = next
	return cloneUser(next), nil
}

func (m *MockStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	if m.DeleteUserErr != nil {
		return m.DeleteUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.Users, id)
	for k, e := range m.Identities {
		if e.UserID == id {
			delete(m.Identities, k)
		}
	}
	return nil
}

func (m *MockStore) GetIdentity(_ context.Context, provider, providerUserID string) (*store.ExternalIdentity, error) {
	if m.GetIdentityErr != nil {
		return nil, m.GetIdentityErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *e
	return &c, nil
}

// CreateUserWithIdentity inserts both rows atomically; nothing is written on error.
func (m *MockStore) CreateUserWithIdentity(_ context.Context, u *store.User, e *store.ExternalIdentity) error {
	if m.IdentityWriteErr != nil {
		return m.IdentityWriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Postgres inserts the user row first, so a phone or email clash wins over a duplicate identity.
	if err := m.conflictLocked(u); err != nil {
		return err
	}
	key := identityKey(e.Provider, e.ProviderUserID)
	if _, ok := m.Identities[key]; ok {
		return store.ErrIdentityExists
	}
	if err := m.insertUserLocked(u); err != nil {
		return err
	}
	e.UserID = u.ID
	c := *e
	m.Identities[key] = &c
	return nil
}

// LinkIdentity links e and fills only the user's empty fields from enrich.
func (m *MockStore) LinkIdentity(_ context.Context, e *store.ExternalIdentity, enrich store.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinkIdentityCalls++
	if m.IdentityWriteErr != nil {
		return m.IdentityWriteErr
	}
	key := identityKey(e.Provider, e.ProviderUserID)
	if _, ok := m.Identities[key]; ok {
		return store.ErrIdentityExists
	}
	u, ok := m.Users[e.UserID]
	if !ok {
		return &pgconn.PgError{Code: "23503", ConstraintName: "oauth_accounts_user_id_fkey"}
	}

	next := cloneUser(u)
	empty := func(v *string) bool { return v == nil || *v == "" }
	if enrich.FirstName != nil && empty(next.FirstName) {
		next.FirstName = enrich.FirstName
	}
	if enrich.LastName != nil && empty(next.LastName) {
		next.LastName = enrich.LastName
	}
	if enrich.Email != nil && empty(next.Email) {
		next.Email = enrich.Email
	}
	if enrich.Birthday != nil && next.Birthday == nil {
		next.Birthday = enrich.Birthday
	}
	if err := m.conflictLocked(next); err != nil {
		return err
	}
	m.Users[u.ID] = next
	c := *e
	m.Identities[key] = &c
	return nil
}

// MockRecovery implements auth.RecoveryCache for tests.
// TTLs are recorded but not enforced; call Expire to simulate expiry.
type MockRecovery struct {
	CreateErr error
	GetErr    error

	Sessions map[string]RecoveryEntry // keyed by recovery id
	Tokens   map[string]uuid.UUID     // keyed by reset token
	LastTTL  time.Duration

	mu sync.Mutex
}

// RecoveryEntry is one pending recovery session.
type RecoveryEntry struct {
	UserID   uuid.UUID
	CodeHash string
}

// NewMockRecovery returns an empty MockRecovery.
func NewMockRecovery() *MockRecovery {
	return &MockRecovery{
		Sessions: make(map[string]RecoveryEntry),
		Tokens:   make(map[string]uuid.UUID),
	}
}

func (m *MockRecovery) CreateRecoverySession(_ context.Context, recoveryID string, userID uuid.UUID, codeHash string, ttl time.Duration) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[recoveryID] = RecoveryEntry{UserID: userID, CodeHash: codeHash}
	m.LastTTL = ttl
	return nil
}

func (m *MockRecovery) GetRecoveryCode(_ context.Context, recoveryID string) (string, error) {
	if m.GetErr != nil {
		return "", m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[recoveryID]
	if !ok {
		return "", store.ErrCacheMiss
	}
	return s.CodeHash, nil
}

// PromoteRecoverySession is atomic under mu: exactly one caller wins.
func (m *MockRecovery) PromoteRecoverySession(_ context.Context, recoveryID, codeHash, resetToken string, ttl time.Duration) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[recoveryID]
	if !ok || s.CodeHash != codeHash {
		return uuid.Nil, store.ErrCacheMiss
	}
	delete(m.Sessions, recoveryID)
	m.Tokens[resetToken] = s.UserID
	m.LastTTL = ttl
	return s.UserID, nil
}

func (m *MockRecovery) ConsumeResetToken(_ context.Context, resetToken string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.Tokens[resetToken]
	if !ok {
		return uuid.Nil, store.ErrCacheMiss
	}
	delete(m.Tokens, resetToken)
	return uid, nil
}

// Expire drops a recovery session as if its TTL elapsed.
func (m *MockRecovery) Expire(recoveryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, recoveryID)
}

// MockRateLimiter implements auth.RateLimiter for tests.
// Counts attempts per key and locks once policy.MaxAttempts is exceeded.
// Set Err to make every call fail (e.g. to simulate Redis down).
type MockRateLimiter struct {
	Err error

	Attempts map[string]int

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, policy store.RateLimit) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Attempts == nil {
		m.Attempts = make(map[string]int)
	}
	m.Attempts[key]++
	if policy.MaxAttempts > 0 && m.Attempts[key] > policy.MaxAttempts {
		return store.ErrRateLimitExceeded
	}
	return nil
}

// SentMail is one message captured by MockMailer.
type SentMail struct {
	To        string
	Code      int
	ExpiresIn time.Duration
}

// MockMailer implements mail.Mailer and records every send.
type MockMailer struct {
	Err  error
	Sent []SentMail

	mu sync.Mutex
}

func (m *MockMailer) SendRecoveryCode(_ context.Context, toEmail string, code int, expiresIn time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{To: toEmail, Code: code, ExpiresIn: expiresIn})
	return nil
}

// Last returns the most recent send; ok is false if nothing was sent.
func (m *MockMailer) Last() (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentMail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

// MockProvider implements oauth.Provider. Exchange returns Profile (or Err)
// and records the verifier it was called with.
type MockProvider struct {
	ProviderName string
	Profile      *oauth.Profile
	Err          error

	LastCode     string
	LastVerifier string

	mu sync.Mutex
}

func (p *MockProvider) Name() string { return p.ProviderName }

func (p *MockProvider) AuthCodeURL(state, codeChallenge string) string {
	q := url.Values{"state": {state}, "code_challenge": {codeChallenge}, "code_challenge_method": {"S256"}}
	return fmt.Sprintf("https://%s.test/authorize?%s", p.ProviderName, q.Encode())
}

func (p *MockProvider) Exchange(_ context.Context, code, codeVerifier string) (*oauth.Profile, error) {
	p.mu.Lock()
	p.LastCode, p.LastVerifier = code, codeVerifier
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	c := *p.Profile
	return &c, nil
}
