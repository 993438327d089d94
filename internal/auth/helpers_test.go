// helpers_test.go

// Shared fixtures for auth package tests.
package auth

import (
	"context"
	"testing"
	"time"

	"github.com/MGallo-Code/pomodoro/internal/oauth"
	"github.com/MGallo-Code/pomodoro/internal/store"
	"github.com/MGallo-Code/pomodoro/internal/testutil"
	"github.com/gofrs/uuid/v5"
)

// testEnv is a Service wired to in-memory mocks, with handles on each mock.
type testEnv struct {
	svc      *Service
	store    *testutil.MockStore
	recovery *testutil.MockRecovery
	limiter  *testutil.MockRateLimiter
	mailer   *testutil.MockMailer
	provider *testutil.MockProvider
}

func newTestEnv(t *testing.T, users ...*store.User) *testEnv {
	t.Helper()
	tokens, err := NewTokenCodec([]byte("test-secret-test-secret-test-secret"), "HS256", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	env := &testEnv{
		store:    testutil.NewMockStore(users...),
		recovery: testutil.NewMockRecovery(),
		limiter:  &testutil.MockRateLimiter{},
		mailer:   &testutil.MockMailer{},
		provider: &testutil.MockProvider{ProviderName: "yandex"},
	}
	env.svc = &Service{
		Users:      env.store,
		Identities: env.store,
		Recovery:   env.recovery,
		Limiter:    env.limiter,
		Mailer:     env.mailer,
		Tokens:     tokens,
		Providers:  map[string]oauth.Provider{"yandex": env.provider},
		Policy:     DefaultPasswordPolicy,
		Limits: Limits{
			Login:          store.RateLimit{MaxAttempts: 5, Window: 15 * time.Minute, LockoutTTL: 15 * time.Minute},
			Recovery:       store.RateLimit{MaxAttempts: 3, Window: time.Hour, LockoutTTL: time.Hour},
			RecoveryVerify: store.RateLimit{MaxAttempts: 5, Window: 3 * time.Minute, LockoutTTL: 3 * time.Minute},
		},
		RecoveryCodeTTL: 3 * time.Minute,
		ResetTokenTTL:   10 * time.Minute,
		ExternalTimeout: 5 * time.Second,
	}
	return env
}

const testPassword = "Correct-horse1"

func ptr[T any](v T) *T { return &v }

// newUser builds an active user with phone and, if password is non-empty, a hash of it.
func newUser(t *testing.T, phone, password string, role store.Role) *store.User {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	u := &store.User{
		ID:        id,
		Phone:     ptr(phone),
		FirstName: ptr("Ivan"),
		LastName:  ptr("Petrov"),
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		u.PasswordHash = &hash
	}
	return u
}

// storedUser returns the mock store's current copy of id.
func (e *testEnv) storedUser(t *testing.T, id uuid.UUID) *store.User {
	t.Helper()
	u, err := e.store.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUserByID(%s): %v", id, err)
	}
	return u
}
