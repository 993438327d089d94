package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- CreateUser + GetUserByPhone ---

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trip by phone and id", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000001", ptr("$argon2id$fake"))

		if u.Role != RoleUser {
			t.Errorf("Role: expected %q, got %q", RoleUser, u.Role)
		}
		if !u.IsActive {
			t.Error("expected new user to be active")
		}

		byPhone, err := testStore.GetUserByPhone(ctx, "+79000000001")
		if err != nil {
			t.Fatalf("GetUserByPhone: %v", err)
		}
		if byPhone.ID != u.ID {
			t.Errorf("ID: expected %v, got %v", u.ID, byPhone.ID)
		}

		byID, err := testStore.GetUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if byID.PasswordHash == nil || *byID.PasswordHash != "$argon2id$fake" {
			t.Errorf("PasswordHash: got %v", byID.PasswordHash)
		}
	})

	t.Run("duplicate phone is a unique violation", func(t *testing.T) {
		mustCreateUser(t, ctx, "+79000000002", nil)

		id, _ := uuid.NewV7()
		err := testStore.CreateUser(ctx, &User{ID: id, Phone: ptr("+79000000002")})
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			t.Fatalf("expected unique violation, got %v", err)
		}
	})

	t.Run("missing user returns ErrNoRows", func(t *testing.T) {
		_, err := testStore.GetUserByPhone(ctx, "+79000009999")
		if !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows, got %v", err)
		}
	})
}

// --- SetPasswordIfUnset ---

func TestSetPasswordIfUnset(t *testing.T) {
	ctx := context.Background()

	t.Run("sets hash when none exists", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000010", nil)

		got, err := testStore.SetPasswordIfUnset(ctx, u.ID, "hash-1")
		if err != nil {
			t.Fatalf("SetPasswordIfUnset: %v", err)
		}
		if got.PasswordHash == nil || *got.PasswordHash != "hash-1" {
			t.Errorf("PasswordHash: got %v", got.PasswordHash)
		}
	})

	t.Run("refuses to overwrite existing hash", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000011", ptr("hash-old"))

		_, err := testStore.SetPasswordIfUnset(ctx, u.ID, "hash-new")
		if !errors.Is(err, ErrPasswordAlreadySet) {
			t.Fatalf("expected ErrPasswordAlreadySet, got %v", err)
		}
		got, _ := testStore.GetUserByID(ctx, u.ID)
		if *got.PasswordHash != "hash-old" {
			t.Error("existing hash was overwritten")
		}
	})

	t.Run("unknown user returns ErrNoRows", func(t *testing.T) {
		id, _ := uuid.NewV7()
		_, err := testStore.SetPasswordIfUnset(ctx, id, "hash")
		if !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows, got %v", err)
		}
	})
}

// --- UpdateUserPassword ---

func TestUpdateUserPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces hash", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000020", ptr("hash-a"))
		got, err := testStore.UpdateUserPassword(ctx, u.ID, "hash-b")
		if err != nil {
			t.Fatalf("UpdateUserPassword: %v", err)
		}
		if *got.PasswordHash != "hash-b" {
			t.Errorf("expected hash-b, got %s", *got.PasswordHash)
		}
	})
}

// --- UpdateUserProfile ---

func TestUpdateUserProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("changing email resets email_verified", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000030", nil)
		testStore.pool.Exec(ctx, "UPDATE users SET email = 'a@example.com', email_verified = true WHERE id = $1", u.ID)

		got, err := testStore.UpdateUserProfile(ctx, u.ID, ProfilePatch{Email: ptr("b@example.com"), FirstName: ptr("Ivan")})
		if err != nil {
			t.Fatalf("UpdateUserProfile: %v", err)
		}
		if got.EmailVerified {
			t.Error("expected email_verified reset to false")
		}
		if *got.Email != "b@example.com" || *got.FirstName != "Ivan" {
			t.Errorf("unexpected profile: email=%v first=%v", *got.Email, *got.FirstName)
		}
	})

	t.Run("empty patch returns current row", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000031", nil)
		got, err := testStore.UpdateUserProfile(ctx, u.ID, ProfilePatch{})
		if err != nil {
			t.Fatalf("UpdateUserProfile: %v", err)
		}
		if got.ID != u.ID {
			t.Error("expected same user back")
		}
	})
}

// --- DeleteUser ---

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("cascades to identities", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000040", nil)
		e := newIdentity(t, "del-1")
		e.UserID = u.ID
		if err := testStore.LinkIdentity(ctx, e, ProfilePatch{}); err != nil {
			t.Fatalf("LinkIdentity: %v", err)
		}

		if err := testStore.DeleteUser(ctx, u.ID); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}
		if _, err := testStore.GetIdentity(ctx, "yandex", "del-1"); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected identity removed, got %v", err)
		}
		if err := testStore.DeleteUser(ctx, u.ID); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("second delete: expected pgx.ErrNoRows, got %v", err)
		}
	})
}

// --- CreateUserWithIdentity ---

func TestCreateUserWithIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and link together", func(t *testing.T) {
		cleanupIdentity(t, "cwi-1")
		uid, _ := uuid.NewV7()
		u := &User{ID: uid, FirstName: ptr("Anna")}
		e := newIdentity(t, "cwi-1")

		if err := testStore.CreateUserWithIdentity(ctx, u, e); err != nil {
			t.Fatalf("CreateUserWithIdentity: %v", err)
		}
		got, err := testStore.GetIdentity(ctx, "yandex", "cwi-1")
		if err != nil {
			t.Fatalf("GetIdentity: %v", err)
		}
		if got.UserID != uid {
			t.Errorf("UserID: expected %v, got %v", uid, got.UserID)
		}
	})

	t.Run("concurrent callers create exactly one user", func(t *testing.T) {
		cleanupIdentity(t, "cwi-race")

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		ids := make([]uuid.UUID, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids[i], _ = uuid.NewV7()
				errs[i] = testStore.CreateUserWithIdentity(ctx, &User{ID: ids[i]}, newIdentity(t, "cwi-race"))
			}()
		}
		wg.Wait()

		succeeded := 0
		for i, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrIdentityExists):
				// Loser's user row must have been rolled back.
				if _, err := testStore.GetUserByID(ctx, ids[i]); !errors.Is(err, pgx.ErrNoRows) {
					t.Errorf("orphan user %v left behind: %v", ids[i], err)
				}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if succeeded != 1 {
			t.Errorf("expected exactly 1 success, got %d", succeeded)
		}
	})
}

// --- LinkIdentity ---

func TestLinkIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("fills only empty columns", func(t *testing.T) {
		u := mustCreateUser(t, ctx, "+79000000050", nil)
		testStore.pool.Exec(ctx, "UPDATE users SET first_name = 'Local', last_name = '' WHERE id = $1", u.ID)

		e := newIdentity(t, "link-1")
		e.UserID = u.ID
		bday := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
		enrich := ProfilePatch{FirstName: ptr("Remote"), LastName: ptr("Petrov"), Birthday: &bday}
		if err := testStore.LinkIdentity(ctx, e, enrich); err != nil {
			t.Fatalf("LinkIdentity: %v", err)
		}

		got, _ := testStore.GetUserByID(ctx, u.ID)
		if *got.FirstName != "Local" {
			t.Errorf("first_name overwritten: %s", *got.FirstName)
		}
		if got.LastName == nil || *got.LastName != "Petrov" {
			t.Errorf("last_name not filled: %v", got.LastName)
		}
		if got.Birthday == nil || !got.Birthday.Equal(bday) {
			t.Errorf("birthday not filled: %v", got.Birthday)
		}
	})

	t.Run("already linked identity rolls back enrichment", func(t *testing.T) {
		owner := mustCreateUser(t, ctx, "+79000000051", nil)
		other := mustCreateUser(t, ctx, "+79000000052", nil)

		e := newIdentity(t, "link-dup")
		e.UserID = owner.ID
		if err := testStore.LinkIdentity(ctx, e, ProfilePatch{}); err != nil {
			t.Fatalf("first LinkIdentity: %v", err)
		}

		dup := newIdentity(t, "link-dup")
		dup.UserID = other.ID
		err := testStore.LinkIdentity(ctx, dup, ProfilePatch{FirstName: ptr("Hijack")})
		if !errors.Is(err, ErrIdentityExists) {
			t.Fatalf("expected ErrIdentityExists, got %v", err)
		}
		got, _ := testStore.GetUserByID(ctx, other.ID)
		if got.FirstName != nil {
			t.Errorf("enrichment leaked from rolled back link: %v", *got.FirstName)
		}
	})
}
