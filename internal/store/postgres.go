// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation of values).
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// identityConstraint is the unique constraint guarding one local user per external identity.
const identityConstraint = "uq_provider_provider_user"

// userColumns is the select list matching scanUser.
const userColumns = `id, phone, phone_verified, email, email_verified, first_name, last_name,
	patronymic, birthday, about, password_hash, role, is_active, created_at, updated_at`

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	// Create a pool w/ database url, return if err
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scanUser reads one users row in userColumns order.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Phone, &u.PhoneVerified, &u.Email, &u.EmailVerified,
		&u.FirstName, &u.LastName, &u.Patronymic, &u.Birthday, &u.About,
		&u.PasswordHash, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// CreateUser inserts a new user. Caller generates the UUID v7 and any password hash.
// CreatedAt/UpdatedAt/IsActive are filled from the database on success.
// Returns raw pgx error; service inspects it for unique violations (duplicate phone, email).
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	return insertUser(ctx, s.pool, u)
}

// querier is the subset of pgxpool.Pool and pgx.Tx used by shared insert helpers.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, q querier, u *User) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	return q.QueryRow(ctx,
		`INSERT INTO users (id, phone, email, first_name, last_name, patronymic, birthday, about, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING phone_verified, email_verified, is_active, created_at, updated_at`,
		u.ID, u.Phone, u.Email, u.FirstName, u.LastName, u.Patronymic, u.Birthday, u.About,
		u.PasswordHash, string(u.Role),
	).Scan(&u.PhoneVerified, &u.EmailVerified, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
}

// GetUserByID fetches a user by primary key. Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// GetUserByPhone fetches a user by normalized phone. Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE phone = $1", phone))
}

// UpdateUserPassword replaces the password hash. Returns pgx.ErrNoRows if no such user.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
		 RETURNING `+userColumns, id, passwordHash))
}

// SetPasswordIfUnset sets the password hash only when none exists yet.
// The NULL check runs inside the UPDATE, so two concurrent calls cannot both succeed.
// Returns ErrPasswordAlreadySet if the user has a password, pgx.ErrNoRows if no such user.
func (s *PostgresStore) SetPasswordIfUnset(ctx context.Context, id uuid.UUID, passwordHash string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW()
		 WHERE id = $1 AND password_hash IS NULL
		 RETURNING `+userColumns, id, passwordHash))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Distinguish "already set" from "no such user".
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrPasswordAlreadySet
	}
	return nil, pgx.ErrNoRows
}

// UpdateUserProfile applies the non-nil fields of patch.
// Changing phone or email resets the matching *_verified flag.
// Returns pgx.ErrNoRows if no such user.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, patch ProfilePatch) (*User, error) {
	if patch.Empty() {
		return s.GetUserByID(ctx, id)
	}

	sets := []string{}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
		sets = append(sets, "phone_verified = false")
	}
	if patch.Email != nil {
		add("email", *patch.Email)
		sets = append(sets, "email_verified = false")
	}
	if patch.FirstName != nil {
		add("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.Patronymic != nil {
		add("patronymic", *patch.Patronymic)
	}
	if patch.Birthday != nil {
		add("birthday", *patch.Birthday)
	}
	if patch.About != nil {
		add("about", *patch.About)
	}
	sets = append(sets, "updated_at = NOW()")

	return scanUser(s.pool.QueryRow(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = $1 RETURNING "+userColumns,
		args...))
}

// DeleteUser hard-deletes a user; oauth_accounts rows cascade.
// Returns pgx.ErrNoRows if no such user.
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetIdentity fetches the link for (provider, providerUserID). Returns pgx.ErrNoRows if unlinked.
func (s *PostgresStore) GetIdentity(ctx context.Context, provider, providerUserID string) (*ExternalIdentity, error) {
	var e ExternalIdentity
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider, provider_user_id, user_id, phone, email, first_name, last_name, birthday, created_at, updated_at
		 FROM oauth_accounts WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&e.ID, &e.Provider, &e.ProviderUserID, &e.UserID, &e.Phone, &e.Email,
		&e.FirstName, &e.LastName, &e.Birthday, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func insertIdentity(ctx context.Context, q querier, e *ExternalIdentity) error {
	return q.QueryRow(ctx,
		`INSERT INTO oauth_accounts (id, provider, provider_user_id, user_id, phone, email, first_name, last_name, birthday)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		e.ID, e.Provider, e.ProviderUserID, e.UserID, e.Phone, e.Email, e.FirstName, e.LastName, e.Birthday,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

// CreateUserWithIdentity inserts a new user and its external identity in one transaction.
// If the identity is already linked the user insert is rolled back and ErrIdentityExists returned.
func (s *PostgresStore) CreateUserWithIdentity(ctx context.Context, u *User, e *ExternalIdentity) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		e.UserID = u.ID
		return insertIdentity(ctx, tx, e)
	})
}

// LinkIdentity binds an external identity to an existing user and fills empty profile
// columns from enrich, in one transaction. Non-empty columns are never overwritten.
// Returns ErrIdentityExists (rolled back) if the identity is already linked.
func (s *PostgresStore) LinkIdentity(ctx context.Context, e *ExternalIdentity, enrich ProfilePatch) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertIdentity(ctx, tx, e); err != nil {
			return err
		}
		if enrich.Empty() {
			return nil
		}
		// COALESCE(NULLIF(col, ''), $n): keep any non-empty local value.
		_, err := tx.Exec(ctx,
			`UPDATE users SET
				first_name = COALESCE(NULLIF(first_name, ''), $2),
				last_name  = COALESCE(NULLIF(last_name, ''), $3),
				email      = COALESCE(NULLIF(email, ''), $4),
				birthday   = COALESCE(birthday, $5),
				updated_at = NOW()
			 WHERE id = $1`,
			e.UserID, enrich.FirstName, enrich.LastName, enrich.Email, enrich.Birthday)
		return err
	})
}

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
// Unique violations of the identity constraint are reported as ErrIdentityExists.
func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == identityConstraint {
			return ErrIdentityExists
		}
		return err
	}
	return tx.Commit(ctx)
}
