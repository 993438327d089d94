// errors.go

// Domain error taxonomy returned by Service and mapped to HTTP status by the handlers.
package auth

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// AppError is a typed, client-safe failure. Detail is shown to the caller;
// Err carries the internal cause for logs only.
type AppError struct {
	Type   string
	Detail string
	Err    error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Type + ": " + e.Detail + ": " + e.Err.Error()
	}
	return e.Type + ": " + e.Detail
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any *AppError with the same Type, so errors.Is(err, ErrUserNotFound)
// holds regardless of Detail.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Type == e.Type
}

// WithDetail returns a copy with a different client-facing message.
func (e *AppError) WithDetail(detail string) *AppError {
	return &AppError{Type: e.Type, Detail: detail, Err: e.Err}
}

// wrap returns a copy carrying cause for logging.
func (e *AppError) wrap(cause error) *AppError {
	return &AppError{Type: e.Type, Detail: e.Detail, Err: cause}
}

var (
	ErrInvalidCredentials   = &AppError{Type: "InvalidCredentials", Detail: "invalid credentials"}
	ErrUserNotFound         = &AppError{Type: "UserNotFoundError", Detail: "user not found"}
	ErrAccessDenied         = &AppError{Type: "AccessDenied", Detail: "access denied"}
	ErrIntegrity            = &AppError{Type: "IntegrityDBError", Detail: "record conflicts with existing data"}
	ErrPasswordAlreadySet   = &AppError{Type: "PasswordAlreadySet", Detail: "password already set"}
	ErrInvalidResetToken    = &AppError{Type: "InvalidResetToken", Detail: "invalid or expired reset token"}
	ErrInvalidOrExpiredCode = &AppError{Type: "InvalidOrExpiredCode", Detail: "invalid or expired recovery code"}
	ErrValidation           = &AppError{Type: "ValidationError", Detail: "invalid input"}
	ErrUpstream             = &AppError{Type: "UpstreamUnavailable", Detail: "external service unavailable, try again later"}
	ErrInvalidToken         = &AppError{Type: "InvalidToken", Detail: "could not validate credentials"}
	ErrRateLimited          = &AppError{Type: "TooManyRequests", Detail: "too many attempts, try again later"}
)

// validationError joins rule failures into one ValidationError.
func validationError(failures ...string) *AppError {
	return ErrValidation.WithDetail(strings.Join(failures, "; "))
}

// integrityError translates Postgres constraint violations into ErrIntegrity
// with a message that names the conflict without leaking SQL.
// Returns nil if err is not a constraint violation.
func integrityError(err error) *AppError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	var detail string
	switch pgErr.Code {
	case "23505":
		detail = "unique constraint violated"
		switch {
		case strings.Contains(pgErr.ConstraintName, "phone"):
			detail = "phone already registered"
		case strings.Contains(pgErr.ConstraintName, "email"):
			detail = "email already registered"
		}
	case "23503":
		detail = "referenced record does not exist"
	case "23502":
		detail = "required field is missing"
	default:
		return nil
	}
	return ErrIntegrity.WithDetail(detail).wrap(err)
}
