// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Error bodies are {"error_type", "detail"};
// details come from *AppError values and never carry internal error text.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/MGallo-Code/pomodoro/internal/store"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	ErrorType string `json:"error_type"`
	Detail    string `json:"detail"`
}

// statusByType maps AppError.Type to HTTP status.
var statusByType = map[string]int{
	ErrInvalidCredentials.Type:   http.StatusUnauthorized,
	ErrUserNotFound.Type:         http.StatusNotFound,
	ErrAccessDenied.Type:         http.StatusForbidden,
	ErrIntegrity.Type:            http.StatusConflict,
	ErrPasswordAlreadySet.Type:   http.StatusConflict,
	ErrInvalidResetToken.Type:    http.StatusForbidden,
	ErrInvalidOrExpiredCode.Type: http.StatusUnauthorized,
	ErrValidation.Type:           http.StatusUnprocessableEntity,
	ErrUpstream.Type:             http.StatusServiceUnavailable,
	ErrInvalidToken.Type:         http.StatusUnauthorized,
	ErrRateLimited.Type:          http.StatusTooManyRequests,
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err. *AppError values keep their type and detail;
// anything else becomes a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		InternalServerError(w, r, err)
		return
	}
	status, ok := statusByType[appErr.Type]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		logError(r, "request failed", "error_type", appErr.Type, "error", err)
	} else {
		logDebug(r, "request rejected", "error_type", appErr.Type, "error", err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, errorBody{ErrorType: appErr.Type, Detail: appErr.Detail})
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err, "error_go_type", reflect.TypeOf(err).String())
	writeJSON(w, http.StatusInternalServerError, errorBody{ErrorType: "InternalServerError", Detail: "internal server error"})
}

// BadRequest returns a 400 for malformed requests (undecodable body, bad state cookie).
func BadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{ErrorType: "BadRequest", Detail: message})
}

// NotFound returns a 404 for unknown routes parameters such as an unconfigured provider.
func NotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{ErrorType: "NotFound", Detail: "not found"})
}

// tokenResponse is the OAuth2-style bearer token body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func bearer(token string) tokenResponse {
	return tokenResponse{AccessToken: token, TokenType: "bearer"}
}

// userResponse is the outward projection of a user. Never includes the hash.
type userResponse struct {
	ID            string    `json:"id"`
	Phone         *string   `json:"phone"`
	PhoneVerified bool      `json:"phone_verified"`
	Email         *string   `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	FirstName     *string   `json:"first_name"`
	LastName      *string   `json:"last_name"`
	Patronymic    *string   `json:"patronymic"`
	Birthday      *string   `json:"birthday"`
	About         *string   `json:"about"`
	Role          string    `json:"role"`
	IsActive      bool      `json:"is_active"`
	HasPassword   bool      `json:"has_password"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func projectUser(u *store.User) userResponse {
	resp := userResponse{
		ID:            u.ID.String(),
		Phone:         u.Phone,
		PhoneVerified: u.PhoneVerified,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Patronymic:    u.Patronymic,
		About:         u.About,
		Role:          string(u.Role),
		IsActive:      u.IsActive,
		HasPassword:   u.PasswordHash != nil,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if u.Birthday != nil {
		b := u.Birthday.Format(time.DateOnly)
		resp.Birthday = &b
	}
	return resp
}
