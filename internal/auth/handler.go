// handler.go -- HTTP handlers for registration, login and /users/* profile endpoints.
package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/MGallo-Code/pomodoro/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// HealthChecker reports whether a backing dependency is reachable.
// Satisfied by *store.PostgresStore and *store.RecoveryStore.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CaptchaVerifier checks a client CAPTCHA token. Satisfied by *captcha.TurnstileVerifier.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, action, remoteIP string) error
}

// AuthHandler holds dependencies for all HTTP handlers and middleware.
type AuthHandler struct {
	Svc *Service
	PS  HealthChecker
	RS  HealthChecker

	// Captcha guards registration and recovery requests; nil disables the check.
	Captcha CaptchaVerifier
}

// checkCaptcha verifies token for action when a verifier is configured.
// Writes 400 and returns false on failure.
func (h *AuthHandler) checkCaptcha(w http.ResponseWriter, r *http.Request, token, action string) bool {
	if h.Captcha == nil {
		return true
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if err := h.Captcha.Verify(r.Context(), token, action, ip); err != nil {
		logWarn(r, "captcha verification failed", "action", action, "error", err)
		BadRequest(w, "captcha verification failed")
		return false
	}
	return true
}

// decodeJSON reads a size-capped JSON body into dst. Writes 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, "error decoding request body")
		return false
	}
	return true
}

// mustUser returns the user injected by RequireAuth. Writes 401 if absent.
func mustUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, ErrInvalidToken)
		return nil, false
	}
	return u, true
}

// Register handles POST /auth/register -- phone + password signup.
// Returns 201 with the created user, 422 for validation errors, 409 for a taken phone or email.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Phone      string `json:"phone"`
		Password   string `json:"password"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
		Patronymic string `json:"patronymic"`
		Email      string `json:"email"`
		Birthday   string `json:"birthday"`
		About      string `json:"about"`

		CaptchaToken string `json:"captcha_token"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if !h.checkCaptcha(w, r, input.CaptchaToken, "register") {
		return
	}

	user, err := h.Svc.Register(r.Context(), RegisterInput{
		Phone:      input.Phone,
		Password:   input.Password,
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Patronymic: input.Patronymic,
		Email:      input.Email,
		Birthday:   input.Birthday,
		About:      input.About,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logInfo(r, "user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, projectUser(user))
}

// Login handles POST /auth/login -- OAuth2 password form (username = phone).
// Returns 200 with a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		logWarn(r, "failed to parse login form", "error", err)
		BadRequest(w, "error decoding request body")
		return
	}

	token, err := h.Svc.Login(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bearer(token))
}

// Me handles GET /users/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, projectUser(actor))
}

// profileInput is the JSON body for profile updates. Absent fields are left unchanged.
type profileInput struct {
	Phone      *string `json:"phone"`
	Email      *string `json:"email"`
	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	Patronymic *string `json:"patronymic"`
	Birthday   *string `json:"birthday"`
	About      *string `json:"about"`
}

func (p profileInput) toService() ProfileInput {
	return ProfileInput(p)
}

// UpdateMe handles PATCH /users/me.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustUser(w, r)
	if !ok {
		return
	}
	h.updateProfile(w, r, actor, actor.ID)
}

// UpdateUser handles PATCH /users/{id}. Role hierarchy is enforced by the service.
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustUser(w, r)
	if !ok {
		return
	}
	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	h.updateProfile(w, r, actor, targetID)
}

func (h *AuthHandler) updateProfile(w http.ResponseWriter, r *http.Request, actor *store.User, targetID uuid.UUID) {
	var input profileInput
	if !decodeJSON(w, r, &input) {
		return
	}
	updated, err := h.Svc.UpdateProfile(r.Context(), actor, targetID, input.toService())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectUser(updated))
}

// DeleteUser handles DELETE /users/{id}. Root only.
// Returns 204 on success.
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustUser(w, r)
	if !ok {
		return
	}
	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DeleteUser(r.Context(), actor, targetID); err != nil {
		writeError(w, r, err)
		return
	}
	logInfo(r, "user deleted", "target_id", targetID)
	w.WriteHeader(http.StatusNoContent)
}

// userIDParam parses the {id} URL param. Writes 422 on a malformed id.
func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, validationError("invalid user id"))
		return uuid.Nil, false
	}
	return id, true
}
