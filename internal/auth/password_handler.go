// password_handler.go -- Password set/change and forgot-password handlers.
package auth

import (
	"net/http"
)

// SetPassword handles PATCH /users/me/set_password with body {"new_password"} --
// first local password for an account created through an external provider.
// Returns 200 with the updated user, 409 if a password already exists.
func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustUser(w, r)
	if !ok {
		return
	}
	var input struct {
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	updated, err := h.Svc.SetPassword(r.Context(), actor, input.NewPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectUser(updated))
}

// ChangePassword handles PATCH /users/me/change_password.
// Returns 200 with the updated user, 401 for a wrong old password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustUser(w, r)
	if !ok {
		return
	}
	var input struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	updated, err := h.Svc.ChangePassword(r.Context(), actor, input.OldPassword, input.NewPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectUser(updated))
}

// RequestRecovery handles POST /users/reset_password_via_email.
// Always returns 200 with a recovery_id for a well-formed phone; the response
// never reveals whether an account exists or has an email on file.
func (h *AuthHandler) RequestRecovery(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Phone        string `json:"phone"`
		CaptchaToken string `json:"captcha_token"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if !h.checkCaptcha(w, r, input.CaptchaToken, "recovery") {
		return
	}

	recoveryID, err := h.Svc.RequestRecovery(r.Context(), input.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RecoveryID string `json:"recovery_id"`
	}{recoveryID})
}

// CheckRecoveryCode handles POST /users/check_recovery_code.
// Exchanges a valid code for a single-use reset token; 401 otherwise.
func (h *AuthHandler) CheckRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var input struct {
		RecoveryID   string `json:"recovery_id"`
		RecoveryCode int    `json:"recovery_code"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	resetToken, err := h.Svc.VerifyRecoveryCode(r.Context(), input.RecoveryID, input.RecoveryCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ResetToken string `json:"reset_token"`
	}{resetToken})
}

// ConfirmResetPassword handles PATCH /users/confirm_reset_password with body
// {"token", "new_password"}, where token is the reset_token from CheckRecoveryCode.
// Consumes the reset token and sets the new password; 403 for an unknown or used token.
func (h *AuthHandler) ConfirmResetPassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	updated, err := h.Svc.ConfirmReset(r.Context(), input.Token, input.NewPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logInfo(r, "password reset completed", "user_id", updated.ID)
	writeJSON(w, http.StatusOK, projectUser(updated))
}
