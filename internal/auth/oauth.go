// oauth.go -- Generic OAuth2 redirect and callback handlers.
// Provider-specific logic lives in internal/oauth/*.go.
// Adding a new provider: implement oauth.Provider, register it in Service.Providers in main.go.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/pomodoro/internal/oauth"
	"github.com/go-chi/chi/v5"
)

const oauthStateCookieName = "__Host-oauth-state"

// oauthStateCookie is the payload stored in __Host-oauth-state during the OAuth round-trip.
type oauthStateCookie struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// OAuthRedirect handles GET /auth/login/{provider} -- generates PKCE + state, stores them in a
// short-lived HttpOnly cookie, and redirects the browser to the provider's consent page.
func (h *AuthHandler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	var stateBytes, verifierBytes [32]byte
	if _, err := rand.Read(stateBytes[:]); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if _, err := rand.Read(verifierBytes[:]); err != nil {
		InternalServerError(w, r, err)
		return
	}

	state := base64.RawURLEncoding.EncodeToString(stateBytes[:])
	codeVerifier := base64.RawURLEncoding.EncodeToString(verifierBytes[:])
	challenge := sha256.Sum256([]byte(codeVerifier))
	codeChallenge := base64.RawURLEncoding.EncodeToString(challenge[:])

	setOAuthStateCookie(w, state, codeVerifier)
	http.Redirect(w, r, provider.AuthCodeURL(state, codeChallenge), http.StatusFound)
}

// OAuthCallback handles GET /auth/{provider}?code=...&state=... -- verifies state, exchanges
// the authorization code, resolves the identity to a local user and returns a bearer token.
//
// The flow must start at GET /auth/login/{provider}: the callback needs the
// __Host-oauth-state cookie set there and a state query param matching it.
// A bare ?code= without that cookie is a 400; a state mismatch is a 401.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	// Read and immediately clear the state cookie to prevent replay.
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		logWarn(r, "oauth callback: missing state cookie")
		BadRequest(w, "missing oauth state")
		return
	}
	clearOAuthStateCookie(w)

	rawJSON, err := base64.RawURLEncoding.DecodeString(stateCookie.Value)
	if err != nil {
		logWarn(r, "oauth callback: bad state cookie encoding", "error", err)
		BadRequest(w, "invalid oauth state")
		return
	}
	var sc oauthStateCookie
	if err := json.Unmarshal(rawJSON, &sc); err != nil {
		logWarn(r, "oauth callback: bad state cookie json", "error", err)
		BadRequest(w, "invalid oauth state")
		return
	}

	// Constant-time comparison prevents timing oracle on state value.
	if subtle.ConstantTimeCompare([]byte(sc.State), []byte(r.URL.Query().Get("state"))) != 1 {
		logWarn(r, "oauth callback: state mismatch")
		writeError(w, r, ErrInvalidCredentials.WithDetail("invalid oauth state"))
		return
	}

	token, err := h.Svc.CompleteOAuth(r.Context(), provider.Name(), r.URL.Query().Get("code"), sc.Verifier)
	if err != nil {
		logWarn(r, "oauth callback failed", "provider", provider.Name(), "error", err)
		writeError(w, r, err)
		return
	}

	logInfo(r, "oauth callback completed", "provider", provider.Name())
	writeJSON(w, http.StatusOK, bearer(token))
}

// oauthProvider reads the {provider} URL param and looks it up on the service.
// Writes 404 and returns (nil, false) when the provider is not configured.
func (h *AuthHandler) oauthProvider(r *http.Request, w http.ResponseWriter) (oauth.Provider, bool) {
	p, ok := h.Svc.Provider(chi.URLParam(r, "provider"))
	if !ok {
		NotFound(w)
		return nil, false
	}
	return p, true
}

// setOAuthStateCookie stores state + PKCE verifier in a short-lived HttpOnly cookie.
func setOAuthStateCookie(w http.ResponseWriter, state, verifier string) {
	payload, _ := json.Marshal(oauthStateCookie{State: state, Verifier: verifier})
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})
}

// clearOAuthStateCookie expires the OAuth state cookie immediately.
func clearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
