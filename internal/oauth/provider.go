// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"
	"time"
)

// Profile is the identity a provider returns after a successful code exchange.
// Only ID is guaranteed; empty strings and nil Birthday mean "not provided".
// Values are raw as received; callers normalize phone and names before storing.
type Profile struct {
	ID        string // provider-specific stable user id
	FirstName string
	LastName  string
	Birthday  *time.Time
	Phone     string
	Email     string
}

// Provider is an OAuth2 authorization-code identity provider.
// PKCE (RFC 7636, S256): callers pass the code_challenge to AuthCodeURL and the
// matching code_verifier to Exchange.
type Provider interface {
	// Name is the identifier used in routes and stored in oauth_accounts.provider.
	Name() string

	// AuthCodeURL returns the consent page URL with state and code_challenge embedded.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange trades the authorization code for the user's profile.
	Exchange(ctx context.Context, code, codeVerifier string) (*Profile, error)
}
