// yandex.go -- Yandex ID provider implementation.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/yandex"
)

const yandexInfoURL = "https://login.yandex.ru/info?format=json"

// YandexProvider implements Provider with the Yandex OAuth code flow.
// Yandex issues no ID token here; the profile comes from the login.yandex.ru info endpoint.
type YandexProvider struct {
	config  *oauth2.Config
	infoURL string
	client  *http.Client
}

// NewYandexProvider builds a provider for the given app credentials.
// Makes no network calls.
func NewYandexProvider(clientID, clientSecret, redirectURL string) *YandexProvider {
	return &YandexProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     yandex.Endpoint,
			Scopes:       []string{"login:info", "login:email", "login:birthday", "login:default_phone"},
		},
		infoURL: yandexInfoURL,
		client:  http.DefaultClient,
	}
}

// Name returns "yandex".
func (p *YandexProvider) Name() string { return "yandex" }

// AuthCodeURL builds the Yandex consent URL with state and PKCE S256 challenge.
func (p *YandexProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// yandexInfo is the subset of the info endpoint response we read.
type yandexInfo struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Birthday     string `json:"birthday"`
	DefaultEmail string `json:"default_email"`
	DefaultPhone *struct {
		Number string `json:"number"`
	} `json:"default_phone"`
}

// Exchange trades code for an access token, then fetches the profile with it.
// The token is used once and not stored.
func (p *YandexProvider) Exchange(ctx context.Context, code, codeVerifier string) (*Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.infoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building info request: %w", err)
	}

	// config.Client sets "Authorization: Bearer <token>" over p.client's transport.
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching yandex profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetching yandex profile: status %d", resp.StatusCode)
	}

	var info yandexInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding yandex profile: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("yandex profile has no id")
	}

	prof := &Profile{
		ID:        info.ID,
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Email:     info.DefaultEmail,
	}
	if info.DefaultPhone != nil {
		prof.Phone = info.DefaultPhone.Number
	}
	// Yandex sends "" or partial dates like "0000-05-17" when the year is hidden.
	if b, err := time.Parse(time.DateOnly, info.Birthday); err == nil && b.Year() > 1 {
		prof.Birthday = &b
	}
	return prof, nil
}
