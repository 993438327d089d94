package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// fakeYandex serves /token and /info the way oauth.yandex.ru and login.yandex.ru do.
func fakeYandex(t *testing.T, info map[string]any, infoStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		if r.Form.Get("code_verifier") != "verifier-123" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"yandex-at","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer yandex-at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(infoStatus)
		json.NewEncoder(w).Encode(info)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(srv *httptest.Server) *YandexProvider {
	p := NewYandexProvider("client-id", "client-secret", "https://app.example/auth/yandex")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	p.infoURL = srv.URL + "/info"
	p.client = srv.Client()
	return p
}

func TestYandexAuthCodeURL(t *testing.T) {
	p := NewYandexProvider("client-id", "secret", "https://app.example/auth/yandex")

	u, err := url.Parse(p.AuthCodeURL("state-xyz", "challenge-abc"))
	if err != nil {
		t.Fatalf("parsing auth url: %v", err)
	}
	if !strings.HasPrefix(u.String(), "https://oauth.yandex.") {
		t.Errorf("expected yandex host, got %s", u.Host)
	}
	q := u.Query()
	for k, want := range map[string]string{
		"state":                 "state-xyz",
		"code_challenge":        "challenge-abc",
		"code_challenge_method": "S256",
		"client_id":             "client-id",
		"response_type":         "code",
	} {
		if got := q.Get(k); got != want {
			t.Errorf("%s: expected %q, got %q", k, want, got)
		}
	}
}

func TestYandexExchange(t *testing.T) {
	ctx := context.Background()

	t.Run("returns profile from info endpoint", func(t *testing.T) {
		srv := fakeYandex(t, map[string]any{
			"id":            "1000042",
			"first_name":    "Ivan",
			"last_name":     "Petrov",
			"birthday":      "1990-05-17",
			"default_email": "ivan@yandex.ru",
			"default_phone": map[string]any{"id": 1, "number": "+79181111111"},
		}, http.StatusOK)

		prof, err := testProvider(srv).Exchange(ctx, "good-code", "verifier-123")
		if err != nil {
			t.Fatalf("Exchange: %v", err)
		}
		if prof.ID != "1000042" || prof.FirstName != "Ivan" || prof.LastName != "Petrov" {
			t.Errorf("unexpected profile: %+v", prof)
		}
		if prof.Phone != "+79181111111" || prof.Email != "ivan@yandex.ru" {
			t.Errorf("unexpected contacts: phone=%q email=%q", prof.Phone, prof.Email)
		}
		want := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
		if prof.Birthday == nil || !prof.Birthday.Equal(want) {
			t.Errorf("Birthday: expected %v, got %v", want, prof.Birthday)
		}
	})

	t.Run("missing optional fields stay empty", func(t *testing.T) {
		srv := fakeYandex(t, map[string]any{"id": "7", "birthday": "0000-05-17"}, http.StatusOK)

		prof, err := testProvider(srv).Exchange(ctx, "good-code", "verifier-123")
		if err != nil {
			t.Fatalf("Exchange: %v", err)
		}
		if prof.Phone != "" || prof.Email != "" || prof.Birthday != nil {
			t.Errorf("expected empty optional fields, got %+v", prof)
		}
	})

	t.Run("bad code fails", func(t *testing.T) {
		srv := fakeYandex(t, map[string]any{"id": "7"}, http.StatusOK)
		if _, err := testProvider(srv).Exchange(ctx, "bad-code", "verifier-123"); err == nil {
			t.Fatal("expected error for rejected code")
		}
	})

	t.Run("wrong verifier fails", func(t *testing.T) {
		srv := fakeYandex(t, map[string]any{"id": "7"}, http.StatusOK)
		if _, err := testProvider(srv).Exchange(ctx, "good-code", "other"); err == nil {
			t.Fatal("expected error for wrong verifier")
		}
	})

	t.Run("info endpoint error fails", func(t *testing.T) {
		srv := fakeYandex(t, map[string]any{}, http.StatusInternalServerError)
		if _, err := testProvider(srv).Exchange(ctx, "good-code", "verifier-123"); err == nil {
			t.Fatal("expected error for info failure")
		}
	})

	t.Run("profile without id fails", func(t *testing.T) {
		srv := fakeYandex(t, map[string]any{"first_name": "Ivan"}, http.StatusOK)
		if _, err := testProvider(srv).Exchange(ctx, "good-code", "verifier-123"); err == nil {
			t.Fatal("expected error for missing id")
		}
	})
}
