// token_test.go

// unit tests for TokenCodec.
package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec([]byte("test-secret-test-secret-test-secret"), "HS256", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return c
}

func TestNewTokenCodec(t *testing.T) {
	tests := []struct {
		name   string
		secret []byte
		alg    string
		ttl    time.Duration
	}{
		{"empty secret", nil, "HS256", time.Minute},
		{"asymmetric algorithm", []byte("s"), "RS256", time.Minute},
		{"unknown algorithm", []byte("s"), "nope", time.Minute},
		{"zero ttl", []byte("s"), "HS256", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTokenCodec(tc.secret, tc.alg, tc.ttl); err == nil {
				t.Error("expected error")
			}
		})
	}

	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		if _, err := NewTokenCodec([]byte("s"), alg, time.Minute); err != nil {
			t.Errorf("%s: unexpected error: %v", alg, err)
		}
	}
}

func TestTokenCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	tok, err := c.Issue("0190f3a0-0000-7000-8000-000000000001")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sub, err := c.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sub != "0190f3a0-0000-7000-8000-000000000001" {
		t.Errorf("subject: expected round trip, got %q", sub)
	}
}

func TestTokenCodecParseRejects(t *testing.T) {
	c := newTestCodec(t)

	t.Run("expired", func(t *testing.T) {
		issued := time.Now().Add(-time.Hour)
		c.now = func() time.Time { return issued }
		tok, err := c.Issue("user")
		c.now = time.Now
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		_, err = c.Parse(tok)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
		if !errors.Is(err, jwt.ErrTokenExpired) {
			t.Errorf("expected cause jwt.ErrTokenExpired, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenCodec([]byte("another-secret"), "HS256", time.Minute)
		if err != nil {
			t.Fatalf("NewTokenCodec: %v", err)
		}
		tok, _ := other.Issue("user")
		if _, err := c.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("different algorithm same secret", func(t *testing.T) {
		other, err := NewTokenCodec(c.secret, "HS512", time.Minute)
		if err != nil {
			t.Fatalf("NewTokenCodec: %v", err)
		}
		tok, _ := other.Issue("user")
		if _, err := c.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("alg none", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("signing none token: %v", err)
		}
		if _, err := c.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing expiry", func(t *testing.T) {
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user"}).SignedString(c.secret)
		if _, err := c.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		tok, err := c.Issue("")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := c.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := c.Parse("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})
}
