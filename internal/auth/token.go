// token.go

// Signed bearer tokens (JWT) carrying the user id as subject.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCodec issues and validates HMAC-signed JWTs.
// Safe for concurrent use.
type TokenCodec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec builds a codec for algorithm HS256, HS384 or HS512.
func NewTokenCodec(secret []byte, algorithm string, ttl time.Duration) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}
	return &TokenCodec{secret: secret, method: method, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for subject, expiring after the codec TTL.
func (c *TokenCodec) Issue(subject string) (string, error) {
	now := c.now()
	tok := jwt.NewWithClaims(c.method, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm and expiry and returns the subject.
// Every failure is ErrInvalidToken; the cause is kept for logs.
func (c *TokenCodec) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", ErrInvalidToken.wrap(err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken.wrap(errors.New("missing subject"))
	}
	return claims.Subject, nil
}
