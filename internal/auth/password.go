// password.go

// Argon2id hashing for passwords and recovery codes, plus input policy checks.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// argonParams are the cost parameters encoded into every hash.
type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

// defaultArgon is used for new hashes. Existing hashes verify with their own params.
var defaultArgon = argonParams{memory: 64 * 1024, time: 3, threads: 2, keyLen: 32}

const argonSaltLen = 16

var errMalformedHash = errors.New("malformed argon2id hash")

// HashPassword returns a PHC-formatted Argon2id hash of secret.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func HashPassword(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	p := defaultArgon
	key := argon2.IDKey([]byte(secret), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether secret matches encoded.
// A mismatch is (false, nil); an unparseable hash is a non-nil error.
// Comparison is constant-time.
func VerifyPassword(secret, encoded string) (bool, error) {
	p, salt, want, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(secret), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// decodePHC splits a $argon2id$ string into params, salt and key.
func decodePHC(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: version: %v", errMalformedHash, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %d", errMalformedHash, version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: params: %v", errMalformedHash, err)
	}
	if p.time == 0 || p.threads == 0 {
		return p, nil, nil, fmt.Errorf("%w: zero cost params", errMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %v", errMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", errMalformedHash)
	}
	p.keyLen = uint32(len(key))
	return p, salt, key, nil
}

// ValidateEmail checks format and length; returns a message or empty string.
func ValidateEmail(email string) string {
	switch {
	case len(email) < 5:
		return "email too short"
	case len(email) > 254:
		return "email too long"
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "invalid email format"
	}
	return ""
}

// PasswordPolicy is the complexity rule set applied before any password is hashed.
// Length limits count runes; 0 disables the limit. The zero value accepts anything non-empty.
type PasswordPolicy struct {
	MinLength      int
	MaxLength      int
	RequireLower   bool
	RequireUpper   bool
	RequireDigit   bool
	RequireSpecial bool // any rune that is not a letter, digit, underscore or space
}

// DefaultPasswordPolicy: at least 8 runes with lower, upper, digit and a symbol.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:      8,
	MaxLength:      128,
	RequireLower:   true,
	RequireUpper:   true,
	RequireDigit:   true,
	RequireSpecial: true,
}

// Validate returns one message per failed rule; empty means valid.
func (p PasswordPolicy) Validate(password string) []string {
	if password == "" {
		return []string{"password is required"}
	}

	var failures []string
	n := utf8.RuneCountInString(password)
	if p.MinLength > 0 && n < p.MinLength {
		failures = append(failures, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		failures = append(failures, fmt.Sprintf("password must be at most %d characters", p.MaxLength))
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsControl(r):
			return []string{"password contains invalid characters"}
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case r != '_' && !unicode.IsSpace(r) && !unicode.IsLetter(r):
			special = true
		}
	}

	if p.RequireLower && !lower {
		failures = append(failures, "password must contain a lowercase letter")
	}
	if p.RequireUpper && !upper {
		failures = append(failures, "password must contain an uppercase letter")
	}
	if p.RequireDigit && !digit {
		failures = append(failures, "password must contain a digit")
	}
	if p.RequireSpecial && !special {
		failures = append(failures, "password must contain a special character")
	}
	return failures
}
