// password_test.go

// unit tests for HashPassword, VerifyPassword, PasswordPolicy and ValidateEmail.
package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
	"slices"
	"strings"
	"testing"
)

// --- HashPassword ---

func TestHashPassword(t *testing.T) {
	t.Run("output matches PHC format", func(t *testing.T) {
		hash, err := HashPassword("correcthorsebatterystaple")
		if err != nil {
			t.Fatalf("HashPassword returned error: %v", err)
		}

		// PHC format: $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
		// Make sure string splits into 6 parts
		parts := strings.Split(hash, "$")
		if len(parts) != 6 {
			t.Fatalf("expected 6 parts, got %d: %q", len(parts), hash)
		}
		// Validate var values
		if parts[1] != "argon2id" {
			t.Errorf("algorithm: expected argon2id, got %q", parts[1])
		}
		if parts[2] != "v=19" {
			t.Errorf("version: expected v=19, got %q", parts[2])
		}
		if parts[3] != "m=65536,t=3,p=2" {
			t.Errorf("params: expected m=65536,t=3,p=2, got %q", parts[3])
		}
	})

	// Make sure same password returns diff hashes w/ salts
	t.Run("unique salts per call", func(t *testing.T) {
		h1, err := HashPassword("same-password")
		if err != nil {
			t.Fatalf("first hash: %v", err)
		}
		h2, err := HashPassword("same-password")
		if err != nil {
			t.Fatalf("second hash: %v", err)
		}
		if h1 == h2 {
			t.Error("two hashes of the same password should differ (unique salts)")
		}
	})
}

// --- VerifyPassword ---

// randomAlphabet mixes ASCII, Cyrillic, whitespace and multi-byte symbols.
var randomAlphabet = []rune("abcXYZ019 !$-_ЖжЁёЩщ€✓🍅\t")

// randomPassword returns 1-24 runes drawn from randomAlphabet.
func randomPassword(t *testing.T) string {
	t.Helper()
	pick := func(n int) int {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
		if err != nil {
			t.Fatalf("rand.Int: %v", err)
		}
		return int(v.Int64())
	}
	out := make([]rune, 1+pick(24))
	for i := range out {
		out[i] = randomAlphabet[pick(len(randomAlphabet))]
	}
	return string(out)
}

func TestVerifyPassword(t *testing.T) {
	t.Run("correct password verifies", func(t *testing.T) {
		password := "correcthorsebatterystaple"
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}

		match, err := VerifyPassword(password, hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if !match {
			t.Error("correct password should verify")
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		hash, err := HashPassword("real-password")
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}

		match, err := VerifyPassword("wrong-password", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if match {
			t.Error("wrong password should not verify")
		}
	})

	// Round trip over random strings; argon2 is slow, so keep the sample small.
	t.Run("random passwords round trip", func(t *testing.T) {
		passwords := []string{"", "пароль-Ёжик 1", "🍅 pomodoro"}
		for range 4 {
			passwords = append(passwords, randomPassword(t))
		}

		hashes := make([]string, len(passwords))
		for i, p := range passwords {
			hash, err := HashPassword(p)
			if err != nil {
				t.Fatalf("HashPassword(%q): %v", p, err)
			}
			hashes[i] = hash

			match, err := VerifyPassword(p, hash)
			if err != nil {
				t.Fatalf("VerifyPassword(%q): %v", p, err)
			}
			if !match {
				t.Errorf("password %q should verify against its own hash", p)
			}
		}

		// Each password against its neighbour's hash.
		for i, p := range passwords {
			j := (i + 1) % len(passwords)
			if passwords[j] == p {
				continue
			}
			match, err := VerifyPassword(p, hashes[j])
			if err != nil {
				t.Fatalf("VerifyPassword(%q): %v", p, err)
			}
			if match {
				t.Errorf("password %q should not verify against the hash of %q", p, passwords[j])
			}
		}
	})

	// Make sure invalid hash returns error
	t.Run("invalid hash format", func(t *testing.T) {
		_, err := VerifyPassword("password", "not-a-valid-hash")
		if err == nil {
			t.Error("expected error for invalid hash format")
		}
	})

	// Make sure invalid alg returns error
	t.Run("unsupported algorithm", func(t *testing.T) {
		bad := "$bcrypt$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$c29tZWhhc2g"
		_, err := VerifyPassword("password", bad)
		if err == nil {
			t.Error("expected error for unsupported algorithm")
		}
		if !errors.Is(err, errMalformedHash) {
			t.Errorf("expected errMalformedHash, got: %v", err)
		}
	})

	// Make sure invalid salts return err
	t.Run("invalid base64 salt", func(t *testing.T) {
		bad := "$argon2id$v=19$m=65536,t=3,p=2$!!!invalid!!!$c29tZWhhc2g"
		_, err := VerifyPassword("password", bad)
		if err == nil {
			t.Error("expected error for invalid base64 salt")
		}
	})

	// Make sure invalid base64 hash returns error...
	t.Run("invalid base64 hash", func(t *testing.T) {
		bad := "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$!!!invalid!!!"
		_, err := VerifyPassword("password", bad)
		if err == nil {
			t.Error("expected error for invalid base64 hash")
		}
	})

	t.Run("dummy hash is well formed", func(t *testing.T) {
		match, err := VerifyPassword("anything", dummyPasswordHash)
		if err != nil {
			t.Fatalf("dummy hash should parse: %v", err)
		}
		if match {
			t.Error("dummy hash should not match arbitrary input")
		}
	})
}

// --- PasswordPolicy ---

func TestPasswordPolicyValidate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", []string{"password is required"}},
		{"valid password", "Correct-horse1", nil},
		{"exactly minimum", "Abcde1!x", nil},
		{"one under minimum", "Abcd1!x", []string{"password must be at least 8 characters"}},
		{"one over maximum", "Aa1!" + strings.Repeat("a", 125), []string{"password must be at most 128 characters"}},
		{"no uppercase", "correct-horse1", []string{"password must contain an uppercase letter"}},
		{"no lowercase", "CORRECT-HORSE1", []string{"password must contain a lowercase letter"}},
		{"no digit", "Correct-horse", []string{"password must contain a digit"}},
		{"underscore is not special", "Correct_horse1", []string{"password must contain a special character"}},
		{"space is not special", "Correct horse1", []string{"password must contain a special character"}},
		{"control character", "Correct-horse1\x00", []string{"password contains invalid characters"}},
		{"multiple failures", "short", []string{
			"password must be at least 8 characters",
			"password must contain an uppercase letter",
			"password must contain a digit",
			"password must contain a special character",
		}},
		{"non-latin letters count", "Пароль-123", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DefaultPasswordPolicy.Validate(tc.input)
			if !slices.Equal(got, tc.want) {
				t.Errorf("Validate(%q): expected %q, got %q", tc.input, tc.want, got)
			}
		})
	}

	t.Run("zero policy accepts any non-empty password", func(t *testing.T) {
		if got := (PasswordPolicy{}).Validate("a"); len(got) != 0 {
			t.Errorf("expected no failures, got %q", got)
		}
	})
}

// --- ValidateEmail ---

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"valid", "user@example.com", ""},
		{"too short", "a@b", "email too short"},
		{"too long", strings.Repeat("a", 250) + "@x.io", "email too long"},
		{"missing at", "userexample.com", "invalid email format"},
		{"display name form rejected", "User <user@example.com>", "invalid email format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateEmail(tc.input); got != tc.wantMsg {
				t.Errorf("ValidateEmail(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
			}
		})
	}
}
