// Package normalize canonicalizes user-supplied phone numbers and personal names.
//
// Lookups by phone compare stored and incoming values byte for byte, so every
// write and every lookup must go through Phone first.
package normalize

import (
	"regexp"
	"strings"
)

var (
	nonDigit      = regexp.MustCompile(`\D`)
	trailingRU11  = regexp.MustCompile(`[78]\d{10}$`)
	trailingLocal = regexp.MustCompile(`\d{10}$`)
)

// Phone converts a Russian phone number in any common notation to +7XXXXXXXXXX.
//
// Accepted: "+7 (918) 111-11-11", "8 918 111 11 11", "9181111111".
// A leading "+" must be followed by country code 7. Returns ok=false for
// anything that does not resolve to an 11-digit Russian number.
func Phone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	digits := nonDigit.ReplaceAllString(raw, "")
	if strings.HasPrefix(raw, "+") {
		if !strings.HasPrefix(digits, "7") {
			return "", false
		}
		digits = digits[1:]
	}

	switch n := len(digits); {
	case n == 10:
		return "+7" + digits, true
	case n == 11:
		return fromTrunk(digits)
	case n > 11:
		if m := trailingRU11.FindString(digits); m != "" {
			return fromTrunk(m)
		}
		if m := trailingLocal.FindString(digits); m != "" {
			return "+7" + m, true
		}
	}
	return "", false
}

// fromTrunk maps an 11-digit number starting with 7 or 8 to +7XXXXXXXXXX.
func fromTrunk(d string) (string, bool) {
	switch d[0] {
	case '7', '8':
		return "+7" + d[1:], true
	}
	return "", false
}
