// Package phone canonicalizes subscriber phone numbers to international digits-only form.
package phone

import (
	"fmt"
	"inspiration-api/internal/apperr"
	"strings"
)

// ErrInvalidPhoneNumber is returned for numbers that cannot be canonicalized.
var ErrInvalidPhoneNumber = fmt.Errorf("invalid phone number: %w", apperr.ErrInvalidInput)

// Normalizer canonicalizes numbers for one country.
type Normalizer struct {
	// CountryCode is the dialing code without '+', e.g. "254".
	CountryCode string
	// MobilePrefixes are the leading digits of a national number written without its trunk zero.
	MobilePrefixes []string
	// SubscriberDigits is the length of the national part. Zero skips the length check.
	SubscriberDigits int
}

// Kenya is the default normalizer: 2547XXXXXXXX and 2541XXXXXXXX.
var Kenya = Normalizer{
	CountryCode:      "254",
	MobilePrefixes:   []string{"7", "1"},
	SubscriberDigits: 9,
}

// New returns a normalizer for countryCode with Kenya's mobile numbering rules.
func New(countryCode string) Normalizer {
	n := Kenya
	if countryCode != "" {
		n.CountryCode = countryCode
	}
	return n
}

var defaultNormalizer = Kenya

// SetCountryCode switches the package-level Normalize to another country code. Call it once at
// startup, before serving requests.
func SetCountryCode(countryCode string) {
	defaultNormalizer = New(countryCode)
}

// Normalize canonicalizes raw using the default normalizer, Kenya unless SetCountryCode was called.
func Normalize(raw string) (string, error) {
	return defaultNormalizer.Normalize(raw)
}

// Normalize strips every non-digit and rewrites the number to start with the country code.
// It is idempotent: a canonical number is returned unchanged.
func (n Normalizer) Normalize(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	var out string
	switch {
	case digits == "":
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	case strings.HasPrefix(digits, n.CountryCode):
		out = digits
	case strings.HasPrefix(digits, "0"):
		out = n.CountryCode + digits[1:]
	case n.hasMobilePrefix(digits):
		out = n.CountryCode + digits
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	}

	if !n.Valid(out) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	}
	return out, nil
}

// Valid reports whether s is already in canonical form.
func (n Normalizer) Valid(s string) bool {
	if !strings.HasPrefix(s, n.CountryCode) {
		return false
	}
	national := s[len(n.CountryCode):]
	if n.SubscriberDigits > 0 && len(national) != n.SubscriberDigits {
		return false
	}
	for _, r := range national {
		if r < '0' || r > '9' {
			return false
		}
	}
	return national != ""
}

func (n Normalizer) hasMobilePrefix(digits string) bool {
	for _, p := range n.MobilePrefixes {
		if strings.HasPrefix(digits, p) {
			return true
		}
	}
	return false
}
