package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"inspiration-api/internal/apperr"
	"strconv"
	"strings"
	"time"
)

// SignatureVerifier checks provider callbacks signed with a shared secret
type SignatureVerifier struct {
	secret        []byte
	allowUnsigned bool
	tolerance     time.Duration
	now           func() time.Time
}

// NewSignatureVerifier creates a verifier. With an empty secret every request is rejected
// unless allowUnsigned is set.
func NewSignatureVerifier(secret string, allowUnsigned bool) *SignatureVerifier {
	return &SignatureVerifier{
		secret:        []byte(secret),
		allowUnsigned: allowUnsigned,
		tolerance:     5 * time.Minute,
		now:           time.Now,
	}
}

// Sign returns the hex HMAC-SHA256 of body
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyNotification validates the signature header against the raw body. timestampHeader
// is optional; when present it must be a unix timestamp within the tolerance window.
func (v *SignatureVerifier) VerifyNotification(body []byte, signatureHeader, timestampHeader string) error {
	if len(v.secret) == 0 {
		if v.allowUnsigned {
			return nil
		}
		return fmt.Errorf("%w: webhook secret not configured", apperr.ErrUnauthorized)
	}

	if signatureHeader == "" {
		return fmt.Errorf("%w: missing X-Signature header", apperr.ErrUnauthorized)
	}

	signature := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	given, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", apperr.ErrUnauthorized)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", apperr.ErrUnauthorized)
	}

	if timestampHeader != "" {
		if err := v.verifyTimestamp(timestampHeader); err != nil {
			return err
		}
	}
	return nil
}

// verifyTimestamp rejects callbacks signed too far from now
func (v *SignatureVerifier) verifyTimestamp(header string) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", apperr.ErrUnauthorized)
	}
	diff := v.now().Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	if diff > v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", apperr.ErrUnauthorized)
	}
	return nil
}
