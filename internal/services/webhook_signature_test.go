package services

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"inspiration-api/internal/apperr"
)

func TestVerifyNotification(t *testing.T) {
	v := NewSignatureVerifier("s3cret", false)
	v.now = func() time.Time { return testStart }
	body := []byte(`{"transactionId":"ATPid_1","status":"Success"}`)
	sig := v.Sign(body)

	assert.NoError(t, v.VerifyNotification(body, sig, ""))
	assert.NoError(t, v.VerifyNotification(body, "sha256="+sig, ""))

	ts := strconv.FormatInt(testStart.Add(-time.Minute).Unix(), 10)
	assert.NoError(t, v.VerifyNotification(body, sig, ts))

	tests := map[string]struct {
		body      []byte
		signature string
		timestamp string
	}{
		"missing signature":   {body, "", ""},
		"malformed signature": {body, "not-hex", ""},
		"tampered body":       {[]byte(`{"transactionId":"ATPid_2"}`), sig, ""},
		"wrong secret":        {body, NewSignatureVerifier("other", false).Sign(body), ""},
		"stale timestamp":     {body, sig, strconv.FormatInt(testStart.Add(-time.Hour).Unix(), 10)},
		"malformed timestamp": {body, sig, "yesterday"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := v.VerifyNotification(tt.body, tt.signature, tt.timestamp)
			assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		})
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	strict := NewSignatureVerifier("", false)
	assert.ErrorIs(t, strict.VerifyNotification([]byte("{}"), "", ""), apperr.ErrUnauthorized)

	open := NewSignatureVerifier("", true)
	assert.NoError(t, open.VerifyNotification([]byte("{}"), "", ""))
}
