package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Authority verifies break-glass override directives of the form
// <mac>:<payload>, where <mac> is hex HMAC-SHA256 over the payload computed
// with an operator-held secret.
//
// Known limitation: a single trust tier and no key rotation. Anyone holding
// the secret holds full override power until the process is reconfigured.
type Authority struct {
	secret []byte
}

// NewAuthority creates an authority keyed with the operator secret.
func NewAuthority(secret []byte) *Authority {
	return &Authority{secret: secret}
}

// Sign computes the hex MAC over payload.
func (a *Authority) Sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Wrap produces the full <mac>:<payload> directive form.
func (a *Authority) Wrap(payload string) string {
	return a.Sign(payload) + ":" + payload
}

// Verify checks text against the override format and returns the payload
// with the MAC prefix stripped when the MAC verifies.
func (a *Authority) Verify(text string) (string, bool) {
	macHex, payload, found := strings.Cut(text, ":")
	if !found {
		return "", false
	}
	got, err := hex.DecodeString(macHex)
	if err != nil {
		return "", false
	}
	want := hmac.New(sha256.New, a.secret)
	want.Write([]byte(payload))
	if !hmac.Equal(got, want.Sum(nil)) {
		return "", false
	}
	return payload, true
}
