// Package signature signs and verifies webhook payloads with
// HMAC-SHA256 over the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Codec holds the shared secret. An empty secret puts the codec in
// permissive mode: Sign returns "" and Verify accepts everything, so
// unconfigured deployments still interoperate.
type Codec struct {
	secret []byte
}

func New(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (c *Codec) Enabled() bool {
	return len(c.secret) > 0
}

// Sign returns the lowercase hex HMAC-SHA256 of body.
func (c *Codec) Sign(body []byte) string {
	if !c.Enabled() {
		return ""
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks sig against body in constant time. Permissive mode
// accepts any signature, including none.
func (c *Codec) Verify(body []byte, sig string) bool {
	if !c.Enabled() {
		return true
	}
	expected := c.Sign(body)
	return hmac.Equal([]byte(expected), []byte(sig))
}
