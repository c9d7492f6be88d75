// Package signing implements HMAC-SHA256 request signing for the invoke
// endpoint. The signed string is the epoch-millisecond timestamp, a newline,
// and the exact request body.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderClientID  = "X-MCP-ClientId"
	HeaderTimestamp = "X-MCP-Timestamp"
	HeaderSignature = "X-MCP-Signature"
)

// DefaultTolerance is the maximum accepted clock drift.
const DefaultTolerance = 5 * time.Minute

// Sign returns base64(HMAC-SHA256(secret, timestamp + "\n" + body)).
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Signer attaches signature headers to outgoing requests.
type Signer struct {
	ClientID string
	Secret   []byte
	Now      func() time.Time
}

func NewSigner(clientID string, secret []byte) *Signer {
	return &Signer{ClientID: clientID, Secret: secret, Now: time.Now}
}

// Headers computes the three signature headers for body.
func (s *Signer) Headers(body []byte) http.Header {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := strconv.FormatInt(now().UnixMilli(), 10)
	h := make(http.Header, 3)
	h.Set(HeaderClientID, s.ClientID)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, Sign(s.Secret, ts, body))
	return h
}

// Intercept signs POST requests and leaves every other method untouched.
func (s *Signer) Intercept(req *http.Request, body []byte) error {
	if req.Method != http.MethodPost {
		return nil
	}
	for k, v := range s.Headers(body) {
		req.Header[k] = v
	}
	return nil
}

// constantTimeEqual compares every byte regardless of where the first
// mismatch is.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
