package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// WebhookSigner signs outbound webhook payloads so receivers can verify that
// a notification genuinely came from this service.
type WebhookSigner struct {
	Secret string
}

// Headers returns the HTTP headers for a webhook delivery. The signature is
// HMAC-SHA256(secret, timestamp+"."+body) encoded as hex.
//
// Returned header keys:
//   - X-Dcad-Timestamp
//   - X-Dcad-Signature
func (w *WebhookSigner) Headers(body string) map[string]string {
	return w.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (w *WebhookSigner) HeadersAt(body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write([]byte(ts + "." + body))
	sig := hex.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-Dcad-Timestamp": ts,
		"X-Dcad-Signature": sig,
	}
}

// Verify reports whether sig matches body at the given timestamp.
func (w *WebhookSigner) Verify(body, ts, sig string) bool {
	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write([]byte(ts + "." + body))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
