package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// WebhookSignature returns the hex HMAC-SHA256 of "timestamp.body" keyed by
// secret. Receivers recompute it to authenticate a webhook delivery.
func WebhookSignature(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether sig matches the expected signature,
// in constant time.
func VerifyWebhookSignature(secret []byte, timestamp int64, body []byte, sig string) bool {
	want := WebhookSignature(secret, timestamp, body)
	return hmac.Equal([]byte(want), []byte(sig))
}
