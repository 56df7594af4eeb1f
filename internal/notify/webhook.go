package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/crypto"
)

// Webhook delivery headers.
const (
	HeaderTimestamp = "X-Groupmarket-Timestamp"
	HeaderSignature = "X-Groupmarket-Signature"
)

// WebhookSender posts notifications as JSON to an arbitrary endpoint,
// signed with HMAC-SHA256 when a secret is configured.
type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender with a 10-second timeout.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: []byte(secret),
		client: newHTTPClient(),
		now:    time.Now,
	}
}

type webhookPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Send posts {title, message, timestamp}. Receivers verify the signature
// header over "timestamp.body".
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	ts := w.now().Unix()
	body, err := json.Marshal(webhookPayload{Title: title, Message: message, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	header := http.Header{}
	header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	if len(w.secret) > 0 {
		header.Set(HeaderSignature, crypto.WebhookSignature(w.secret, ts, body))
	}
	return postBody(ctx, w.client, w.Name(), w.url, body, header)
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
