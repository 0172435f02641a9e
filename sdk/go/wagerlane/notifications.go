package wagerlane

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Decision notifications are delivered by the settlement service as
// signed webhooks. The signature is an HMAC-SHA256 of the raw request
// body, hex encoded, carried in the X-Signature header alongside
// X-Event-Id and X-Event-Type.
const (
	NotificationSignatureHeader = "X-Signature"
	NotificationEventIDHeader   = "X-Event-Id"
	NotificationEventTypeHeader = "X-Event-Type"
)

type DecisionNotification struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Challenge    *Challenge     `json:"-"`
	Decision     *Decision      `json:"-"`
	DecisionHash string         `json:"decision_hash"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
	Raw          map[string]any `json:"-"`
}

var ErrBadNotificationSignature = errors.New("notification signature mismatch")

// VerifyNotification checks the webhook signature against the shared
// secret and parses the envelope. The raw body must be read before any
// JSON decoding so the signed bytes are compared exactly.
func VerifyNotification(headers http.Header, rawBody []byte, secret string) (*DecisionNotification, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook secret is required")
	}
	sigHex := strings.TrimSpace(headers.Get(NotificationSignatureHeader))
	if sigHex == "" {
		return nil, ErrBadNotificationSignature
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, ErrBadNotificationSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrBadNotificationSignature
	}

	var raw map[string]any
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, err
	}
	n := &DecisionNotification{Raw: raw}
	n.EventID, _ = raw["event_id"].(string)
	n.EventType, _ = raw["event_type"].(string)
	n.DecisionHash, _ = raw["decision_hash"].(string)
	n.EnqueuedAt = parseTime(raw["enqueued_at"])
	if n.EventID == "" {
		n.EventID = strings.TrimSpace(headers.Get(NotificationEventIDHeader))
	}
	if n.EventType == "" {
		n.EventType = strings.TrimSpace(headers.Get(NotificationEventTypeHeader))
	}
	if m, ok := raw["challenge"].(map[string]any); ok {
		n.Challenge = parseChallenge(m)
	}
	if m, ok := raw["decision"].(map[string]any); ok {
		n.Decision = parseDecision(m)
	}
	return n, nil
}
