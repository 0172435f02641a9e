// Package ledgerhook signs and verifies settlement-decision notifications sent
// to the escrow ledger collaborator. The ledger executes the fund transfer and
// must be idempotent against repeated deliveries; the HMAC binds each delivery
// to the exact decision payload.
package ledgerhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"
	Scheme          = "ledgerhook-hmac-sha256/v1"
)

type VerificationResult struct {
	Valid     bool           `json:"valid"`
	Scheme    string         `json:"scheme"`
	Details   map[string]any `json:"details"`
	EventID   string         `json:"event_id,omitempty"`
	EventType string         `json:"event_type,omitempty"`
}

// Sign computes the hex HMAC-SHA256 of the raw notification body.
func Sign(secret string, rawBody []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("ledgerhook secret is empty")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignRequest stamps signature and event headers onto an outbound delivery.
func SignRequest(req *http.Request, secret, eventID, eventType string, rawBody []byte) error {
	sig, err := Sign(secret, rawBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)
	req.Header.Set(EventIDHeader, eventID)
	req.Header.Set(EventTypeHeader, eventType)
	return nil
}

// Verify checks an inbound delivery on the ledger side.
func Verify(headers http.Header, rawBody []byte, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("ledgerhook secret is empty")
	}

	res := VerificationResult{
		Valid:  false,
		Scheme: Scheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
		},
		EventID:   strings.TrimSpace(headers.Get(EventIDHeader)),
		EventType: strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true

	providedSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	res.Valid = hmac.Equal(mac.Sum(nil), providedSig)
	return res, nil
}
