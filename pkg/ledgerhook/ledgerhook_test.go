package ledgerhook

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := "topsecret"
	body := []byte(`{"challenge_id":"chal_1","outcome":"AUTO_RELEASED"}`)

	req := httptest.NewRequest(http.MethodPost, "/ledger/settlements", nil)
	if err := SignRequest(req, secret, "dec_1", "settlement.auto_released", body); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	got, err := Verify(req.Header, body, secret)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !got.Valid {
		t.Fatalf("expected valid signature")
	}
	if got.Scheme != Scheme {
		t.Fatalf("unexpected scheme: %s", got.Scheme)
	}
	if got.EventID != "dec_1" || got.EventType != "settlement.auto_released" {
		t.Fatalf("unexpected event metadata: %#v", got)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	secret := "topsecret"
	body := []byte(`{"winner_id":"alice"}`)
	headers := http.Header{}
	sig, err := Sign(secret, body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	headers.Set(SignatureHeader, sig)

	got, err := Verify(headers, []byte(`{"winner_id":"bob"}`), secret)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if got.Valid {
		t.Fatalf("expected invalid signature for tampered body")
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	got, err := Verify(http.Header{}, []byte(`{}`), "topsecret")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if got.Valid {
		t.Fatalf("expected invalid when signature header missing")
	}
	if present, _ := got.Details["signature_header_present"].(bool); present {
		t.Fatalf("expected signature_header_present=false")
	}
}

func TestVerifyBadHex(t *testing.T) {
	headers := http.Header{}
	headers.Set(SignatureHeader, "zzzz")
	got, err := Verify(headers, []byte(`{}`), "topsecret")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if got.Valid {
		t.Fatalf("expected invalid for bad hex signature")
	}
	if decodable, _ := got.Details["signature_hex_decodable"].(bool); decodable {
		t.Fatalf("expected signature_hex_decodable=false")
	}
}

func TestEmptySecretErrors(t *testing.T) {
	if _, err := Sign("", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty secret on sign")
	}
	if _, err := Verify(http.Header{}, []byte(`{}`), " "); err == nil {
		t.Fatalf("expected error for empty secret on verify")
	}
}
