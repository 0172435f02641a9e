package rfc3161

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildTimeStampRequest(t *testing.T) {
	digest := mustDecodeHex(t, strings.Repeat("ab", 32))
	req, err := buildTimeStampRequest(digest, "1.2.3.4")
	if err != nil {
		t.Fatalf("buildTimeStampRequest error: %v", err)
	}
	if len(req) == 0 {
		t.Fatalf("expected non-empty DER request")
	}
	if _, err := buildTimeStampRequest(digest[:16], ""); err == nil {
		t.Fatalf("expected error for short digest")
	}
}

func TestAnchorHashHex(t *testing.T) {
	fixedToken := []byte{0x30, 0x03, 0x01, 0x01, 0xff}
	tsa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST")
		}
		if got := r.Header.Get("Content-Type"); got != "application/timestamp-query" {
			t.Fatalf("unexpected content type %q", got)
		}
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(fixedToken)
	}))
	defer tsa.Close()

	a := NewAnchorer(tsa.URL, "", tsa.Client())
	receipt, err := a.AnchorHashHex(context.Background(), "sha256:"+strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("AnchorHashHex error: %v", err)
	}
	if receipt.ContentType != "application/timestamp-reply" {
		t.Fatalf("unexpected content-type %q", receipt.ContentType)
	}
	if receipt.TargetHash != strings.Repeat("ab", 32) {
		t.Fatalf("target hash not normalized: %q", receipt.TargetHash)
	}
	if !strings.EqualFold(hex.EncodeToString(receipt.Token), hex.EncodeToString(fixedToken)) {
		t.Fatalf("token mismatch")
	}
	if receipt.AnchoredAt.IsZero() {
		t.Fatalf("expected anchored_at to be set")
	}
}

func TestAnchorHashHexRejectsBadHash(t *testing.T) {
	a := NewAnchorer("http://tsa.invalid", "", nil)
	if _, err := a.AnchorHashHex(context.Background(), "not-hex"); err == nil {
		t.Fatalf("expected error for non-hex hash")
	}
	if _, err := a.AnchorHashHex(context.Background(), "abcd"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	return b
}
