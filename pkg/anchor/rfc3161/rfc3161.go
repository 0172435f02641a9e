// Package rfc3161 anchors settlement decision hashes at an RFC 3161
// time-stamping authority. The returned token proves the decision hash
// existed no later than the TSA's clock said it did.
package rfc3161

import (
	"bytes"
	"context"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
}

// Receipt records one successful anchoring round trip.
type Receipt struct {
	TargetHash  string    `json:"target_hash"`
	TSAURL      string    `json:"tsa_url"`
	Token       []byte    `json:"token"`
	ContentType string    `json:"content_type,omitempty"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

type Anchorer struct {
	TSAURL     string
	PolicyOID  string
	HTTPClient *http.Client
}

func NewAnchorer(tsaURL, policyOID string, httpClient *http.Client) *Anchorer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &Anchorer{TSAURL: tsaURL, PolicyOID: policyOID, HTTPClient: httpClient}
}

// AnchorHashHex submits a sha256 hex digest (an optional "sha256:" prefix
// is accepted) to the configured TSA and returns the timestamp token.
func (a *Anchorer) AnchorHashHex(ctx context.Context, targetHash string) (Receipt, error) {
	hashHex := strings.TrimPrefix(strings.TrimSpace(targetHash), "sha256:")
	digest, err := hex.DecodeString(hashHex)
	if err != nil {
		return Receipt{}, fmt.Errorf("invalid target hash: %w", err)
	}
	if len(digest) != 32 {
		return Receipt{}, fmt.Errorf("invalid target hash length: %d", len(digest))
	}
	reqDER, err := buildTimeStampRequest(digest, a.PolicyOID)
	if err != nil {
		return Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.TSAURL, bytes.NewReader(reqDER))
	if err != nil {
		return Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("tsa_http_status_%d", resp.StatusCode)
	}
	if len(body) == 0 {
		return Receipt{}, fmt.Errorf("tsa_empty_response")
	}
	return Receipt{
		TargetHash:  hashHex,
		TSAURL:      a.TSAURL,
		Token:       body,
		ContentType: resp.Header.Get("Content-Type"),
		AnchoredAt:  time.Now().UTC(),
	}, nil
}

func buildTimeStampRequest(digest []byte, policyOID string) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes")
	}
	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm: oidSHA256,
				Parameters: asn1.RawValue{
					Class: asn1.ClassUniversal,
					Tag:   asn1.TagNull,
				},
			},
			HashedMessage: digest,
		},
		CertReq: true,
	}
	if p := strings.TrimSpace(policyOID); p != "" {
		oid, err := parseOID(p)
		if err != nil {
			return nil, err
		}
		req.ReqPolicy = oid
	}
	return asn1.Marshal(req)
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid policy_oid")
	}
	out := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		var n int
		if p == "" {
			return nil, fmt.Errorf("invalid policy_oid")
		}
		for _, ch := range p {
			if ch < '0' || ch > '9' {
				return nil, fmt.Errorf("invalid policy_oid")
			}
			n = (n * 10) + int(ch-'0')
		}
		out = append(out, n)
	}
	return out, nil
}
