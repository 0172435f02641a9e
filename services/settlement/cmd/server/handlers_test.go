package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wagerlane/services/settlement/internal/engine"
	"wagerlane/services/settlement/internal/idempotency"
	"wagerlane/services/settlement/internal/store"

	"github.com/sirupsen/logrus"
)

var (
	hashA = strings.Repeat("a1", 32)
	hashB = strings.Repeat("b2", 32)
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	eng := engine.New(store.NewMemory(), log)
	ts := httptest.NewServer(newRouter(&app{engine: eng, idem: idempotency.NewMemoryStore(), log: log}))
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func errCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func registerChallenge(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/settlement/challenges", map[string]any{
		"challenger_id": "alice",
		"challenged_id": "bob",
		"stake":         "USD 25.00",
		"due_at":        time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("register status = %d, body = %v", resp.StatusCode, body)
	}
	c := body["challenge"].(map[string]any)
	return c["challenge_id"].(string)
}

func submitProof(t *testing.T, ts *httptest.Server, challengeID, submitter, hash string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/proofs", ts.URL, challengeID), map[string]any{
		"submitter_id": submitter,
		"content_uri":  "s3://proofs/" + submitter,
		"content_hash": hash,
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("proof status = %d, body = %v", resp.StatusCode, body)
	}
}

func castVote(t *testing.T, ts *httptest.Server, challengeID, voter, choice, hash string) (*http.Response, map[string]any) {
	t.Helper()
	return doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/votes", ts.URL, challengeID), map[string]any{
		"voter_id":              voter,
		"choice":                choice,
		"referenced_proof_hash": hash,
	}, nil)
}

func TestVoteFlowAutoReleasesOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := registerChallenge(t, ts)
	submitProof(t, ts, id, "alice", hashA)
	submitProof(t, ts, id, "bob", hashB)

	if resp, body := castVote(t, ts, id, "alice", "CHALLENGER", hashA); resp.StatusCode != 201 {
		t.Fatalf("alice vote = %d %v", resp.StatusCode, body)
	}
	if resp, body := castVote(t, ts, id, "bob", "CHALLENGER", hashB); resp.StatusCode != 201 {
		t.Fatalf("bob vote = %d %v", resp.StatusCode, body)
	}

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/settlement/challenges/%s/settlement", ts.URL, id), nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("settlement = %d", resp.StatusCode)
	}
	view := body["settlement"].(map[string]any)
	if view["state"] != "CONVERGED" || view["outcome"] != "AUTO_RELEASED" || view["winner_id"] != "alice" {
		t.Fatalf("view = %v", view)
	}
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/settlement/challenges", map[string]any{
		"challenge_id":  "chal_fixed",
		"challenger_id": "alice",
		"challenged_id": "bob",
		"stake":         "USD 10",
		"due_at":        time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("register = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/settlement/challenges", map[string]any{
		"challenge_id":  "chal_fixed",
		"challenger_id": "carol",
		"challenged_id": "dave",
		"stake":         "USD 10",
		"due_at":        time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != 409 || errCode(t, body) != "CHALLENGE_EXISTS" {
		t.Fatalf("duplicate = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/settlement/challenges", map[string]any{
		"challenger_id": "alice",
		"challenged_id": "alice",
		"stake":         "USD 10",
		"due_at":        time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != 422 || errCode(t, body) != "INVALID_CHALLENGE" {
		t.Fatalf("self challenge = %d %v", resp.StatusCode, body)
	}
}

func TestVoteErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	id := registerChallenge(t, ts)
	submitProof(t, ts, id, "alice", hashA)

	resp, body := castVote(t, ts, "chal_missing", "alice", "CHALLENGER", hashA)
	if resp.StatusCode != 404 || errCode(t, body) != "UNKNOWN_CHALLENGE" {
		t.Fatalf("unknown = %d %v", resp.StatusCode, body)
	}

	resp, body = castVote(t, ts, id, "mallory", "CHALLENGER", hashA)
	if resp.StatusCode != 403 || errCode(t, body) != "NOT_A_PARTICIPANT" {
		t.Fatalf("outsider = %d %v", resp.StatusCode, body)
	}

	resp, body = castVote(t, ts, id, "alice", "CHALLENGER", strings.Repeat("c3", 32))
	if resp.StatusCode != 422 || errCode(t, body) != "PROOF_NOT_FOUND" {
		t.Fatalf("missing proof = %d %v", resp.StatusCode, body)
	}

	resp, body = castVote(t, ts, id, "alice", "CHALLENGER", "nothex")
	if resp.StatusCode != 422 || errCode(t, body) != "INVALID_HASH" {
		t.Fatalf("bad hash = %d %v", resp.StatusCode, body)
	}

	if resp, body = castVote(t, ts, id, "alice", "CHALLENGER", hashA); resp.StatusCode != 201 {
		t.Fatalf("first vote = %d %v", resp.StatusCode, body)
	}
	resp, body = castVote(t, ts, id, "alice", "CHALLENGED", hashA)
	if resp.StatusCode != 409 || errCode(t, body) != "ALREADY_VOTED" {
		t.Fatalf("double vote = %d %v", resp.StatusCode, body)
	}
}

func TestDisputeFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := registerChallenge(t, ts)

	resp, body := doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/dispute:resolve", ts.URL, id), map[string]any{
		"winner_id": "alice",
	}, nil)
	if resp.StatusCode != 409 || errCode(t, body) != "DISPUTE_NOT_OPEN" {
		t.Fatalf("early resolve = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/dispute", ts.URL, id), map[string]any{
		"opened_by": "bob",
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("open dispute = %d %v", resp.StatusCode, body)
	}
	first := body["dispute"].(map[string]any)["dispute_id"].(string)

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/dispute", ts.URL, id), map[string]any{
		"opened_by": "alice",
	}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("reopen = %d %v", resp.StatusCode, body)
	}
	if again := body["dispute"].(map[string]any)["dispute_id"].(string); again != first {
		t.Fatalf("reopen returned %s, want %s", again, first)
	}

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/settlement/challenges/%s/dispute/evidence-pack", ts.URL, id), nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("evidence pack = %d", resp.StatusCode)
	}
	if body["pack_version"] != "dispute-pack-v1" {
		t.Fatalf("pack = %v", body["pack_version"])
	}
	hashes := body["hashes"].(map[string]any)
	if hashes["pack_hash"] == "" {
		t.Fatalf("missing pack hash")
	}

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/dispute:resolve", ts.URL, id), map[string]any{
		"split": true,
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("resolve = %d %v", resp.StatusCode, body)
	}
	if body["resolution"].(map[string]any)["outcome"] != "RESOLVED" {
		t.Fatalf("resolution = %v", body["resolution"])
	}

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/settlement/challenges/%s/dispute:resolve", ts.URL, id), map[string]any{
		"winner_id": "bob",
	}, nil)
	if resp.StatusCode != 409 || errCode(t, body) != "CHALLENGE_ALREADY_SETTLED" {
		t.Fatalf("second resolve = %d %v", resp.StatusCode, body)
	}
}

func TestIdempotentVoteReplay(t *testing.T) {
	ts := newTestServer(t)
	id := registerChallenge(t, ts)
	submitProof(t, ts, id, "alice", hashA)

	headers := map[string]string{"Idempotency-Key": "vote-1"}
	url := fmt.Sprintf("%s/settlement/challenges/%s/votes", ts.URL, id)
	payload := map[string]any{
		"voter_id":              "alice",
		"choice":                "CHALLENGER",
		"referenced_proof_hash": hashA,
	}

	resp, body := doJSON(t, http.MethodPost, url, payload, headers)
	if resp.StatusCode != 201 {
		t.Fatalf("first vote = %d %v", resp.StatusCode, body)
	}
	firstRequestID := body["request_id"].(string)

	resp, body = doJSON(t, http.MethodPost, url, payload, headers)
	if resp.StatusCode != 201 {
		t.Fatalf("replay = %d %v", resp.StatusCode, body)
	}
	if body["request_id"].(string) != firstRequestID {
		t.Fatalf("replay generated a fresh response")
	}

	// Without the key the duplicate vote conflicts.
	resp, body = doJSON(t, http.MethodPost, url, payload, nil)
	if resp.StatusCode != 409 || errCode(t, body) != "ALREADY_VOTED" {
		t.Fatalf("no-key duplicate = %d %v", resp.StatusCode, body)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := registerChallenge(t, ts)
	submitProof(t, ts, id, "alice", hashA)

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/settlement/challenges/%s/events", ts.URL, id), nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("events = %d", resp.StatusCode)
	}
	events := body["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("events = %v", events)
	}
	if events[0].(map[string]any)["type"] != "CHALLENGE_REGISTERED" {
		t.Fatalf("first event = %v", events[0])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("health: %v %v", err, resp)
	}
	resp.Body.Close()
	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("metrics: %v %v", err, resp)
	}
	resp.Body.Close()
}
