// Package wagerlane is the Go client for the wagerlane settlement API.
// It has no dependency on the server module and parses responses from
// their wire shape, so it tolerates additive server-side changes.
package wagerlane

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const APIVersion = "v1"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("wagerlane sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

type Challenge struct {
	ChallengeID  string         `json:"challenge_id"`
	ChallengerID string         `json:"challenger_id"`
	ChallengedID string         `json:"challenged_id"`
	Stake        string         `json:"stake"`
	DueAt        time.Time      `json:"due_at"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	Raw          map[string]any `json:"-"`
}

type Proof struct {
	ProofID     string         `json:"proof_id"`
	ChallengeID string         `json:"challenge_id"`
	SubmitterID string         `json:"submitter_id"`
	ContentURI  string         `json:"content_uri"`
	ContentHash string         `json:"content_hash"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Raw         map[string]any `json:"-"`
}

type Vote struct {
	ChallengeID         string         `json:"challenge_id"`
	VoterID             string         `json:"voter_id"`
	Choice              string         `json:"choice"`
	ReferencedProofHash string         `json:"referenced_proof_hash"`
	CastAt              time.Time      `json:"cast_at"`
	Raw                 map[string]any `json:"-"`
}

type Dispute struct {
	DisputeID   string         `json:"dispute_id"`
	ChallengeID string         `json:"challenge_id"`
	Reason      string         `json:"reason"`
	OpenedBy    string         `json:"opened_by,omitempty"`
	OpenedAt    time.Time      `json:"opened_at"`
	Raw         map[string]any `json:"-"`
}

type Decision struct {
	ChallengeID string         `json:"challenge_id"`
	Kind        string         `json:"kind"`
	Outcome     string         `json:"outcome"`
	WinnerID    string         `json:"winner_id,omitempty"`
	Split       bool           `json:"split,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	DecidedAt   time.Time      `json:"decided_at"`
	Raw         map[string]any `json:"-"`
}

type Settlement struct {
	ChallengeID      string         `json:"challenge_id"`
	State            string         `json:"state"`
	Outcome          string         `json:"outcome"`
	WinnerID         string         `json:"winner_id,omitempty"`
	Split            bool           `json:"split,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	RemainingSeconds *int64         `json:"remaining_seconds,omitempty"`
	Decision         *Decision      `json:"-"`
	Resolution       *Decision      `json:"-"`
	Dispute          *Dispute       `json:"-"`
	Raw              map[string]any `json:"-"`
}

type Event struct {
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Raw        map[string]any `json:"-"`
}

type NewChallenge struct {
	ChallengeID  string
	ChallengerID string
	ChallengedID string
	Stake        string
	DueAt        time.Time
}

type ProofInput struct {
	SubmitterID string
	ContentURI  string
	ContentHash string
}

type VoteInput struct {
	VoterID             string
	Choice              string
	ReferencedProofHash string
}

type Resolution struct {
	WinnerID string
	Split    bool
}

type AuthStrategy interface {
	Apply(req *http.Request, body []byte) error
}

type BearerAuth struct{ Token string }

func (a BearerAuth) Apply(req *http.Request, _ []byte) error {
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("bearer token is required")
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthStrategy
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithAuth(a AuthStrategy) Option {
	return func(c *Client) { c.auth = a }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

func NewIdempotencyKey() string { return newNonce() }

func (c *Client) RegisterChallenge(ctx context.Context, in NewChallenge, idempotencyKey string) (*Challenge, error) {
	body := map[string]any{
		"challenger_id": in.ChallengerID,
		"challenged_id": in.ChallengedID,
		"stake":         in.Stake,
		"due_at":        in.DueAt.UTC().Format(time.RFC3339Nano),
	}
	if strings.TrimSpace(in.ChallengeID) != "" {
		body["challenge_id"] = in.ChallengeID
	}
	payload, err := c.do(ctx, http.MethodPost, "/settlement/challenges", body, idemHeader(idempotencyKey), true)
	if err != nil {
		return nil, err
	}
	return parseChallenge(child(payload, "challenge")), nil
}

func (c *Client) GetChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	payload, err := c.do(ctx, http.MethodGet, challengePath(challengeID), nil, nil, true)
	if err != nil {
		return nil, err
	}
	return parseChallenge(child(payload, "challenge")), nil
}

func (c *Client) SubmitProof(ctx context.Context, challengeID string, in ProofInput, idempotencyKey string) (*Proof, error) {
	body := map[string]any{
		"submitter_id": in.SubmitterID,
		"content_uri":  in.ContentURI,
		"content_hash": in.ContentHash,
	}
	payload, err := c.do(ctx, http.MethodPost, challengePath(challengeID)+"/proofs", body, idemHeader(idempotencyKey), true)
	if err != nil {
		return nil, err
	}
	return parseProof(child(payload, "proof")), nil
}

func (c *Client) ListProofs(ctx context.Context, challengeID string) ([]Proof, error) {
	payload, err := c.do(ctx, http.MethodGet, challengePath(challengeID)+"/proofs", nil, nil, true)
	if err != nil {
		return nil, err
	}
	items, _ := payload["proofs"].([]any)
	out := make([]Proof, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, *parseProof(m))
		}
	}
	return out, nil
}

func (c *Client) CastVote(ctx context.Context, challengeID string, in VoteInput, idempotencyKey string) (*Vote, error) {
	body := map[string]any{
		"voter_id":              in.VoterID,
		"choice":                in.Choice,
		"referenced_proof_hash": in.ReferencedProofHash,
	}
	payload, err := c.do(ctx, http.MethodPost, challengePath(challengeID)+"/votes", body, idemHeader(idempotencyKey), true)
	if err != nil {
		return nil, err
	}
	return parseVote(child(payload, "vote")), nil
}

func (c *Client) ListVotes(ctx context.Context, challengeID string) ([]Vote, error) {
	payload, err := c.do(ctx, http.MethodGet, challengePath(challengeID)+"/votes", nil, nil, true)
	if err != nil {
		return nil, err
	}
	items, _ := payload["votes"].([]any)
	out := make([]Vote, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, *parseVote(m))
		}
	}
	return out, nil
}

func (c *Client) OpenDispute(ctx context.Context, challengeID, openedBy, idempotencyKey string) (*Dispute, error) {
	body := map[string]any{"opened_by": openedBy}
	payload, err := c.do(ctx, http.MethodPost, challengePath(challengeID)+"/dispute", body, idemHeader(idempotencyKey), true)
	if err != nil {
		return nil, err
	}
	return parseDispute(child(payload, "dispute")), nil
}

func (c *Client) ResolveDispute(ctx context.Context, challengeID string, res Resolution, idempotencyKey string) (*Decision, error) {
	body := map[string]any{"split": res.Split}
	if strings.TrimSpace(res.WinnerID) != "" {
		body["winner_id"] = res.WinnerID
	}
	payload, err := c.do(ctx, http.MethodPost, challengePath(challengeID)+"/dispute:resolve", body, idemHeader(idempotencyKey), true)
	if err != nil {
		return nil, err
	}
	return parseDecision(child(payload, "resolution")), nil
}

func (c *Client) Settlement(ctx context.Context, challengeID string) (*Settlement, error) {
	payload, err := c.do(ctx, http.MethodGet, challengePath(challengeID)+"/settlement", nil, nil, true)
	if err != nil {
		return nil, err
	}
	return parseSettlement(child(payload, "settlement")), nil
}

// EvidencePack fetches the signed dispute evidence pack for a disputed
// challenge. The pack is returned raw so callers can persist or verify
// the exact bytes the server produced.
func (c *Client) EvidencePack(ctx context.Context, challengeID string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, challengePath(challengeID)+"/dispute/evidence-pack", nil, nil, true)
}

func (c *Client) Events(ctx context.Context, challengeID string) ([]Event, error) {
	payload, err := c.do(ctx, http.MethodGet, challengePath(challengeID)+"/events", nil, nil, true)
	if err != nil {
		return nil, err
	}
	items, _ := payload["events"].([]any)
	out := make([]Event, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, *parseEvent(m))
		}
	}
	return out, nil
}

func challengePath(challengeID string) string {
	return "/settlement/challenges/" + url.PathEscape(challengeID)
}

func idemHeader(key string) map[string]string {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return map[string]string{"Idempotency-Key": key}
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, retryable bool) (map[string]any, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "wagerlane-go-sdk/0.1.0 (api:"+APIVersion+")")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.auth != nil {
			if err := c.auth.Apply(req, bodyBytes); err != nil {
				return nil, err
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var obj map[string]any
			if len(respBody) == 0 {
				return map[string]any{}, nil
			}
			if err := json.Unmarshal(respBody, &obj); err != nil {
				return nil, err
			}
			return obj, nil
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return nil, parseSDKError(resp.StatusCode, respBody)
	}
	return nil, errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	max := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max > float64(cfg.MaxDelay) {
		max = float64(cfg.MaxDelay)
	}
	n, _ := rand.Int(rand.Reader, bigInt(int64(max)))
	time.Sleep(time.Duration(n.Int64()))
}

func parseSDKError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.RequestID, _ = obj["request_id"].(string)
	if inner, ok := obj["error"].(map[string]any); ok {
		obj = inner
	}
	out.ErrorCode, _ = obj["code"].(string)
	if out.ErrorCode == "" {
		out.ErrorCode, _ = obj["error_code"].(string)
	}
	out.Message, _ = obj["message"].(string)
	if out.RequestID == "" {
		out.RequestID, _ = obj["request_id"].(string)
	}
	if d, ok := obj["details"].(map[string]any); ok {
		out.Details = d
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}

func child(payload map[string]any, key string) map[string]any {
	if m, ok := payload[key].(map[string]any); ok {
		return m
	}
	return payload
}

func parseChallenge(raw map[string]any) *Challenge {
	c := &Challenge{Raw: raw}
	c.ChallengeID, _ = raw["challenge_id"].(string)
	c.ChallengerID, _ = raw["challenger_id"].(string)
	c.ChallengedID, _ = raw["challenged_id"].(string)
	c.Stake, _ = raw["stake"].(string)
	c.Status, _ = raw["status"].(string)
	c.DueAt = parseTime(raw["due_at"])
	c.CreatedAt = parseTime(raw["created_at"])
	return c
}

func parseProof(raw map[string]any) *Proof {
	p := &Proof{Raw: raw}
	p.ProofID, _ = raw["proof_id"].(string)
	p.ChallengeID, _ = raw["challenge_id"].(string)
	p.SubmitterID, _ = raw["submitter_id"].(string)
	p.ContentURI, _ = raw["content_uri"].(string)
	p.ContentHash, _ = raw["content_hash"].(string)
	p.SubmittedAt = parseTime(raw["submitted_at"])
	return p
}

func parseVote(raw map[string]any) *Vote {
	v := &Vote{Raw: raw}
	v.ChallengeID, _ = raw["challenge_id"].(string)
	v.VoterID, _ = raw["voter_id"].(string)
	v.Choice, _ = raw["choice"].(string)
	v.ReferencedProofHash, _ = raw["referenced_proof_hash"].(string)
	v.CastAt = parseTime(raw["cast_at"])
	return v
}

func parseDispute(raw map[string]any) *Dispute {
	d := &Dispute{Raw: raw}
	d.DisputeID, _ = raw["dispute_id"].(string)
	d.ChallengeID, _ = raw["challenge_id"].(string)
	d.Reason, _ = raw["reason"].(string)
	d.OpenedBy, _ = raw["opened_by"].(string)
	d.OpenedAt = parseTime(raw["opened_at"])
	return d
}

func parseDecision(raw map[string]any) *Decision {
	d := &Decision{Raw: raw}
	d.ChallengeID, _ = raw["challenge_id"].(string)
	d.Kind, _ = raw["kind"].(string)
	d.Outcome, _ = raw["outcome"].(string)
	d.WinnerID, _ = raw["winner_id"].(string)
	d.Split, _ = raw["split"].(bool)
	d.Reason, _ = raw["reason"].(string)
	d.DecidedAt = parseTime(raw["decided_at"])
	return d
}

func parseSettlement(raw map[string]any) *Settlement {
	s := &Settlement{Raw: raw}
	s.ChallengeID, _ = raw["challenge_id"].(string)
	s.State, _ = raw["state"].(string)
	s.Outcome, _ = raw["outcome"].(string)
	s.WinnerID, _ = raw["winner_id"].(string)
	s.Split, _ = raw["split"].(bool)
	s.Reason, _ = raw["reason"].(string)
	if n, ok := raw["remaining_seconds"].(float64); ok {
		v := int64(n)
		s.RemainingSeconds = &v
	}
	if m, ok := raw["decision"].(map[string]any); ok {
		s.Decision = parseDecision(m)
	}
	if m, ok := raw["resolution"].(map[string]any); ok {
		s.Resolution = parseDecision(m)
	}
	if m, ok := raw["dispute"].(map[string]any); ok {
		s.Dispute = parseDispute(m)
	}
	return s
}

func parseEvent(raw map[string]any) *Event {
	e := &Event{Raw: raw}
	e.Type, _ = raw["type"].(string)
	e.ActorID, _ = raw["actor_id"].(string)
	if p, ok := raw["payload"].(map[string]any); ok {
		e.Payload = p
	}
	e.OccurredAt = parseTime(raw["occurred_at"])
	return e
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func newNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func bigInt(v int64) *big.Int {
	if v <= 1 {
		v = 1
	}
	return big.NewInt(v)
}
