package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wagerlane/pkg/domain"
	"wagerlane/pkg/ledgerhook"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testDecision() (domain.Challenge, domain.SettlementDecision) {
	winner := domain.ParticipantID("alice")
	c := domain.Challenge{
		ChallengeID: "chal_1",
		Challenger:  "alice",
		Challenged:  "bob",
		Stake:       "USD 25.00",
		DueAt:       time.Now().Add(time.Hour),
		Status:      domain.StatusAutoReleased,
	}
	d := domain.SettlementDecision{
		ChallengeID: "chal_1",
		Kind:        domain.KindTerminal,
		Outcome:     domain.OutcomeAutoReleased,
		WinnerID:    &winner,
		DecidedAt:   time.Now().UTC(),
	}
	return c, d
}

func TestInlineDeliverySignsPayload(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- b
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ledger.Close()

	d := New(Config{
		WebhookURL:    ledger.URL,
		WebhookSecret: "topsecret",
		MaxAttempts:   1,
	}, quietLogger(), WithHTTPClient(ledger.Client()))

	c, dec := testDecision()
	d.Dispatch(context.Background(), c, dec)
	d.Wait()

	var req *http.Request
	var body []byte
	select {
	case req = <-received:
		body = <-bodies
	case <-time.After(5 * time.Second):
		t.Fatalf("ledger never received the decision")
	}

	res, err := ledgerhook.Verify(req.Header, body, "topsecret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("delivery signature invalid: %v", res.Details)
	}
	if res.EventType != "settlement.auto_released" {
		t.Fatalf("event type = %s", res.EventType)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Decision.ChallengeID != "chal_1" || env.DecisionHash == "" {
		t.Fatalf("envelope = %#v", env)
	}

	stats := d.GetStats()
	if stats.Enqueued != 1 || stats.Delivered != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %#v", stats)
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	var calls int32
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ledger.Close()

	d := New(Config{
		WebhookURL:    ledger.URL,
		WebhookSecret: "topsecret",
		MaxAttempts:   3,
		Backoff:       time.Millisecond,
	}, quietLogger(), WithHTTPClient(ledger.Client()))

	c, dec := testDecision()
	d.Dispatch(context.Background(), c, dec)
	d.Wait()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	stats := d.GetStats()
	if stats.Delivered != 1 || stats.Retries != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %#v", stats)
	}
}

func TestDeliveryExhaustsRetries(t *testing.T) {
	var calls int32
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ledger.Close()

	d := New(Config{
		WebhookURL:    ledger.URL,
		WebhookSecret: "topsecret",
		MaxAttempts:   2,
		Backoff:       time.Millisecond,
	}, quietLogger(), WithHTTPClient(ledger.Client()))

	c, dec := testDecision()
	d.Dispatch(context.Background(), c, dec)
	d.Wait()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if stats := d.GetStats(); stats.Failed != 1 {
		t.Fatalf("stats = %#v", stats)
	}
}

func TestEventTypeMapping(t *testing.T) {
	_, auto := testDecision()
	if got := eventTypeFor(auto); got != "settlement.auto_released" {
		t.Fatalf("auto release = %s", got)
	}
	dispute := domain.SettlementDecision{Kind: domain.KindTerminal, Outcome: domain.OutcomeDisputeOpened, Reason: domain.ReasonVoteMismatch}
	if got := eventTypeFor(dispute); got != "settlement.dispute_opened" {
		t.Fatalf("dispute = %s", got)
	}
	resolution := domain.SettlementDecision{Kind: domain.KindResolution, Outcome: domain.OutcomeResolved}
	if got := eventTypeFor(resolution); got != "settlement.resolved" {
		t.Fatalf("resolution = %s", got)
	}
}
