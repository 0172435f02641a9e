package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wagerlane/pkg/domain"
)

func memChallenge(id string, due time.Time) domain.Challenge {
	return domain.Challenge{
		ChallengeID: id,
		Challenger:  "alice",
		Challenged:  "bob",
		Stake:       "USD 25.00",
		DueAt:       due,
		Status:      domain.StatusAwaitingProofs,
		CreatedAt:   due.Add(-24 * time.Hour),
	}
}

func TestMemoryChallengeWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	due := time.Now().Add(time.Hour)

	created, err := m.CreateChallenge(ctx, memChallenge("chal_1", due))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	created, err = m.CreateChallenge(ctx, memChallenge("chal_1", due))
	if err != nil || created {
		t.Fatalf("second create should not insert: created=%v err=%v", created, err)
	}

	if _, err := m.GetChallenge(ctx, "chal_missing"); !errors.Is(err, domain.ErrUnknownChallenge) {
		t.Fatalf("expected ErrUnknownChallenge, got %v", err)
	}
}

func TestMemoryVoteWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	due := time.Now().Add(time.Hour)
	if _, err := m.CreateChallenge(ctx, memChallenge("chal_1", due)); err != nil {
		t.Fatal(err)
	}

	v := domain.Vote{ChallengeID: "chal_1", VoterID: "alice", Choice: domain.ChoiceChallenger, ReferencedProofHash: "aa", CastAt: time.Now()}
	inserted, err := m.AddVote(ctx, v)
	if err != nil || !inserted {
		t.Fatalf("first vote: inserted=%v err=%v", inserted, err)
	}
	v.Choice = domain.ChoiceChallenged
	inserted, err = m.AddVote(ctx, v)
	if err != nil || inserted {
		t.Fatalf("second vote should not insert: inserted=%v err=%v", inserted, err)
	}

	votes, err := m.ListVotes(ctx, "chal_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 1 || votes[0].Choice != domain.ChoiceChallenger {
		t.Fatalf("expected original vote preserved, got %#v", votes)
	}
}

func TestMemoryDecisionFirstWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	due := time.Now().Add(time.Hour)
	if _, err := m.CreateChallenge(ctx, memChallenge("chal_1", due)); err != nil {
		t.Fatal(err)
	}

	winner := domain.ParticipantID("alice")
	first := domain.SettlementDecision{ChallengeID: "chal_1", Kind: domain.KindTerminal, Outcome: domain.OutcomeAutoReleased, WinnerID: &winner, DecidedAt: time.Now()}
	second := domain.SettlementDecision{ChallengeID: "chal_1", Kind: domain.KindTerminal, Outcome: domain.OutcomeDisputeOpened, Reason: domain.ReasonExpired, DecidedAt: time.Now()}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, d := range []domain.SettlementDecision{first, second} {
		wg.Add(1)
		go func(i int, d domain.SettlementDecision) {
			defer wg.Done()
			inserted, err := m.RecordDecision(ctx, d)
			if err != nil {
				t.Errorf("RecordDecision: %v", err)
			}
			results[i] = inserted
		}(i, d)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("exactly one decision should insert, got %v", results)
	}
	d, ok, err := m.GetDecision(ctx, "chal_1", domain.KindTerminal)
	if err != nil || !ok {
		t.Fatalf("GetDecision: ok=%v err=%v", ok, err)
	}
	if d.Outcome != domain.OutcomeAutoReleased && d.Outcome != domain.OutcomeDisputeOpened {
		t.Fatalf("unexpected outcome %s", d.Outcome)
	}

	// A RESOLUTION row coexists with the TERMINAL row.
	inserted, err := m.RecordDecision(ctx, domain.SettlementDecision{ChallengeID: "chal_1", Kind: domain.KindResolution, Outcome: domain.OutcomeResolved, Split: true, DecidedAt: time.Now()})
	if err != nil || !inserted {
		t.Fatalf("resolution insert: inserted=%v err=%v", inserted, err)
	}
}

func TestMemoryListDueChallenges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	if _, err := m.CreateChallenge(ctx, memChallenge("chal_past", now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateChallenge(ctx, memChallenge("chal_future", now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	settled := memChallenge("chal_settled", now.Add(-2*time.Hour))
	settled.Status = domain.StatusAutoReleased
	if _, err := m.CreateChallenge(ctx, settled); err != nil {
		t.Fatal(err)
	}

	due, err := m.ListDueChallenges(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ChallengeID != "chal_past" {
		t.Fatalf("expected only chal_past due, got %#v", due)
	}
}

func TestMemoryDisputeWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	by := domain.ParticipantID("bob")
	d := domain.DisputeRecord{DisputeID: "dsp_1", ChallengeID: "chal_1", Reason: domain.ReasonParticipantInitiated, OpenedBy: &by, OpenedAt: time.Now()}

	inserted, err := m.OpenDispute(ctx, d)
	if err != nil || !inserted {
		t.Fatalf("first open: inserted=%v err=%v", inserted, err)
	}
	d.DisputeID = "dsp_2"
	inserted, err = m.OpenDispute(ctx, d)
	if err != nil || inserted {
		t.Fatalf("second open should not insert: inserted=%v err=%v", inserted, err)
	}
	got, ok, err := m.GetDispute(ctx, "chal_1")
	if err != nil || !ok {
		t.Fatalf("GetDispute: ok=%v err=%v", ok, err)
	}
	if got.DisputeID != "dsp_1" {
		t.Fatalf("expected first dispute kept, got %s", got.DisputeID)
	}
}
