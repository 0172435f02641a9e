package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"wagerlane/sdk/go/wagerlane"
)

func main() {
	base := getenv("WAGERLANE_BASE_URL", "http://localhost:8085")
	client := wagerlane.NewClient(base)
	ctx := context.Background()

	ch, err := client.RegisterChallenge(ctx, wagerlane.NewChallenge{
		ChallengerID: "alice",
		ChallengedID: "bob",
		Stake:        "USD 25.00",
		DueAt:        time.Now().Add(24 * time.Hour),
	}, wagerlane.NewIdempotencyKey())
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered %s status=%s\n", ch.ChallengeID, ch.Status)

	hash := os.Getenv("PROOF_HASH")
	if hash == "" {
		panic("PROOF_HASH is required (use wagerctl proof hash)")
	}
	if _, err := client.SubmitProof(ctx, ch.ChallengeID, wagerlane.ProofInput{
		SubmitterID: "alice",
		ContentURI:  "s3://proofs/alice/run.json",
		ContentHash: hash,
	}, wagerlane.NewIdempotencyKey()); err != nil {
		panic(err)
	}

	for _, voter := range []string{"alice", "bob"} {
		if _, err := client.CastVote(ctx, ch.ChallengeID, wagerlane.VoteInput{
			VoterID:             voter,
			Choice:              "CHALLENGER_WON",
			ReferencedProofHash: hash,
		}, wagerlane.NewIdempotencyKey()); err != nil {
			panic(err)
		}
	}

	s, err := client.Settlement(ctx, ch.ChallengeID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("settlement state=%s outcome=%s winner=%s\n", s.State, s.Outcome, s.WinnerID)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
