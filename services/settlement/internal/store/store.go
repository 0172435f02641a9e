// Package store persists challenges, proofs, votes, decisions, and
// disputes. Two implementations share one contract: Postgres for the
// service and Memory for tests.
package store

import (
	"context"
	"time"

	"wagerlane/pkg/domain"
)

// Event is one append-only audit row for a challenge.
type Event struct {
	Type       string         `json:"type"`
	ActorID    *string        `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Store is the persistence contract for the settlement service.
//
// Lookup methods return domain.ErrUnknownChallenge for missing
// challenges. Write-once methods report whether this call inserted the
// row; a false return with a nil error means the row already existed.
type Store interface {
	CreateChallenge(ctx context.Context, c domain.Challenge) (created bool, err error)
	GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error)
	SetChallengeStatus(ctx context.Context, challengeID string, status domain.ChallengeStatus) error
	ListDueChallenges(ctx context.Context, now time.Time, limit int) ([]domain.Challenge, error)

	AddProof(ctx context.Context, p domain.ProofSubmission) error
	ListProofs(ctx context.Context, challengeID string) ([]domain.ProofSubmission, error)

	AddVote(ctx context.Context, v domain.Vote) (inserted bool, err error)
	ListVotes(ctx context.Context, challengeID string) ([]domain.Vote, error)

	RecordDecision(ctx context.Context, d domain.SettlementDecision) (inserted bool, err error)
	GetDecision(ctx context.Context, challengeID string, kind domain.DecisionKind) (domain.SettlementDecision, bool, error)

	OpenDispute(ctx context.Context, d domain.DisputeRecord) (inserted bool, err error)
	GetDispute(ctx context.Context, challengeID string) (domain.DisputeRecord, bool, error)

	AddEvent(ctx context.Context, challengeID, eventType string, actorID *string, payload map[string]any) error
	ListEvents(ctx context.Context, challengeID string) ([]Event, error)
}
