package domain

import (
	"time"
)

// SettlementState is the engine's view of where the protocol stands. It is
// recomputed from durable proofs, votes, and the clock on every evaluation.
type SettlementState string

const (
	StateAwaitingProofs SettlementState = "AWAITING_PROOFS"
	StateAwaitingVotes  SettlementState = "AWAITING_VOTES"
	StateConverged      SettlementState = "CONVERGED"
	StateDiverged       SettlementState = "DIVERGED"
	StateExpired        SettlementState = "EXPIRED"
)

type Outcome string

const (
	OutcomePending       Outcome = "PENDING"
	OutcomeAutoReleased  Outcome = "AUTO_RELEASED"
	OutcomeDisputeOpened Outcome = "DISPUTE_OPENED"
	OutcomeResolved      Outcome = "RESOLVED"
)

type DisputeReason string

const (
	ReasonVoteMismatch         DisputeReason = "VOTE_MISMATCH"
	ReasonExpired              DisputeReason = "EXPIRED"
	ReasonParticipantInitiated DisputeReason = "PARTICIPANT_INITIATED"
)

// DecisionKind separates the automatic terminal decision from the arbiter's
// resolution of an opened dispute. At most one row of each kind per challenge.
type DecisionKind string

const (
	KindTerminal   DecisionKind = "TERMINAL"
	KindResolution DecisionKind = "RESOLUTION"
)

// SettlementDecision is the artifact the escrow ledger consumes. The first
// terminal decision per challenge is authoritative and never changes.
type SettlementDecision struct {
	ChallengeID string         `json:"challenge_id"`
	Kind        DecisionKind   `json:"kind"`
	Outcome     Outcome        `json:"outcome"`
	WinnerID    *ParticipantID `json:"winner_id,omitempty"`
	Split       bool           `json:"split,omitempty"`
	Reason      DisputeReason  `json:"reason,omitempty"`
	Evidence    []Vote         `json:"evidence,omitempty"`
	DecidedAt   time.Time      `json:"decided_at"`
}

// DisputeRecord is what the external arbitration process works from.
type DisputeRecord struct {
	DisputeID   string         `json:"dispute_id"`
	ChallengeID string         `json:"challenge_id"`
	Reason      DisputeReason  `json:"reason"`
	OpenedBy    *ParticipantID `json:"opened_by,omitempty"`
	OpenedAt    time.Time      `json:"opened_at"`
}

// Evaluation is the result of one settlement evaluation pass.
type Evaluation struct {
	State    SettlementState
	Outcome  Outcome
	WinnerID *ParticipantID
	Reason   DisputeReason
	Evidence []Vote
}

// Evaluate computes the settlement state from durable inputs. Pure: no clock
// reads, no storage. Convergence requires unanimity: exactly two votes with
// equal choice, never a majority rule. Vote equality alone releases; the two
// referenced proof hashes are not required to match.
func Evaluate(c Challenge, proofs []ProofSubmission, votes map[ParticipantID]Vote, now time.Time) Evaluation {
	if len(votes) == 2 {
		a, b := votes[c.Challenger], votes[c.Challenged]
		evidence := orderVotes(a, b)
		if a.Choice == b.Choice {
			winner := c.WinnerFor(a.Choice)
			return Evaluation{
				State:    StateConverged,
				Outcome:  OutcomeAutoReleased,
				WinnerID: &winner,
				Evidence: evidence,
			}
		}
		return Evaluation{
			State:    StateDiverged,
			Outcome:  OutcomeDisputeOpened,
			Reason:   ReasonVoteMismatch,
			Evidence: evidence,
		}
	}

	if HasExpired(now, c.DueAt) {
		return Evaluation{
			State:   StateExpired,
			Outcome: OutcomeDisputeOpened,
			Reason:  ReasonExpired,
		}
	}

	if len(proofs) == 0 {
		return Evaluation{State: StateAwaitingProofs, Outcome: OutcomePending}
	}
	return Evaluation{State: StateAwaitingVotes, Outcome: OutcomePending}
}

// orderVotes totally orders the two votes by acceptance time for the evidence
// record, so observers see a deterministic sequence.
func orderVotes(a, b Vote) []Vote {
	if b.CastAt.Before(a.CastAt) {
		return []Vote{b, a}
	}
	return []Vote{a, b}
}

// HasProofWithHash reports whether any recorded submission carries the hash.
func HasProofWithHash(proofs []ProofSubmission, contentHash string) bool {
	for _, p := range proofs {
		if p.ContentHash == contentHash {
			return true
		}
	}
	return false
}
