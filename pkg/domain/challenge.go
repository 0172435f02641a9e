package domain

import (
	"strings"
	"time"
)

type ParticipantID string

// Choice is a participant's claim about who prevailed.
type Choice string

const (
	ChoiceChallenger Choice = "CHALLENGER"
	ChoiceChallenged Choice = "CHALLENGED"
)

func ParseChoice(raw string) (Choice, error) {
	switch Choice(strings.ToUpper(strings.TrimSpace(raw))) {
	case ChoiceChallenger:
		return ChoiceChallenger, nil
	case ChoiceChallenged:
		return ChoiceChallenged, nil
	}
	return "", &ValidationError{Field: "choice", Reason: `must be "CHALLENGER" or "CHALLENGED"`}
}

type ChallengeStatus string

const (
	StatusAwaitingProofs ChallengeStatus = "AWAITING_PROOFS"
	StatusAwaitingVotes  ChallengeStatus = "AWAITING_VOTES"
	StatusAutoReleased   ChallengeStatus = "AUTO_RELEASED"
	StatusDisputeOpened  ChallengeStatus = "DISPUTE_OPENED"
	StatusResolved       ChallengeStatus = "RESOLVED"
)

// Terminal reports whether no further proof or vote mutation is accepted.
func (s ChallengeStatus) Terminal() bool {
	switch s {
	case StatusAutoReleased, StatusDisputeOpened, StatusResolved:
		return true
	}
	return false
}

// Challenge is the contest being settled. It is created by the acceptance flow
// outside the core and from then on mutated only through engine transitions.
type Challenge struct {
	ChallengeID string          `json:"challenge_id"`
	Challenger  ParticipantID   `json:"challenger_id"`
	Challenged  ParticipantID   `json:"challenged_id"`
	Stake       string          `json:"stake"`
	DueAt       time.Time       `json:"due_at"`
	Status      ChallengeStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Participants returns the fixed two-element participant set.
func (c Challenge) Participants() [2]ParticipantID {
	return [2]ParticipantID{c.Challenger, c.Challenged}
}

func (c Challenge) IsParticipant(id ParticipantID) bool {
	return id == c.Challenger || id == c.Challenged
}

// WinnerFor maps a vote choice onto the concrete participant identity.
func (c Challenge) WinnerFor(choice Choice) ParticipantID {
	if choice == ChoiceChallenger {
		return c.Challenger
	}
	return c.Challenged
}

func (c Challenge) Validate() error {
	if strings.TrimSpace(c.ChallengeID) == "" {
		return &ValidationError{Field: "challenge_id", Reason: "empty"}
	}
	if strings.TrimSpace(string(c.Challenger)) == "" || strings.TrimSpace(string(c.Challenged)) == "" {
		return &ValidationError{Field: "participants", Reason: "both participant ids are required"}
	}
	if c.Challenger == c.Challenged {
		return &ValidationError{Field: "participants", Reason: "challenger and challenged must be distinct"}
	}
	if _, err := ParseStake(c.Stake); err != nil {
		return err
	}
	if c.DueAt.IsZero() {
		return &ValidationError{Field: "due_at", Reason: "due time is required"}
	}
	return nil
}

// ProofSubmission binds uploaded media (already stored and hashed by the upload
// collaborator) to the challenge. Append-only, immutable once stored.
type ProofSubmission struct {
	ProofID     string        `json:"proof_id"`
	ChallengeID string        `json:"challenge_id"`
	SubmitterID ParticipantID `json:"submitter_id"`
	ContentURI  string        `json:"content_uri"`
	ContentHash string        `json:"content_hash"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// Vote is write-once per (challenge, voter). ReferencedProofHash must match a
// ProofSubmission recorded for the challenge; the submitter may be either party.
type Vote struct {
	ChallengeID         string        `json:"challenge_id"`
	VoterID             ParticipantID `json:"voter_id"`
	Choice              Choice        `json:"choice"`
	ReferencedProofHash string        `json:"referenced_proof_hash"`
	CastAt              time.Time     `json:"cast_at"`
}
