package domain

import "fmt"

// Error is a terminal-to-the-caller precondition failure. Codes are surfaced
// verbatim at the service boundary; the core never retries or coerces.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrUnknownChallenge        = &Error{Code: "UNKNOWN_CHALLENGE", Message: "challenge does not exist"}
	ErrChallengeExists         = &Error{Code: "CHALLENGE_EXISTS", Message: "challenge is already registered"}
	ErrNotAParticipant         = &Error{Code: "NOT_A_PARTICIPANT", Message: "caller is neither the challenger nor the challenged"}
	ErrProofNotFound           = &Error{Code: "PROOF_NOT_FOUND", Message: "referenced proof hash was never submitted for this challenge"}
	ErrInvalidHash             = &Error{Code: "INVALID_HASH", Message: "content hash must be a 64-character lowercase hex digest"}
	ErrAlreadyVoted            = &Error{Code: "ALREADY_VOTED", Message: "participant already has a recorded vote for this round"}
	ErrChallengeAlreadySettled = &Error{Code: "CHALLENGE_ALREADY_SETTLED", Message: "challenge has a terminal settlement decision"}
	ErrAlreadyDisputed         = &Error{Code: "ALREADY_DISPUTED", Message: "a dispute is already open for this challenge"}
	ErrDisputeNotOpen          = &Error{Code: "DISPUTE_NOT_OPEN", Message: "challenge has no open dispute to resolve"}
)

// ValidationError reports malformed input on the registration and stake paths.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
