package engine

import (
	"context"
	"time"

	"wagerlane/pkg/domain"
)

// SettlementView is the externally observable settlement status of one
// challenge at the moment of the query.
type SettlementView struct {
	ChallengeID      string                     `json:"challenge_id"`
	State            domain.SettlementState     `json:"state"`
	Outcome          domain.Outcome             `json:"outcome"`
	WinnerID         *domain.ParticipantID      `json:"winner_id,omitempty"`
	Split            bool                       `json:"split,omitempty"`
	Reason           domain.DisputeReason       `json:"reason,omitempty"`
	RemainingSeconds *int64                     `json:"remaining_seconds,omitempty"`
	Decision         *domain.SettlementDecision `json:"decision,omitempty"`
	Resolution       *domain.SettlementDecision `json:"resolution,omitempty"`
	Dispute          *domain.DisputeRecord      `json:"dispute,omitempty"`
}

// Settlement reports the current settlement status. A read can settle:
// if the deadline has passed and no terminal decision exists yet, this
// evaluation records the expiry rather than reporting stale PENDING.
func (e *Engine) Settlement(ctx context.Context, challengeID string) (SettlementView, error) {
	var pending *domain.SettlementDecision
	var c domain.Challenge
	defer e.dispatchDeferred(ctx, &c, &pending)
	unlock := e.lockChallenge(challengeID)
	defer unlock()

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return SettlementView{}, err
	}

	view := SettlementView{ChallengeID: challengeID}

	if !c.Status.Terminal() {
		proofs, err := e.store.ListProofs(ctx, challengeID)
		if err != nil {
			return SettlementView{}, err
		}
		eval, recorded, err := e.reevaluateLocked(ctx, c, proofs)
		if err != nil {
			return SettlementView{}, err
		}
		pending = recorded
		if eval.Outcome == domain.OutcomePending {
			remaining := int64(domain.Remaining(e.now(), c.DueAt) / time.Second)
			view.State = eval.State
			view.Outcome = domain.OutcomePending
			view.RemainingSeconds = &remaining
			return view, nil
		}
		// The read settled the challenge; fall through to report the
		// recorded decision.
	}

	terminal, ok, err := e.store.GetDecision(ctx, challengeID, domain.KindTerminal)
	if err != nil {
		return SettlementView{}, err
	}
	if !ok {
		// Engine transitions always write the decision row before the
		// terminal status, so this branch only covers a torn write.
		view.State = domain.StateAwaitingProofs
		view.Outcome = domain.OutcomePending
		return view, nil
	}
	view.Decision = &terminal
	if terminal.Reason == domain.ReasonParticipantInitiated {
		// The participant froze the protocol mid-flight; no votes
		// diverged and no deadline passed, so report the stage the
		// challenge was at when the dispute landed.
		proofs, err := e.store.ListProofs(ctx, challengeID)
		if err != nil {
			return SettlementView{}, err
		}
		if len(proofs) == 0 {
			view.State = domain.StateAwaitingProofs
		} else {
			view.State = domain.StateAwaitingVotes
		}
	} else {
		view.State = stateForDecision(terminal)
	}
	view.Outcome = terminal.Outcome
	view.WinnerID = terminal.WinnerID
	view.Reason = terminal.Reason

	if dispute, ok, err := e.store.GetDispute(ctx, challengeID); err != nil {
		return SettlementView{}, err
	} else if ok {
		view.Dispute = &dispute
	}

	if resolution, ok, err := e.store.GetDecision(ctx, challengeID, domain.KindResolution); err != nil {
		return SettlementView{}, err
	} else if ok {
		view.Resolution = &resolution
		view.Outcome = domain.OutcomeResolved
		view.WinnerID = resolution.WinnerID
		view.Split = resolution.Split
	}
	return view, nil
}

// stateForDecision maps an automatic terminal decision to its
// evaluation state. Participant-initiated disputes are handled by the
// caller since they carry no evaluation of their own.
func stateForDecision(d domain.SettlementDecision) domain.SettlementState {
	switch {
	case d.Outcome == domain.OutcomeAutoReleased:
		return domain.StateConverged
	case d.Reason == domain.ReasonExpired:
		return domain.StateExpired
	default:
		return domain.StateDiverged
	}
}
