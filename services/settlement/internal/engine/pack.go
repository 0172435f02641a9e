package engine

import (
	"context"

	"wagerlane/pkg/disputepack"
	"wagerlane/pkg/domain"
)

// EvidencePack builds the deterministic artifact bundle handed to the
// arbitration process. Only disputed challenges have one.
func (e *Engine) EvidencePack(ctx context.Context, challengeID, requestID string) (disputepack.PackV1, error) {
	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return disputepack.PackV1{}, err
	}
	dispute, ok, err := e.store.GetDispute(ctx, challengeID)
	if err != nil {
		return disputepack.PackV1{}, err
	}
	if !ok {
		return disputepack.PackV1{}, domain.ErrDisputeNotOpen
	}
	proofs, err := e.store.ListProofs(ctx, challengeID)
	if err != nil {
		return disputepack.PackV1{}, err
	}
	votes, err := e.store.ListVotes(ctx, challengeID)
	if err != nil {
		return disputepack.PackV1{}, err
	}

	in := disputepack.Input{
		Challenge: c,
		Proofs:    proofs,
		Votes:     votes,
		Dispute:   &dispute,
		RequestID: requestID,
		Now:       e.now(),
	}
	if decision, ok, err := e.store.GetDecision(ctx, challengeID, domain.KindTerminal); err != nil {
		return disputepack.PackV1{}, err
	} else if ok {
		in.Decision = &decision
	}
	return disputepack.Build(in)
}
