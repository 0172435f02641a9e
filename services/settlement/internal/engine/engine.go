// Package engine drives challenge settlement: it guards the protocol
// preconditions, reevaluates state after every accepted mutation, and
// records the first terminal decision per challenge exactly once.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"wagerlane/pkg/domain"
	"wagerlane/pkg/proofhash"
	"wagerlane/services/settlement/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher receives every newly recorded decision for delivery to the
// escrow ledger. The engine calls Dispatch after releasing the challenge
// lock, so a slow implementation delays only its own delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, c domain.Challenge, d domain.SettlementDecision)
}

const (
	EventChallengeRegistered = "CHALLENGE_REGISTERED"
	EventProofSubmitted      = "PROOF_SUBMITTED"
	EventVoteCast            = "VOTE_CAST"
	EventAutoReleased        = "AUTO_RELEASED"
	EventDisputeOpened       = "DISPUTE_OPENED"
	EventResolved            = "RESOLVED"
)

type Engine struct {
	store    store.Store
	log      logrus.FieldLogger
	dispatch Dispatcher
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type Option func(*Engine)

func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatch = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st store.Store, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		locks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockChallenge serializes engine mutations per challenge. The store's
// own constraints still hold across processes; this keeps a single
// instance from racing itself between read and decide.
func (e *Engine) lockChallenge(challengeID string) func() {
	e.locksMu.Lock()
	m, ok := e.locks[challengeID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[challengeID] = m
	}
	e.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// dispatchDeferred delivers a decision recorded inside a critical
// section. Callers register it with defer before taking the challenge
// lock, so the deferred unlock runs first and dispatch I/O never holds
// the lock.
func (e *Engine) dispatchDeferred(ctx context.Context, c *domain.Challenge, d **domain.SettlementDecision) {
	if e.dispatch == nil || *d == nil {
		return
	}
	e.dispatch.Dispatch(ctx, *c, **d)
}

func (e *Engine) RegisterChallenge(ctx context.Context, c domain.Challenge) (domain.Challenge, error) {
	if strings.TrimSpace(c.ChallengeID) == "" {
		c.ChallengeID = "chal_" + uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return domain.Challenge{}, err
	}
	canonical, err := domain.CanonicalizeStake(c.Stake)
	if err != nil {
		return domain.Challenge{}, err
	}
	c.Stake = canonical
	c.Status = domain.StatusAwaitingProofs
	c.CreatedAt = e.now()
	c.DueAt = c.DueAt.UTC()

	created, err := e.store.CreateChallenge(ctx, c)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !created {
		return domain.Challenge{}, domain.ErrChallengeExists
	}
	_ = e.store.AddEvent(ctx, c.ChallengeID, EventChallengeRegistered, nil, map[string]any{
		"challenger_id": string(c.Challenger),
		"challenged_id": string(c.Challenged),
		"stake":         c.Stake,
		"due_at":        c.DueAt.Format(time.RFC3339),
	})
	e.log.WithFields(logrus.Fields{"challenge_id": c.ChallengeID, "due_at": c.DueAt}).Info("challenge registered")
	return c, nil
}

func (e *Engine) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	return e.store.GetChallenge(ctx, challengeID)
}

func (e *Engine) SubmitProof(ctx context.Context, challengeID string, submitterID domain.ParticipantID, contentURI, contentHash string) (domain.ProofSubmission, error) {
	unlock := e.lockChallenge(challengeID)
	defer unlock()

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.ProofSubmission{}, err
	}
	if c.Status.Terminal() {
		return domain.ProofSubmission{}, domain.ErrChallengeAlreadySettled
	}
	if !c.IsParticipant(submitterID) {
		return domain.ProofSubmission{}, domain.ErrNotAParticipant
	}
	if !proofhash.IsWellFormed(contentHash) {
		return domain.ProofSubmission{}, domain.ErrInvalidHash
	}
	if strings.TrimSpace(contentURI) == "" {
		return domain.ProofSubmission{}, &domain.ValidationError{Field: "content_uri", Reason: "empty"}
	}

	p := domain.ProofSubmission{
		ProofID:     "prf_" + uuid.NewString(),
		ChallengeID: challengeID,
		SubmitterID: submitterID,
		ContentURI:  contentURI,
		ContentHash: contentHash,
		SubmittedAt: e.now(),
	}
	if err := e.store.AddProof(ctx, p); err != nil {
		return domain.ProofSubmission{}, err
	}
	if c.Status == domain.StatusAwaitingProofs {
		if err := e.store.SetChallengeStatus(ctx, challengeID, domain.StatusAwaitingVotes); err != nil {
			return domain.ProofSubmission{}, err
		}
	}
	actor := string(submitterID)
	_ = e.store.AddEvent(ctx, challengeID, EventProofSubmitted, &actor, map[string]any{
		"proof_id":     p.ProofID,
		"content_hash": p.ContentHash,
	})
	return p, nil
}

func (e *Engine) ListProofs(ctx context.Context, challengeID string) ([]domain.ProofSubmission, error) {
	if _, err := e.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return e.store.ListProofs(ctx, challengeID)
}

// CastVote records a write-once vote and immediately reevaluates the
// challenge; the accepted vote may be the one that settles it.
func (e *Engine) CastVote(ctx context.Context, challengeID string, voterID domain.ParticipantID, choiceRaw, referencedProofHash string) (domain.Vote, error) {
	var pending *domain.SettlementDecision
	var c domain.Challenge
	defer e.dispatchDeferred(ctx, &c, &pending)
	unlock := e.lockChallenge(challengeID)
	defer unlock()

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.Vote{}, err
	}
	if c.Status.Terminal() {
		return domain.Vote{}, domain.ErrChallengeAlreadySettled
	}
	if !c.IsParticipant(voterID) {
		return domain.Vote{}, domain.ErrNotAParticipant
	}
	choice, err := domain.ParseChoice(choiceRaw)
	if err != nil {
		return domain.Vote{}, err
	}
	if !proofhash.IsWellFormed(referencedProofHash) {
		return domain.Vote{}, domain.ErrInvalidHash
	}
	proofs, err := e.store.ListProofs(ctx, challengeID)
	if err != nil {
		return domain.Vote{}, err
	}
	if !domain.HasProofWithHash(proofs, referencedProofHash) {
		return domain.Vote{}, domain.ErrProofNotFound
	}

	v := domain.Vote{
		ChallengeID:         challengeID,
		VoterID:             voterID,
		Choice:              choice,
		ReferencedProofHash: referencedProofHash,
		CastAt:              e.now(),
	}
	inserted, err := e.store.AddVote(ctx, v)
	if err != nil {
		return domain.Vote{}, err
	}
	if !inserted {
		return domain.Vote{}, domain.ErrAlreadyVoted
	}
	actor := string(voterID)
	_ = e.store.AddEvent(ctx, challengeID, EventVoteCast, &actor, map[string]any{
		"choice":                string(choice),
		"referenced_proof_hash": referencedProofHash,
	})

	if _, pending, err = e.reevaluateLocked(ctx, c, proofs); err != nil {
		return domain.Vote{}, err
	}
	return v, nil
}

func (e *Engine) ListVotes(ctx context.Context, challengeID string) ([]domain.Vote, error) {
	if _, err := e.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return e.store.ListVotes(ctx, challengeID)
}

// reevaluateLocked runs one evaluation pass and persists any terminal
// transition. Caller holds the challenge lock. The store's write-once
// decision insert is the cross-process tiebreak: when it reports the
// row already existed this pass changes nothing. A newly recorded
// decision is returned for the caller to dispatch after unlocking.
func (e *Engine) reevaluateLocked(ctx context.Context, c domain.Challenge, proofs []domain.ProofSubmission) (domain.Evaluation, *domain.SettlementDecision, error) {
	votes, err := e.store.ListVotes(ctx, c.ChallengeID)
	if err != nil {
		return domain.Evaluation{}, nil, err
	}
	byVoter := make(map[domain.ParticipantID]domain.Vote, len(votes))
	for _, v := range votes {
		byVoter[v.VoterID] = v
	}

	eval := domain.Evaluate(c, proofs, byVoter, e.now())
	if eval.Outcome == domain.OutcomePending {
		return eval, nil, nil
	}

	d := domain.SettlementDecision{
		ChallengeID: c.ChallengeID,
		Kind:        domain.KindTerminal,
		Outcome:     eval.Outcome,
		WinnerID:    eval.WinnerID,
		Reason:      eval.Reason,
		Evidence:    eval.Evidence,
		DecidedAt:   e.now(),
	}
	inserted, err := e.store.RecordDecision(ctx, d)
	if err != nil {
		return domain.Evaluation{}, nil, err
	}
	if !inserted {
		return eval, nil, nil
	}

	switch eval.Outcome {
	case domain.OutcomeAutoReleased:
		if err := e.store.SetChallengeStatus(ctx, c.ChallengeID, domain.StatusAutoReleased); err != nil {
			return domain.Evaluation{}, nil, err
		}
		_ = e.store.AddEvent(ctx, c.ChallengeID, EventAutoReleased, nil, map[string]any{
			"winner_id": string(*eval.WinnerID),
		})
		e.log.WithFields(logrus.Fields{"challenge_id": c.ChallengeID, "winner_id": *eval.WinnerID}).Info("stake auto released")
	case domain.OutcomeDisputeOpened:
		if _, err := e.openDisputeRecord(ctx, c.ChallengeID, eval.Reason, nil); err != nil {
			return domain.Evaluation{}, nil, err
		}
		if err := e.store.SetChallengeStatus(ctx, c.ChallengeID, domain.StatusDisputeOpened); err != nil {
			return domain.Evaluation{}, nil, err
		}
		e.log.WithFields(logrus.Fields{"challenge_id": c.ChallengeID, "reason": eval.Reason}).Info("dispute opened")
	}
	return eval, &d, nil
}

func (e *Engine) openDisputeRecord(ctx context.Context, challengeID string, reason domain.DisputeReason, openedBy *domain.ParticipantID) (domain.DisputeRecord, error) {
	rec := domain.DisputeRecord{
		DisputeID:   "dsp_" + uuid.NewString(),
		ChallengeID: challengeID,
		Reason:      reason,
		OpenedBy:    openedBy,
		OpenedAt:    e.now(),
	}
	inserted, err := e.store.OpenDispute(ctx, rec)
	if err != nil {
		return domain.DisputeRecord{}, err
	}
	if !inserted {
		existing, _, err := e.store.GetDispute(ctx, challengeID)
		if err != nil {
			return domain.DisputeRecord{}, err
		}
		return existing, nil
	}
	var actor *string
	if openedBy != nil {
		a := string(*openedBy)
		actor = &a
	}
	_ = e.store.AddEvent(ctx, challengeID, EventDisputeOpened, actor, map[string]any{
		"dispute_id": rec.DisputeID,
		"reason":     string(reason),
	})
	return rec, nil
}

// OpenDispute is the participant-initiated escalation. Reopening an
// already disputed challenge is a benign no-op returning the existing
// record; a challenge settled any other way rejects.
func (e *Engine) OpenDispute(ctx context.Context, challengeID string, openedBy domain.ParticipantID) (domain.DisputeRecord, bool, error) {
	var pending *domain.SettlementDecision
	var c domain.Challenge
	defer e.dispatchDeferred(ctx, &c, &pending)
	unlock := e.lockChallenge(challengeID)
	defer unlock()

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.DisputeRecord{}, false, err
	}
	if !c.IsParticipant(openedBy) {
		return domain.DisputeRecord{}, false, domain.ErrNotAParticipant
	}
	if c.Status.Terminal() {
		if existing, ok, err := e.store.GetDispute(ctx, challengeID); err != nil {
			return domain.DisputeRecord{}, false, err
		} else if ok {
			return existing, false, nil
		}
		return domain.DisputeRecord{}, false, domain.ErrChallengeAlreadySettled
	}

	d := domain.SettlementDecision{
		ChallengeID: challengeID,
		Kind:        domain.KindTerminal,
		Outcome:     domain.OutcomeDisputeOpened,
		Reason:      domain.ReasonParticipantInitiated,
		DecidedAt:   e.now(),
	}
	inserted, err := e.store.RecordDecision(ctx, d)
	if err != nil {
		return domain.DisputeRecord{}, false, err
	}
	if !inserted {
		existing, ok, err := e.store.GetDispute(ctx, challengeID)
		if err != nil {
			return domain.DisputeRecord{}, false, err
		}
		if ok {
			return existing, false, nil
		}
		return domain.DisputeRecord{}, false, domain.ErrChallengeAlreadySettled
	}

	rec, err := e.openDisputeRecord(ctx, challengeID, domain.ReasonParticipantInitiated, &openedBy)
	if err != nil {
		return domain.DisputeRecord{}, false, err
	}
	if err := e.store.SetChallengeStatus(ctx, challengeID, domain.StatusDisputeOpened); err != nil {
		return domain.DisputeRecord{}, false, err
	}
	e.log.WithFields(logrus.Fields{"challenge_id": challengeID, "opened_by": openedBy}).Info("participant opened dispute")
	pending = &d
	return rec, true, nil
}

// Resolve records the arbiter's outcome for an open dispute. Exactly one
// of winnerID and split must be set; the resolution row is write-once.
func (e *Engine) Resolve(ctx context.Context, challengeID string, winnerID *domain.ParticipantID, split bool) (domain.SettlementDecision, error) {
	var pending *domain.SettlementDecision
	var c domain.Challenge
	defer e.dispatchDeferred(ctx, &c, &pending)
	unlock := e.lockChallenge(challengeID)
	defer unlock()

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.SettlementDecision{}, err
	}
	if (winnerID == nil) == !split {
		return domain.SettlementDecision{}, &domain.ValidationError{Field: "resolution", Reason: "exactly one of winner_id and split is required"}
	}
	if winnerID != nil && !c.IsParticipant(*winnerID) {
		return domain.SettlementDecision{}, domain.ErrNotAParticipant
	}
	if _, ok, err := e.store.GetDispute(ctx, challengeID); err != nil {
		return domain.SettlementDecision{}, err
	} else if !ok {
		return domain.SettlementDecision{}, domain.ErrDisputeNotOpen
	}
	if c.Status == domain.StatusResolved {
		return domain.SettlementDecision{}, domain.ErrChallengeAlreadySettled
	}

	d := domain.SettlementDecision{
		ChallengeID: challengeID,
		Kind:        domain.KindResolution,
		Outcome:     domain.OutcomeResolved,
		WinnerID:    winnerID,
		Split:       split,
		DecidedAt:   e.now(),
	}
	inserted, err := e.store.RecordDecision(ctx, d)
	if err != nil {
		return domain.SettlementDecision{}, err
	}
	if !inserted {
		return domain.SettlementDecision{}, domain.ErrChallengeAlreadySettled
	}
	if err := e.store.SetChallengeStatus(ctx, challengeID, domain.StatusResolved); err != nil {
		return domain.SettlementDecision{}, err
	}
	payload := map[string]any{"split": split}
	if winnerID != nil {
		payload["winner_id"] = string(*winnerID)
	}
	_ = e.store.AddEvent(ctx, challengeID, EventResolved, nil, payload)
	e.log.WithField("challenge_id", challengeID).Info("dispute resolved")
	pending = &d
	return d, nil
}

func (e *Engine) ListEvents(ctx context.Context, challengeID string) ([]store.Event, error) {
	if _, err := e.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, challengeID)
}

// ExpireDue reevaluates every non-terminal challenge whose deadline has
// passed. Returns how many transitioned this pass.
func (e *Engine) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := e.store.ListDueChallenges(ctx, e.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, c := range due {
		unlock := e.lockChallenge(c.ChallengeID)
		fresh, err := e.store.GetChallenge(ctx, c.ChallengeID)
		if err != nil {
			unlock()
			return expired, err
		}
		if fresh.Status.Terminal() {
			unlock()
			continue
		}
		proofs, err := e.store.ListProofs(ctx, c.ChallengeID)
		if err != nil {
			unlock()
			return expired, err
		}
		eval, pending, err := e.reevaluateLocked(ctx, fresh, proofs)
		unlock()
		if err != nil {
			return expired, err
		}
		if pending != nil && e.dispatch != nil {
			e.dispatch.Dispatch(ctx, fresh, *pending)
		}
		if eval.Outcome != domain.OutcomePending {
			expired++
		}
	}
	return expired, nil
}
