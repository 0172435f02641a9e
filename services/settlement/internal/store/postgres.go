package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"wagerlane/pkg/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct{ DB *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{DB: db} }

// EnsureSchema applies the idempotent DDL. Safe to run on every boot.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schemaSQL)
	return err
}

func (s *Postgres) CreateChallenge(ctx context.Context, c domain.Challenge) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO challenges(challenge_id,challenger_id,challenged_id,stake,due_at,status,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (challenge_id) DO NOTHING
`, c.ChallengeID, string(c.Challenger), string(c.Challenged), c.Stake, c.DueAt, string(c.Status), c.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	var c domain.Challenge
	var challenger, challenged, status string
	err := s.DB.QueryRow(ctx, `
SELECT challenge_id,challenger_id,challenged_id,stake,due_at,status,created_at
FROM challenges WHERE challenge_id=$1
`, challengeID).Scan(&c.ChallengeID, &challenger, &challenged, &c.Stake, &c.DueAt, &status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Challenge{}, domain.ErrUnknownChallenge
	}
	if err != nil {
		return domain.Challenge{}, err
	}
	c.Challenger = domain.ParticipantID(challenger)
	c.Challenged = domain.ParticipantID(challenged)
	c.Status = domain.ChallengeStatus(status)
	return c, nil
}

func (s *Postgres) SetChallengeStatus(ctx context.Context, challengeID string, status domain.ChallengeStatus) error {
	tag, err := s.DB.Exec(ctx, `UPDATE challenges SET status=$1 WHERE challenge_id=$2`, string(status), challengeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnknownChallenge
	}
	return nil
}

func (s *Postgres) ListDueChallenges(ctx context.Context, now time.Time, limit int) ([]domain.Challenge, error) {
	rows, err := s.DB.Query(ctx, `
SELECT challenge_id,challenger_id,challenged_id,stake,due_at,status,created_at
FROM challenges
WHERE due_at <= $1 AND status IN ('AWAITING_PROOFS','AWAITING_VOTES')
ORDER BY due_at ASC
LIMIT $2
`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		var challenger, challenged, status string
		if err := rows.Scan(&c.ChallengeID, &challenger, &challenged, &c.Stake, &c.DueAt, &status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Challenger = domain.ParticipantID(challenger)
		c.Challenged = domain.ParticipantID(challenged)
		c.Status = domain.ChallengeStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) AddProof(ctx context.Context, p domain.ProofSubmission) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO proof_submissions(proof_id,challenge_id,submitter_id,content_uri,content_hash,submitted_at)
VALUES($1,$2,$3,$4,$5,$6)
`, p.ProofID, p.ChallengeID, string(p.SubmitterID), p.ContentURI, p.ContentHash, p.SubmittedAt)
	return err
}

func (s *Postgres) ListProofs(ctx context.Context, challengeID string) ([]domain.ProofSubmission, error) {
	rows, err := s.DB.Query(ctx, `
SELECT proof_id,challenge_id,submitter_id,content_uri,content_hash,submitted_at
FROM proof_submissions WHERE challenge_id=$1 ORDER BY submitted_at ASC, proof_id ASC
`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ProofSubmission
	for rows.Next() {
		var p domain.ProofSubmission
		var submitter string
		if err := rows.Scan(&p.ProofID, &p.ChallengeID, &submitter, &p.ContentURI, &p.ContentHash, &p.SubmittedAt); err != nil {
			return nil, err
		}
		p.SubmitterID = domain.ParticipantID(submitter)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) AddVote(ctx context.Context, v domain.Vote) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO votes(challenge_id,voter_id,choice,referenced_proof_hash,cast_at)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (challenge_id,voter_id) DO NOTHING
`, v.ChallengeID, string(v.VoterID), string(v.Choice), v.ReferencedProofHash, v.CastAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) ListVotes(ctx context.Context, challengeID string) ([]domain.Vote, error) {
	rows, err := s.DB.Query(ctx, `
SELECT challenge_id,voter_id,choice,referenced_proof_hash,cast_at
FROM votes WHERE challenge_id=$1 ORDER BY cast_at ASC, voter_id ASC
`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var voter, choice string
		if err := rows.Scan(&v.ChallengeID, &voter, &choice, &v.ReferencedProofHash, &v.CastAt); err != nil {
			return nil, err
		}
		v.VoterID = domain.ParticipantID(voter)
		v.Choice = domain.Choice(choice)
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecordDecision serializes writers for the same challenge with an
// advisory lock so exactly one terminal decision lands under races.
func (s *Postgres) RecordDecision(ctx context.Context, d domain.SettlementDecision) (bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('decision:' || $1))`, d.ChallengeID); err != nil {
		return false, err
	}

	evidence, err := json.Marshal(d.Evidence)
	if err != nil {
		return false, err
	}
	var winner *string
	if d.WinnerID != nil {
		w := string(*d.WinnerID)
		winner = &w
	}
	tag, err := tx.Exec(ctx, `
INSERT INTO settlement_decisions(challenge_id,kind,outcome,winner_id,split,reason,evidence,decided_at)
VALUES($1,$2,$3,$4,$5,NULLIF($6,''),$7::jsonb,$8)
ON CONFLICT (challenge_id,kind) DO NOTHING
`, d.ChallengeID, string(d.Kind), string(d.Outcome), winner, d.Split, string(d.Reason), string(evidence), d.DecidedAt)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) GetDecision(ctx context.Context, challengeID string, kind domain.DecisionKind) (domain.SettlementDecision, bool, error) {
	var d domain.SettlementDecision
	var kindStr, outcome string
	var winner, reason *string
	var evidence []byte
	err := s.DB.QueryRow(ctx, `
SELECT challenge_id,kind,outcome,winner_id,split,reason,evidence,decided_at
FROM settlement_decisions WHERE challenge_id=$1 AND kind=$2
`, challengeID, string(kind)).Scan(&d.ChallengeID, &kindStr, &outcome, &winner, &d.Split, &reason, &evidence, &d.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementDecision{}, false, nil
	}
	if err != nil {
		return domain.SettlementDecision{}, false, err
	}
	d.Kind = domain.DecisionKind(kindStr)
	d.Outcome = domain.Outcome(outcome)
	if winner != nil {
		w := domain.ParticipantID(*winner)
		d.WinnerID = &w
	}
	if reason != nil {
		d.Reason = domain.DisputeReason(*reason)
	}
	_ = json.Unmarshal(evidence, &d.Evidence)
	return d, true, nil
}

func (s *Postgres) OpenDispute(ctx context.Context, d domain.DisputeRecord) (bool, error) {
	var opener *string
	if d.OpenedBy != nil {
		o := string(*d.OpenedBy)
		opener = &o
	}
	tag, err := s.DB.Exec(ctx, `
INSERT INTO disputes(dispute_id,challenge_id,reason,opened_by,opened_at)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (challenge_id) DO NOTHING
`, d.DisputeID, d.ChallengeID, string(d.Reason), opener, d.OpenedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) GetDispute(ctx context.Context, challengeID string) (domain.DisputeRecord, bool, error) {
	var d domain.DisputeRecord
	var reason string
	var opener *string
	err := s.DB.QueryRow(ctx, `
SELECT dispute_id,challenge_id,reason,opened_by,opened_at
FROM disputes WHERE challenge_id=$1
`, challengeID).Scan(&d.DisputeID, &d.ChallengeID, &reason, &opener, &d.OpenedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DisputeRecord{}, false, nil
	}
	if err != nil {
		return domain.DisputeRecord{}, false, err
	}
	d.Reason = domain.DisputeReason(reason)
	if opener != nil {
		o := domain.ParticipantID(*opener)
		d.OpenedBy = &o
	}
	return d, true, nil
}

func (s *Postgres) AddEvent(ctx context.Context, challengeID, eventType string, actorID *string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	_, err := s.DB.Exec(ctx, `
INSERT INTO challenge_events(challenge_id,type,actor_id,payload)
VALUES($1,$2,$3,$4::jsonb)
`, challengeID, eventType, actorID, string(b))
	return err
}

func (s *Postgres) ListEvents(ctx context.Context, challengeID string) ([]Event, error) {
	rows, err := s.DB.Query(ctx, `
SELECT type,actor_id,payload,occurred_at
FROM challenge_events WHERE challenge_id=$1 ORDER BY occurred_at ASC, event_id ASC
`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.Type, &e.ActorID, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*Postgres)(nil)
