package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"wagerlane/pkg/domain"
)

// Memory is an in-process Store used by tests and local runs without
// Postgres. All methods are safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	challenges map[string]domain.Challenge
	proofs     map[string][]domain.ProofSubmission
	votes      map[string]map[domain.ParticipantID]domain.Vote
	decisions  map[string]map[domain.DecisionKind]domain.SettlementDecision
	disputes   map[string]domain.DisputeRecord
	events     map[string][]Event
}

func NewMemory() *Memory {
	return &Memory{
		challenges: map[string]domain.Challenge{},
		proofs:     map[string][]domain.ProofSubmission{},
		votes:      map[string]map[domain.ParticipantID]domain.Vote{},
		decisions:  map[string]map[domain.DecisionKind]domain.SettlementDecision{},
		disputes:   map[string]domain.DisputeRecord{},
		events:     map[string][]Event{},
	}
}

func (m *Memory) CreateChallenge(_ context.Context, c domain.Challenge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[c.ChallengeID]; ok {
		return false, nil
	}
	m.challenges[c.ChallengeID] = c
	return true, nil
}

func (m *Memory) GetChallenge(_ context.Context, challengeID string) (domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[challengeID]
	if !ok {
		return domain.Challenge{}, domain.ErrUnknownChallenge
	}
	return c, nil
}

func (m *Memory) SetChallengeStatus(_ context.Context, challengeID string, status domain.ChallengeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok {
		return domain.ErrUnknownChallenge
	}
	c.Status = status
	m.challenges[challengeID] = c
	return nil
}

func (m *Memory) ListDueChallenges(_ context.Context, now time.Time, limit int) ([]domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Challenge
	for _, c := range m.challenges {
		if !c.Status.Terminal() && !c.DueAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AddProof(_ context.Context, p domain.ProofSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs[p.ChallengeID] = append(m.proofs[p.ChallengeID], p)
	return nil
}

func (m *Memory) ListProofs(_ context.Context, challengeID string) ([]domain.ProofSubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.ProofSubmission(nil), m.proofs[challengeID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *Memory) AddVote(_ context.Context, v domain.Vote) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVoter, ok := m.votes[v.ChallengeID]
	if !ok {
		byVoter = map[domain.ParticipantID]domain.Vote{}
		m.votes[v.ChallengeID] = byVoter
	}
	if _, ok := byVoter[v.VoterID]; ok {
		return false, nil
	}
	byVoter[v.VoterID] = v
	return true, nil
}

func (m *Memory) ListVotes(_ context.Context, challengeID string) ([]domain.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Vote
	for _, v := range m.votes[challengeID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		return out[i].VoterID < out[j].VoterID
	})
	return out, nil
}

func (m *Memory) RecordDecision(_ context.Context, d domain.SettlementDecision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKind, ok := m.decisions[d.ChallengeID]
	if !ok {
		byKind = map[domain.DecisionKind]domain.SettlementDecision{}
		m.decisions[d.ChallengeID] = byKind
	}
	if _, ok := byKind[d.Kind]; ok {
		return false, nil
	}
	byKind[d.Kind] = d
	return true, nil
}

func (m *Memory) GetDecision(_ context.Context, challengeID string, kind domain.DecisionKind) (domain.SettlementDecision, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[challengeID][kind]
	return d, ok, nil
}

func (m *Memory) OpenDispute(_ context.Context, d domain.DisputeRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.ChallengeID]; ok {
		return false, nil
	}
	m.disputes[d.ChallengeID] = d
	return true, nil
}

func (m *Memory) GetDispute(_ context.Context, challengeID string) (domain.DisputeRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[challengeID]
	return d, ok, nil
}

func (m *Memory) AddEvent(_ context.Context, challengeID, eventType string, actorID *string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[challengeID] = append(m.events[challengeID], Event{
		Type:       eventType,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) ListEvents(_ context.Context, challengeID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events[challengeID]...), nil
}

var _ Store = (*Memory)(nil)
