// Package idempotency replays previously saved responses for repeated
// mutating requests carrying the same Idempotency-Key header.
package idempotency

import (
	"context"
	"sync"
)

type Caller struct {
	ParticipantID  string
	IdempotencyKey string
}

type Store interface {
	GetRecord(ctx context.Context, participantID, idempotencyKey, endpoint string) (int, map[string]any, bool, error)
	SaveRecord(ctx context.Context, participantID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error
}

func Replay(ctx context.Context, st Store, caller Caller, endpoint string) (int, map[string]any, bool, error) {
	if caller.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetRecord(ctx, caller.ParticipantID, caller.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

func Save(ctx context.Context, st Store, caller Caller, endpoint string, status int, response map[string]any) error {
	if caller.IdempotencyKey == "" {
		return nil
	}
	return st.SaveRecord(ctx, caller.ParticipantID, caller.IdempotencyKey, endpoint, status, response)
}

// MemoryStore keeps records in process. Good enough for a single
// instance; multi-instance deployments should back this with a table.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]record
}

type record struct {
	status int
	body   map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]record{}}
}

func key(participantID, idempotencyKey, endpoint string) string {
	return participantID + "\x00" + idempotencyKey + "\x00" + endpoint
}

func (m *MemoryStore) GetRecord(_ context.Context, participantID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key(participantID, idempotencyKey, endpoint)]
	if !ok {
		return 0, nil, false, nil
	}
	return r.status, r.body, true, nil
}

func (m *MemoryStore) SaveRecord(_ context.Context, participantID, idempotencyKey, endpoint string, status int, body map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(participantID, idempotencyKey, endpoint)
	if _, ok := m.records[k]; !ok {
		m.records[k] = record{status: status, body: body}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
