package payout

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. For tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, rec *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.RequestID]; ok {
		return existing.Clone(), false, nil
	}

	s.records[rec.RequestID] = rec.Clone()

	return rec.Clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[requestID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	return rec.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.RequestID]
	if !ok {
		return ErrRecordNotFound
	}
	if existing.Status.Terminal() {
		return ErrRecordFinalized
	}

	s.records[rec.RequestID] = rec.Clone()

	return nil
}

func (s *MemoryStore) Release(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[requestID]
	if !ok {
		return ErrRecordNotFound
	}
	if existing.Status != StatusPending || len(existing.TxHashes) > 0 {
		return ErrRecordFinalized
	}

	delete(s.records, requestID)

	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	out := make([]*Record, 0)
	for _, rec := range s.records {
		if want[rec.Status] {
			out = append(out, rec.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}
