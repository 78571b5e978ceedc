package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/invoker/internal/core/domain"
)

// MemoryStorage keeps the audit trail in process memory.
type MemoryStorage struct {
	attempts map[string][]domain.Attempt
	errors   map[string][]domain.ErrorNode
	byID     map[domain.ErrorID]domain.ErrorNode
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		attempts: make(map[string][]domain.Attempt),
		errors:   make(map[string][]domain.ErrorNode),
		byID:     make(map[domain.ErrorID]domain.ErrorNode),
	}
}

// -----------------------------------------------------------------------------
// Attempt Repository
// -----------------------------------------------------------------------------

func (s *MemoryStorage) PersistAttempt(ctx context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.attempts[a.CallID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return nil
		}
	}
	s.attempts[a.CallID] = append(list, a)
	return nil
}

func (s *MemoryStorage) ListAttempts(ctx context.Context, callID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.Attempt(nil), s.attempts[callID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// -----------------------------------------------------------------------------
// Error Repository
// -----------------------------------------------------------------------------

func (s *MemoryStorage) PersistError(ctx context.Context, n domain.ErrorNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ChildIDs = nil
	if _, ok := s.byID[n.ID]; ok {
		list := s.errors[n.CallID]
		for i := range list {
			if list[i].ID == n.ID {
				list[i] = n
			}
		}
	} else {
		s.errors[n.CallID] = append(s.errors[n.CallID], n)
	}
	s.byID[n.ID] = n
	return nil
}

func (s *MemoryStorage) ListErrors(ctx context.Context, callID string) ([]domain.ErrorNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.ErrorNode(nil), s.errors[callID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStorage) GetErrors(ctx context.Context, ids []domain.ErrorID) ([]domain.ErrorNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ErrorNode
	for _, id := range ids {
		if n, ok := s.byID[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Retention
// -----------------------------------------------------------------------------

func (s *MemoryStorage) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := make(map[string]time.Time)
	touch := func(callID string, at time.Time) {
		if at.After(newest[callID]) {
			newest[callID] = at
		}
	}
	for callID, list := range s.attempts {
		for _, a := range list {
			touch(callID, a.StartedAt)
			touch(callID, a.FinishedAt)
		}
	}
	for callID, list := range s.errors {
		for _, n := range list {
			touch(callID, n.CreatedAt)
		}
	}

	var deleted int64
	for callID, at := range newest {
		if !at.Before(before) {
			continue
		}
		deleted += int64(len(s.attempts[callID]) + len(s.errors[callID]))
		for _, n := range s.errors[callID] {
			delete(s.byID, n.ID)
		}
		delete(s.attempts, callID)
		delete(s.errors, callID)
	}
	return deleted, nil
}

func (s *MemoryStorage) Health(ctx context.Context) error { return nil }

func (s *MemoryStorage) Close() error { return nil }
