package storage

import (
	"context"
	"fmt"
	"sync"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
)

// MemoryHistoryStore is an in-process HistoryStore with the same uniqueness
// and validation rules as the Postgres store. Used by tests and demo runs
// without a database.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records map[string]model.TransactionHistoryRecord
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{records: make(map[string]model.TransactionHistoryRecord)}
}

var _ repository.HistoryStore = (*MemoryHistoryStore)(nil)

func (s *MemoryHistoryStore) Insert(ctx context.Context, rec *model.TransactionHistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistenceFailure, err)
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.TransactionID]; exists {
		return fmt.Errorf("%w: transaction_id %s", model.ErrDuplicateTransaction, rec.TransactionID)
	}
	cp := *rec
	if rec.Decision != nil {
		d := *rec.Decision
		cp.Decision = &d
	}
	s.records[rec.TransactionID] = cp
	return nil
}

func (s *MemoryHistoryStore) Get(_ context.Context, transactionID string) (*model.TransactionHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[transactionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryHistoryStore) Health(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *MemoryHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
