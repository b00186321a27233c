package alerting

import (
	"context"
	"sync"

	"github.com/banking/fraud-detection/internal/domain"
)

// MemoryStore is an in-process AlertStore used in tests and when the
// service runs without its Postgres sink.
type MemoryStore struct {
	mu     sync.RWMutex
	byTxID map[string]*domain.Alert
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTxID: make(map[string]*domain.Alert)}
}

// Create implements AlertStore.
func (s *MemoryStore) Create(_ context.Context, alert *domain.Alert) (*domain.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byTxID[alert.TransactionID]; ok {
		out := *existing
		return &out, false, nil
	}

	stored := *alert
	s.byTxID[alert.TransactionID] = &stored
	out := stored
	return &out, true, nil
}

// GetByTransactionID implements AlertStore.
func (s *MemoryStore) GetByTransactionID(_ context.Context, txID string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.byTxID[txID]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	out := *alert
	return &out, nil
}

// Update implements AlertStore.
func (s *MemoryStore) Update(_ context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTxID[alert.TransactionID]; !ok {
		return domain.ErrAlertNotFound
	}
	stored := *alert
	s.byTxID[alert.TransactionID] = &stored
	return nil
}

// Len returns the number of stored alerts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTxID)
}
