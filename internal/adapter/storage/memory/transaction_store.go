// Package memory provides an in-process Transaction Store.
package memory

import (
	"context"
	"sync"

	"payment-collection-broker/internal/core/domain"
)

// TransactionStore keeps records in maps guarded by a single RWMutex, so each
// operation is atomic with respect to the others. Records never leave the
// store by reference.
type TransactionStore struct {
	mu         sync.RWMutex
	byID       map[string]*domain.TransactionRecord
	byUpstream map[string]string // upstream id -> correlation id
	active     map[domain.BusinessKey]string
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byID:       make(map[string]*domain.TransactionRecord),
		byUpstream: make(map[string]string),
		active:     make(map[domain.BusinessKey]string),
	}
}

func (s *TransactionStore) Put(_ context.Context, rec *domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.CorrelationID]; ok {
		return domain.ErrDuplicateCorrelationID
	}
	if _, ok := s.byUpstream[rec.UpstreamID]; ok {
		return domain.ErrDuplicateUpstreamID
	}
	key := rec.BusinessKey
	if rec.IsActive() {
		if _, ok := s.active[key]; ok {
			return domain.ErrActiveTransactionExists
		}
		s.active[key] = rec.CorrelationID
	}

	s.byID[rec.CorrelationID] = rec.Clone()
	s.byUpstream[rec.UpstreamID] = rec.CorrelationID
	return nil
}

func (s *TransactionStore) Get(_ context.Context, correlationID string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[correlationID].Clone(), nil
}

func (s *TransactionStore) FindByUpstreamID(_ context.Context, upstreamID string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUpstream[upstreamID]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *TransactionStore) FindActiveByBusinessKey(_ context.Context, key domain.BusinessKey) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[key]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

// CompareAndSwap writes the mutable fields of rec (status, fingerprint,
// failure reason, updated_at) when the stored fingerprint equals expected.
func (s *TransactionStore) CompareAndSwap(_ context.Context, rec *domain.TransactionRecord, expected *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[rec.CorrelationID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if !sameFingerprint(stored.LastWebhookFingerprint, expected) {
		return domain.ErrStaleRecord
	}

	next := stored.Clone()
	next.Status = rec.Status
	next.LastWebhookFingerprint = rec.Clone().LastWebhookFingerprint
	next.FailureReason = rec.Clone().FailureReason
	next.UpdatedAt = rec.UpdatedAt

	key := next.BusinessKey
	if stored.IsActive() && !next.IsActive() && s.active[key] == next.CorrelationID {
		delete(s.active, key)
	}
	s.byID[next.CorrelationID] = next
	return nil
}

// Len reports the number of stored records.
func (s *TransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func sameFingerprint(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
