package memory

import (
	"context"
	"sync"

	"payment-collection-broker/internal/core/domain"
)

// CustomerStore keeps customers and their unique-field indices under one lock.
type CustomerStore struct {
	mu           sync.RWMutex
	byGUID       map[string]*domain.Customer
	byMSISDN     map[string]string // msisdn -> guid
	byExternalID map[string]string // external id -> guid
}

func NewCustomerStore() *CustomerStore {
	return &CustomerStore{
		byGUID:       make(map[string]*domain.Customer),
		byMSISDN:     make(map[string]string),
		byExternalID: make(map[string]string),
	}
}

func (s *CustomerStore) Put(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byGUID[c.GUID]; ok {
		return domain.ErrDuplicateCustomerGUID
	}
	if _, ok := s.byMSISDN[c.MSISDN]; ok {
		return domain.ErrDuplicateMSISDN
	}
	if c.ExternalID != "" {
		if _, ok := s.byExternalID[c.ExternalID]; ok {
			return domain.ErrDuplicateExternalID
		}
		s.byExternalID[c.ExternalID] = c.GUID
	}

	s.byGUID[c.GUID] = c.Clone()
	s.byMSISDN[c.MSISDN] = c.GUID
	return nil
}

func (s *CustomerStore) Get(_ context.Context, guid string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byGUID[guid].Clone(), nil
}

func (s *CustomerStore) FindByMSISDN(_ context.Context, msisdn string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byMSISDN, msisdn), nil
}

func (s *CustomerStore) FindByExternalID(_ context.Context, externalID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byExternalID, externalID), nil
}

// CompareAndSwap writes the verification fields of c when the stored KYC
// fingerprint equals expected.
func (s *CustomerStore) CompareAndSwap(_ context.Context, c *domain.Customer, expected *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byGUID[c.GUID]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	if !sameFingerprint(stored.LastKYCFingerprint, expected) {
		return domain.ErrStaleRecord
	}

	in := c.Clone()
	next := stored.Clone()
	next.Status = in.Status
	next.KYCDetails = in.KYCDetails
	next.RejectionReason = in.RejectionReason
	next.VerifiedAt = in.VerifiedAt
	next.LastKYCFingerprint = in.LastKYCFingerprint
	next.UpdatedAt = in.UpdatedAt
	s.byGUID[next.GUID] = next
	return nil
}

func (s *CustomerStore) lookup(index map[string]string, key string) *domain.Customer {
	guid, ok := index[key]
	if !ok {
		return nil
	}
	return s.byGUID[guid].Clone()
}
