package ports

import (
	"context"

	"payment-collection-broker/internal/core/domain"
)

// TransactionStore is the source of truth for transaction records.
// Lookups return nil, nil when nothing matches. Returned records are copies.
type TransactionStore interface {
	// Put inserts a new record. It fails with domain.ErrActiveTransactionExists
	// when the business key already has an active record.
	Put(ctx context.Context, rec *domain.TransactionRecord) error
	Get(ctx context.Context, correlationID string) (*domain.TransactionRecord, error)
	FindByUpstreamID(ctx context.Context, upstreamID string) (*domain.TransactionRecord, error)
	FindActiveByBusinessKey(ctx context.Context, key domain.BusinessKey) (*domain.TransactionRecord, error)
	// CompareAndSwap persists the mutable fields of rec only if the stored
	// fingerprint still equals expectedFingerprint, else domain.ErrStaleRecord.
	CompareAndSwap(ctx context.Context, rec *domain.TransactionRecord, expectedFingerprint *string) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// CustomerStore holds registered customers. Lookups return nil, nil when
// nothing matches. Returned customers are copies.
type CustomerStore interface {
	// Put inserts a new customer. It fails with domain.ErrDuplicateMSISDN or
	// domain.ErrDuplicateExternalID when a unique field is already taken.
	Put(ctx context.Context, c *domain.Customer) error
	Get(ctx context.Context, guid string) (*domain.Customer, error)
	FindByMSISDN(ctx context.Context, msisdn string) (*domain.Customer, error)
	FindByExternalID(ctx context.Context, externalID string) (*domain.Customer, error)
	// CompareAndSwap persists the verification fields of c only if the stored
	// KYC fingerprint still equals expectedFingerprint, else domain.ErrStaleRecord.
	CompareAndSwap(ctx context.Context, c *domain.Customer, expectedFingerprint *string) error
}
