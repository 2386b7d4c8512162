package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-collection-broker/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const selectColumns = `SELECT correlation_id, upstream_id, policy_ref, payer_id, amount, currency,
		provider, status, caller_reference, failure_reason, last_webhook_fingerprint, created_at, updated_at
		FROM payment_transactions`

// TransactionStore implements ports.TransactionStore on PostgreSQL. The
// partial unique index on the business key enforces one active record per key
// across instances.
type TransactionStore struct {
	pool Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Put inserts a new record.
func (s *TransactionStore) Put(ctx context.Context, rec *domain.TransactionRecord) error {
	query := `INSERT INTO payment_transactions (correlation_id, upstream_id, policy_ref, payer_id, amount, currency,
		provider, status, caller_reference, failure_reason, last_webhook_fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		rec.CorrelationID, rec.UpstreamID, rec.BusinessKey.PolicyRef, rec.BusinessKey.PayerID,
		rec.Amount, rec.Currency, rec.Provider, rec.Status,
		nullString(rec.CallerReference), rec.FailureReason, rec.LastWebhookFingerprint,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case constraintActiveKey:
				return domain.ErrActiveTransactionExists
			case constraintUpstreamID:
				return domain.ErrDuplicateUpstreamID
			case constraintPrimaryKey:
				return domain.ErrDuplicateCorrelationID
			}
		}
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

// Get fetches a record by correlation id.
func (s *TransactionStore) Get(ctx context.Context, correlationID string) (*domain.TransactionRecord, error) {
	return s.scanRecord(s.pool.QueryRow(ctx, selectColumns+` WHERE correlation_id = $1`, correlationID))
}

// FindByUpstreamID fetches a record by the hub's transaction id.
func (s *TransactionStore) FindByUpstreamID(ctx context.Context, upstreamID string) (*domain.TransactionRecord, error) {
	return s.scanRecord(s.pool.QueryRow(ctx, selectColumns+` WHERE upstream_id = $1`, upstreamID))
}

// FindActiveByBusinessKey fetches the PENDING or COMPLETED record for key.
func (s *TransactionStore) FindActiveByBusinessKey(ctx context.Context, key domain.BusinessKey) (*domain.TransactionRecord, error) {
	query := selectColumns + ` WHERE policy_ref = $1 AND payer_id = $2 AND status IN ('PENDING', 'COMPLETED')`
	return s.scanRecord(s.pool.QueryRow(ctx, query, key.PolicyRef, key.PayerID))
}

// CompareAndSwap updates the mutable columns when the stored fingerprint
// still equals expected.
func (s *TransactionStore) CompareAndSwap(ctx context.Context, rec *domain.TransactionRecord, expected *string) error {
	query := `UPDATE payment_transactions
		SET status = $1, last_webhook_fingerprint = $2, failure_reason = $3, updated_at = $4
		WHERE correlation_id = $5 AND last_webhook_fingerprint IS NOT DISTINCT FROM $6`

	tag, err := s.pool.Exec(ctx, query,
		rec.Status, rec.LastWebhookFingerprint, rec.FailureReason, rec.UpdatedAt,
		rec.CorrelationID, expected,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraintActiveKey {
			return domain.ErrActiveTransactionExists
		}
		return fmt.Errorf("update payment transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_transactions WHERE correlation_id = $1)`,
		rec.CorrelationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check payment transaction: %w", err)
	}
	if !exists {
		return domain.ErrTransactionNotFound
	}
	return domain.ErrStaleRecord
}

// scanRecord scans a single row. Absence is reported as nil, nil.
func (s *TransactionStore) scanRecord(row pgx.Row) (*domain.TransactionRecord, error) {
	rec := &domain.TransactionRecord{}
	var callerRef *string
	err := row.Scan(
		&rec.CorrelationID, &rec.UpstreamID, &rec.BusinessKey.PolicyRef, &rec.BusinessKey.PayerID,
		&rec.Amount, &rec.Currency, &rec.Provider, &rec.Status,
		&callerRef, &rec.FailureReason, &rec.LastWebhookFingerprint,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment transaction: %w", err)
	}
	if callerRef != nil {
		rec.CallerReference = *callerRef
	}
	return rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
