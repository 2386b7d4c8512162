package domain

import (
	"strconv"
	"time"
)

// TransactionStatus represents the lifecycle state of a payment collection.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// BusinessKey identifies one payer paying against one policy.
// At most one active transaction may exist per key.
type BusinessKey struct {
	PolicyRef string `json:"policy_ref"`
	PayerID   string `json:"payer_id"`
}

// String quotes both fields so distinct keys never render the same.
func (k BusinessKey) String() string {
	return strconv.Quote(k.PolicyRef) + "|" + strconv.Quote(k.PayerID)
}

// TransactionRecord tracks one payment from upstream acceptance to its terminal state.
type TransactionRecord struct {
	CorrelationID          string            `json:"correlation_id"`
	UpstreamID             string            `json:"upstream_id"`
	BusinessKey            BusinessKey       `json:"business_key"`
	Amount                 int64             `json:"amount"` // minor units
	Currency               string            `json:"currency"`
	Provider               string            `json:"provider"`
	Status                 TransactionStatus `json:"status"`
	CallerReference        string            `json:"caller_reference,omitempty"`
	FailureReason          *string           `json:"failure_reason,omitempty"`
	LastWebhookFingerprint *string           `json:"-"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// IsTerminal returns true once the record can no longer change status.
func (t *TransactionRecord) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed
}

// IsActive returns true if the record blocks new initiations for its business key.
func (t *TransactionRecord) IsActive() bool {
	return t.Status == TransactionStatusPending ||
		t.Status == TransactionStatusCompleted
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (t *TransactionRecord) Clone() *TransactionRecord {
	if t == nil {
		return nil
	}
	c := *t
	if t.FailureReason != nil {
		r := *t.FailureReason
		c.FailureReason = &r
	}
	if t.LastWebhookFingerprint != nil {
		f := *t.LastWebhookFingerprint
		c.LastWebhookFingerprint = &f
	}
	return &c
}
