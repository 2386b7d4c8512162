package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventTypeStatusChanged is the only webhook event the hub emits for payments.
const EventTypeStatusChanged = "payment.status.changed"

// NotificationStatus is the upstream's view of a payment in a webhook.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationCompleted NotificationStatus = "completed"
	NotificationFailed    NotificationStatus = "failed"
)

// IsValid reports whether s is a status the hub can send.
func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationPending, NotificationCompleted, NotificationFailed:
		return true
	}
	return false
}

// WebhookNotification is an inbound status callback from the payment hub.
type WebhookNotification struct {
	UpstreamID    string             `json:"transaction_id"`
	Status        NotificationStatus `json:"status"`
	Amount        int64              `json:"amount"`
	Currency      string             `json:"currency"`
	Timestamp     time.Time          `json:"timestamp"`
	EventType     string             `json:"event_type"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Provider      string             `json:"provider,omitempty"`
}

// Fingerprint is a deterministic digest of the fields that make two
// notifications the same event. FailureReason and Provider are descriptive
// and excluded.
func (n WebhookNotification) Fingerprint() string {
	parts := []string{
		n.UpstreamID,
		string(n.Status),
		strconv.FormatInt(n.Amount, 10),
		n.Currency,
		n.Timestamp.UTC().Format(time.RFC3339Nano),
		n.EventType,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CanonicalPayload is the byte form signed by the hub when no raw body is available.
func (n WebhookNotification) CanonicalPayload() []byte {
	b, _ := json.Marshal(n)
	return b
}

// TargetStatus maps a notification status onto the record state machine.
// A pending notification leaves the record status unchanged.
func (n WebhookNotification) TargetStatus(current TransactionStatus) TransactionStatus {
	switch n.Status {
	case NotificationCompleted:
		return TransactionStatusCompleted
	case NotificationFailed:
		return TransactionStatusFailed
	default:
		return current
	}
}

// ReconciliationResult is returned to the hub after a webhook is processed.
type ReconciliationResult struct {
	Received      bool              `json:"received"`
	Applied       bool              `json:"applied"`
	CorrelationID string            `json:"correlation_id"`
	Status        TransactionStatus `json:"status"`
	ProcessedAt   time.Time         `json:"processed_at"`
}

// StatusChangeEvent is forwarded to the downstream system of record after a
// verified status change is applied.
type StatusChangeEvent struct {
	CorrelationID string            `json:"correlation_id"`
	UpstreamID    string            `json:"upstream_id"`
	Status        TransactionStatus `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Provider      string            `json:"provider"`
	PayerID       string            `json:"payer_id"`
	PolicyRef     string            `json:"policy_ref"`
	FailureReason *string           `json:"failure_reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewStatusChangeEvent builds the downstream event for rec.
func NewStatusChangeEvent(rec *TransactionRecord) StatusChangeEvent {
	return StatusChangeEvent{
		CorrelationID: rec.CorrelationID,
		UpstreamID:    rec.UpstreamID,
		Status:        rec.Status,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Provider:      rec.Provider,
		PayerID:       rec.BusinessKey.PayerID,
		PolicyRef:     rec.BusinessKey.PolicyRef,
		FailureReason: rec.FailureReason,
		Timestamp:     rec.UpdatedAt,
	}
}
