package dto

import (
	"time"

	"payment-collection-broker/internal/core/domain"
)

// InitiatePaymentRequest is the request body for POST /api/v1/payments/initiate.
type InitiatePaymentRequest struct {
	PolicyCode     string  `json:"policy_code" binding:"required,max=64,safe_id"`
	MSISDN         string  `json:"msisdn" binding:"required,msisdn"`
	AmountInCents  int64   `json:"amount_in_cents" binding:"required,gt=0"`
	Currency       string  `json:"currency" binding:"required,len=3,alpha"`
	Provider       string  `json:"provider" binding:"required,max=32,alphanum"`
	Channel        string  `json:"channel,omitempty" binding:"omitempty,oneof=APIClient WebPortal MobileApp AgentPortal"`
	ProductCode    string  `json:"product_code,omitempty" binding:"omitempty,max=64,safe_id"`
	AspinReference string  `json:"aspin_reference,omitempty" binding:"omitempty,max=100,safe_id"`
	Description    *string `json:"description,omitempty" binding:"omitempty,max=255"`
}

// InitiatePaymentResponse is returned once the hub accepted the payment.
type InitiatePaymentResponse struct {
	CorrelationID string `json:"correlation_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Provider      string `json:"provider"`
	Timestamp     string `json:"timestamp"`
	Message       string `json:"message"`
}

// WebhookRequest is the hub's status callback. Field checks happen after the
// signature is verified, so there are no binding rules here.
type WebhookRequest struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Provider      string    `json:"provider,omitempty"`
}

// ToNotification converts the request to its domain form.
func (r WebhookRequest) ToNotification() domain.WebhookNotification {
	return domain.WebhookNotification{
		UpstreamID:    r.TransactionID,
		Status:        domain.NotificationStatus(r.Status),
		Amount:        r.Amount,
		Currency:      r.Currency,
		Timestamp:     r.Timestamp,
		EventType:     r.EventType,
		FailureReason: r.FailureReason,
		Provider:      r.Provider,
	}
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received      bool   `json:"received"`
	Applied       bool   `json:"applied"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	ProcessedAt   string `json:"processed_at"`
}

// TransactionResponse is the current view of a stored record.
type TransactionResponse struct {
	CorrelationID  string  `json:"correlation_id"`
	TransactionID  string  `json:"transaction_id"`
	PolicyCode     string  `json:"policy_code"`
	MSISDN         string  `json:"msisdn"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	Provider       string  `json:"provider"`
	Status         string  `json:"status"`
	AspinReference string  `json:"aspin_reference,omitempty"`
	FailureReason  *string `json:"failure_reason,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// NewTransactionResponse converts a record to its API view.
func NewTransactionResponse(rec *domain.TransactionRecord) TransactionResponse {
	return TransactionResponse{
		CorrelationID:  rec.CorrelationID,
		TransactionID:  rec.UpstreamID,
		PolicyCode:     rec.BusinessKey.PolicyRef,
		MSISDN:         rec.BusinessKey.PayerID,
		Amount:         rec.Amount,
		Currency:       rec.Currency,
		Provider:       rec.Provider,
		Status:         string(rec.Status),
		AspinReference: rec.CallerReference,
		FailureReason:  rec.FailureReason,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
