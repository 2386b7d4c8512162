package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPaymentInitiated   AuditAction = "PAYMENT_INITIATED"
	AuditActionWebhookApplied     AuditAction = "WEBHOOK_APPLIED"
	AuditActionWebhookReplay      AuditAction = "WEBHOOK_REPLAY"
	AuditActionWebhookConflict    AuditAction = "WEBHOOK_CONFLICT"
	AuditActionInvalidSignature   AuditAction = "WEBHOOK_INVALID_SIGNATURE"
	AuditActionDownstreamDelivery AuditAction = "DOWNSTREAM_DELIVERED"
	AuditActionDownstreamFailed   AuditAction = "DOWNSTREAM_FAILED"
	AuditActionCustomerRegistered AuditAction = "CUSTOMER_REGISTERED"
	AuditActionKYCApplied         AuditAction = "KYC_APPLIED"
	AuditActionKYCReplay          AuditAction = "KYC_REPLAY"
	AuditActionKYCConflict        AuditAction = "KYC_CONFLICT"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID            uuid.UUID      `json:"id"`
	Action        AuditAction    `json:"action"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	UpstreamID    string         `json:"upstream_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
