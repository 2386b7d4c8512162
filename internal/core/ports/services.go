package ports

import (
	"context"
	"time"

	"payment-collection-broker/internal/core/domain"
)

// GatewayClient submits payment requests to the upstream hub.
// Expected failures come back as Rejected or Unavailable outcomes.
type GatewayClient interface {
	Submit(ctx context.Context, req domain.UpstreamRequest) domain.Outcome
}

// ProviderRegistry reports which providers have a configured gateway.
type ProviderRegistry interface {
	GatewayClient
	Supports(provider string) bool
}

// WebhookVerifier checks the authenticity proof attached to a webhook.
type WebhookVerifier interface {
	Verify(payload []byte, proof string) bool
}

// DownstreamNotifier forwards applied status changes to the system of record.
type DownstreamNotifier interface {
	Notify(ctx context.Context, event domain.StatusChangeEvent) error
	Name() string
}

// TokenService validates bearer tokens on the client API.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// IdempotencyCache tracks caller references across initiation attempts.
type IdempotencyCache interface {
	// Get returns the entry for key or nil when none exists.
	Get(ctx context.Context, key string) (*domain.IdempotencyEntry, error)
	// Reserve marks key in progress. It returns false if an entry already exists.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, rec *domain.TransactionRecord, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// RateLimitStore counts requests per identifier in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult describes the state of a rate limit window.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// InitiationService creates payment collections exactly once per business key.
type InitiationService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.TransactionRecord, error)
	Get(ctx context.Context, correlationID string) (*domain.TransactionRecord, error)
}

// InitiateRequest holds validated input for a payment initiation.
type InitiateRequest struct {
	PolicyRef       string
	PayerID         string
	Amount          int64
	Currency        string
	Provider        string
	Channel         string
	ProductCode     string
	CallerReference string
	Description     string
}

// BusinessKey returns the deduplication key of the request.
func (r InitiateRequest) BusinessKey() domain.BusinessKey {
	return domain.BusinessKey{PolicyRef: r.PolicyRef, PayerID: r.PayerID}
}

// ReconciliationService applies webhook notifications to stored records.
type ReconciliationService interface {
	Reconcile(ctx context.Context, req ReconcileRequest) (*domain.ReconciliationResult, error)
}

// ReconcileRequest carries a decoded notification with the bytes its proof covers.
type ReconcileRequest struct {
	Notification domain.WebhookNotification
	Payload      []byte // raw body; canonical encoding is used when empty
	Signature    string
	ClientIP     string
	// DecodeErr is set when Payload could not be decoded. It is reported
	// only after the signature verifies.
	DecodeErr error
}

// KYCClient submits new customers to the KYC provider. Expected failures
// come back as Rejected or Unavailable outcomes.
type KYCClient interface {
	Submit(ctx context.Context, req domain.KYCRequest) domain.Outcome
}

// CustomerService registers customers and applies KYC verification callbacks.
type CustomerService interface {
	Register(ctx context.Context, req RegisterCustomerRequest) (*domain.Customer, error)
	Get(ctx context.Context, guid string) (*domain.Customer, error)
	ReconcileKYC(ctx context.Context, req KYCReconcileRequest) (*domain.KYCResult, error)
}

// RegisterCustomerRequest holds validated input for a customer registration.
type RegisterCustomerRequest struct {
	FirstName           string
	Surname             string
	MSISDN              string
	DateOfBirth         time.Time
	NationalID          string
	PartnerGUID         string
	DisplayLanguage     string
	BeneficiaryMSISDN   string
	BeneficiaryName     string
	ExternalID          string
	RegistrationChannel string
	AccountNumber       string
	AccountType         string
	BranchCode          string
}

// KYCReconcileRequest carries a decoded KYC callback with the bytes its proof covers.
type KYCReconcileRequest struct {
	Notification domain.KYCNotification
	Payload      []byte
	Signature    string
	ClientIP     string
	DecodeErr    error
}
