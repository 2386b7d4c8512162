package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError independently of its transport mapping.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindDuplicateActive   Kind = "DUPLICATE_ACTIVE_TRANSACTION"
	KindNotFound          Kind = "TRANSACTION_NOT_FOUND"
	KindCustomerExists    Kind = "CUSTOMER_EXISTS"
	KindCustomerNotFound  Kind = "CUSTOMER_NOT_FOUND"
	KindUpstreamRejected  Kind = "UPSTREAM_REJECTED"
	KindUpstreamDown      Kind = "UPSTREAM_UNAVAILABLE"
	KindUpstreamExhausted Kind = "UPSTREAM_EXHAUSTED"
	KindInvalidSignature  Kind = "INVALID_SIGNATURE"
	KindTerminalConflict  Kind = "CONFLICTING_TERMINAL_UPDATE"
	KindInProgress        Kind = "REQUEST_IN_PROGRESS"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindCancelled         Kind = "REQUEST_CANCELLED"
	KindInternal          Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Kind       Kind           `json:"-"`
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a client-visible detail and returns the same error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(kind Kind, code string, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(kind Kind, code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// KindOf returns the Kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ---- Security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New(KindInvalidSignature, "SEC_002", "Invalid signature", http.StatusUnauthorized)
}

// ---- Payment Lifecycle (PAY) ----

// Validation returns a PAY_002 validation error.
func Validation(message string) *AppError {
	return New(KindValidation, "PAY_002", message, http.StatusBadRequest)
}

func ErrDuplicateActiveTransaction(existingID, status string) *AppError {
	return New(KindDuplicateActive, "PAY_003", "An active transaction already exists for this policy and payer", http.StatusConflict).
		WithDetail("existing_transaction_id", existingID).
		WithDetail("status", status)
}

func ErrTransactionNotFound(ref string) *AppError {
	return New(KindNotFound, "PAY_004", "Transaction not found", http.StatusNotFound).
		WithDetail("reference", ref)
}

func ErrUpstreamRejected(reason string) *AppError {
	return New(KindUpstreamRejected, "PAY_005", "Payment rejected by upstream gateway", http.StatusUnprocessableEntity).
		WithDetail("reason", reason)
}

func ErrConflictingTerminalUpdate(correlationID, status string) *AppError {
	return New(KindTerminalConflict, "PAY_006", "Transaction already reached a terminal state", http.StatusConflict).
		WithDetail("transaction_id", correlationID).
		WithDetail("status", status)
}

func ErrRequestInProgress() *AppError {
	return New(KindInProgress, "PAY_007", "A request with this reference is already in progress", http.StatusConflict)
}

// ---- Customers (CUS) ----

// ErrCustomerExists reports the customer already holding a unique field.
func ErrCustomerExists(customerGUID, field string) *AppError {
	return New(KindCustomerExists, "CUS_001", "A customer with this "+field+" is already registered", http.StatusConflict).
		WithDetail("customer_guid", customerGUID).
		WithDetail("field", field)
}

func ErrCustomerNotFound(guid string) *AppError {
	return New(KindCustomerNotFound, "CUS_002", "Customer not found", http.StatusNotFound).
		WithDetail("customer_guid", guid)
}

func ErrConflictingKYCUpdate(customerGUID string, status string) *AppError {
	return New(KindTerminalConflict, "CUS_003", "Customer verification already concluded", http.StatusConflict).
		WithDetail("customer_guid", customerGUID).
		WithDetail("status", status)
}

// ---- Upstream (UPS) ----

func ErrUpstreamUnavailable(reason string) *AppError {
	return New(KindUpstreamDown, "UPS_001", "Upstream gateway unavailable", http.StatusServiceUnavailable).
		WithDetail("reason", reason)
}

func ErrUpstreamExhausted(attempts int, reason string) *AppError {
	return New(KindUpstreamExhausted, "UPS_002", "Upstream gateway unavailable after retries", http.StatusServiceUnavailable).
		WithDetail("attempts", attempts).
		WithDetail("reason", reason)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(KindUnauthorized, "AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(KindRateLimited, "RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(KindInternal, "SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap(KindCancelled, "SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrRequestCancelled(err error) *AppError {
	return Wrap(KindCancelled, "SYS_004", "Request cancelled before completion", http.StatusServiceUnavailable, err)
}
