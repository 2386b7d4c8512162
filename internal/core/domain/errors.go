package domain

import "errors"

// Store-level sentinel errors. Services translate them into apperror values.
var (
	ErrActiveTransactionExists = errors.New("active transaction already exists for business key")
	ErrDuplicateUpstreamID     = errors.New("upstream id already recorded")
	ErrDuplicateCorrelationID  = errors.New("correlation id already recorded")
	ErrStaleRecord             = errors.New("record changed since it was read")
	ErrTransactionNotFound     = errors.New("transaction not found")

	ErrDuplicateCustomerGUID = errors.New("customer guid already recorded")
	ErrDuplicateMSISDN       = errors.New("msisdn already registered")
	ErrDuplicateExternalID   = errors.New("external identifier already registered")
	ErrCustomerNotFound      = errors.New("customer not found")
)
