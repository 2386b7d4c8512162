package domain

import "strconv"

// IdempotencyState tracks a caller reference through one initiation.
type IdempotencyState string

const (
	IdempotencyInProgress IdempotencyState = "in_progress"
	IdempotencyCompleted  IdempotencyState = "completed"
)

// IdempotencyEntry is the cached state for a caller reference.
type IdempotencyEntry struct {
	State  IdempotencyState   `json:"state"`
	Record *TransactionRecord `json:"record,omitempty"`
}

// BuildIdempotencyKey scopes a caller reference to its business key.
func BuildIdempotencyKey(key BusinessKey, callerRef string) string {
	return key.String() + ":" + strconv.Quote(callerRef)
}
