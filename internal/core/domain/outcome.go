package domain

import "time"

// OutcomeKind classifies the result of an upstream submission.
type OutcomeKind string

const (
	OutcomeAccepted    OutcomeKind = "ACCEPTED"
	OutcomeRejected    OutcomeKind = "REJECTED"    // permanent: never retried
	OutcomeUnavailable OutcomeKind = "UNAVAILABLE" // transient: retry-worthy
	OutcomeExhausted   OutcomeKind = "EXHAUSTED"   // retries used up
)

// Outcome is the value form of an upstream call result. Expected failures
// travel as Outcomes, not errors.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	UpstreamID string      `json:"upstream_id,omitempty"`
	Status     string      `json:"status,omitempty"`
	Timestamp  time.Time   `json:"timestamp,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
}

func Accepted(upstreamID, status string, ts time.Time) Outcome {
	return Outcome{Kind: OutcomeAccepted, UpstreamID: upstreamID, Status: status, Timestamp: ts}
}

func Rejected(reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

func Unavailable(reason string) Outcome {
	return Outcome{Kind: OutcomeUnavailable, Reason: reason}
}

func Exhausted(reason string, attempts int) Outcome {
	return Outcome{Kind: OutcomeExhausted, Reason: reason, Attempts: attempts}
}

// UpstreamRequest is what the gateway client sends to the payment hub.
type UpstreamRequest struct {
	PolicyRef   string `json:"policy_code"`
	PayerID     string `json:"msisdn"`
	Amount      int64  `json:"amount_in_cents"`
	Currency    string `json:"currency"`
	Provider    string `json:"provider"`
	Channel     string `json:"channel,omitempty"`
	ProductCode string `json:"product_code,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Description string `json:"description,omitempty"`
}
