package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// EventTypeKYCStatusChanged is the only event the KYC provider sends.
const EventTypeKYCStatusChanged = "kyc.status.changed"

// CustomerStatus is the KYC verification state of a registered customer.
type CustomerStatus string

const (
	CustomerStatusPending  CustomerStatus = "pending"
	CustomerStatusApproved CustomerStatus = "approved"
	CustomerStatusRejected CustomerStatus = "rejected"
)

// IsValid reports whether s is a status the KYC provider can send.
func (s CustomerStatus) IsValid() bool {
	switch s {
	case CustomerStatusPending, CustomerStatusApproved, CustomerStatusRejected:
		return true
	}
	return false
}

// KYCDetails describes how the KYC provider verified a customer.
type KYCDetails struct {
	Provider          string `json:"provider"`
	VerificationID    string `json:"verification_id"`
	DocumentVerified  *bool  `json:"document_verified,omitempty"`
	BiometricVerified *bool  `json:"biometric_verified,omitempty"`
}

// Customer is a payer registered with a partner. MSISDN and ExternalID are
// unique across customers.
type Customer struct {
	GUID                string         `json:"customer_guid"`
	FirstName           string         `json:"first_name"`
	Surname             string         `json:"surname"`
	MSISDN              string         `json:"msisdn"` // "+" followed by digits
	DateOfBirth         time.Time      `json:"date_of_birth"`
	NationalID          string         `json:"national_id"`
	PartnerGUID         string         `json:"partner_guid"`
	DisplayLanguage     string         `json:"display_language"`
	BeneficiaryMSISDN   string         `json:"beneficiary_msisdn,omitempty"`
	BeneficiaryName     string         `json:"beneficiary_name,omitempty"`
	ExternalID          string         `json:"external_identifier,omitempty"`
	RegistrationChannel string         `json:"registration_channel"`
	AccountNumber       string         `json:"account_number,omitempty"`
	AccountType         string         `json:"account_type,omitempty"`
	BranchCode          string         `json:"branch_code,omitempty"`
	Status              CustomerStatus `json:"registration_status"`
	KYCReference        string         `json:"kyc_reference,omitempty"`
	KYCDetails          *KYCDetails    `json:"kyc_details,omitempty"`
	RejectionReason     *string        `json:"rejection_reason,omitempty"`
	VerifiedAt          *time.Time     `json:"verified_at,omitempty"`
	LastKYCFingerprint  *string        `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsTerminal returns true once verification has concluded.
func (c *Customer) IsTerminal() bool {
	return c.Status == CustomerStatusApproved || c.Status == CustomerStatusRejected
}

// Clone returns a deep copy.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	out := *c
	if c.KYCDetails != nil {
		d := *c.KYCDetails
		if d.DocumentVerified != nil {
			v := *d.DocumentVerified
			d.DocumentVerified = &v
		}
		if d.BiometricVerified != nil {
			v := *d.BiometricVerified
			d.BiometricVerified = &v
		}
		out.KYCDetails = &d
	}
	if c.RejectionReason != nil {
		r := *c.RejectionReason
		out.RejectionReason = &r
	}
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		out.VerifiedAt = &t
	}
	if c.LastKYCFingerprint != nil {
		f := *c.LastKYCFingerprint
		out.LastKYCFingerprint = &f
	}
	return &out
}

// NormalizeMSISDN rewrites an international number given with a "00" or "+"
// prefix to "+" followed by its digits.
func NormalizeMSISDN(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "+"):
		return s
	case strings.HasPrefix(s, "00"):
		return "+" + s[2:]
	}
	return s
}

// KYCRequest is what the KYC client submits for a new customer.
type KYCRequest struct {
	CustomerGUID string `json:"customer_guid"`
	FirstName    string `json:"first_name"`
	Surname      string `json:"surname"`
	MSISDN       string `json:"msisdn"`
	NationalID   string `json:"national_id"`
	DateOfBirth  string `json:"date_of_birth"`
	PartnerGUID  string `json:"partner_guid"`
}

// NewKYCRequest builds the verification request for c.
func NewKYCRequest(c *Customer) KYCRequest {
	return KYCRequest{
		CustomerGUID: c.GUID,
		FirstName:    c.FirstName,
		Surname:      c.Surname,
		MSISDN:       c.MSISDN,
		NationalID:   c.NationalID,
		DateOfBirth:  c.DateOfBirth.Format(time.DateOnly),
		PartnerGUID:  c.PartnerGUID,
	}
}

// KYCNotification is an inbound verification callback.
type KYCNotification struct {
	CustomerGUID    string         `json:"customer_guid"`
	Status          CustomerStatus `json:"verification_status"`
	EventType       string         `json:"event_type"`
	Timestamp       time.Time      `json:"timestamp"`
	Details         KYCDetails     `json:"verification_details"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// Fingerprint digests the fields that identify one verification event.
func (n KYCNotification) Fingerprint() string {
	parts := []string{
		n.CustomerGUID,
		string(n.Status),
		n.EventType,
		n.Timestamp.UTC().Format(time.RFC3339Nano),
		n.Details.VerificationID,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CanonicalPayload is the byte form signed when no raw body is available.
func (n KYCNotification) CanonicalPayload() []byte {
	b, _ := json.Marshal(n)
	return b
}

// KYCResult is returned to the KYC provider after a callback is processed.
type KYCResult struct {
	Received     bool           `json:"received"`
	Applied      bool           `json:"applied"`
	CustomerGUID string         `json:"customer_guid"`
	Status       CustomerStatus `json:"registration_status"`
	ProcessedAt  time.Time      `json:"processed_at"`
}
