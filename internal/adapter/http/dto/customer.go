package dto

import (
	"time"

	"payment-collection-broker/internal/core/domain"
)

// RegisterCustomerRequest is the request body for POST /api/v1/customers/register.
type RegisterCustomerRequest struct {
	MSISDN              string `json:"msisdn" binding:"required,intl_msisdn"`
	FirstName           string `json:"first_name" binding:"required,min=1,max=100"`
	Surname             string `json:"surname" binding:"required,min=1,max=100"`
	PartnerGUID         string `json:"partner_guid" binding:"required,max=64,safe_id"`
	DisplayLanguage     string `json:"display_language" binding:"required,min=2,max=8,alpha"`
	NationalID          string `json:"national_id" binding:"required,max=32,alphanum"`
	BeneficiaryMSISDN   string `json:"beneficiary_msisdn,omitempty" binding:"omitempty,intl_msisdn"`
	BeneficiaryName     string `json:"beneficiary_name,omitempty" binding:"omitempty,max=200"`
	DateOfBirth         string `json:"date_of_birth" binding:"required,datetime=2006-01-02"`
	ExternalIdentifier  string `json:"external_identifier,omitempty" binding:"omitempty,max=100,safe_id"`
	RegistrationChannel string `json:"registration_channel" binding:"required,max=32,alphanum"`
	AccountNumber       string `json:"account_number,omitempty" binding:"omitempty,max=34,alphanum"`
	AccountType         string `json:"account_type,omitempty" binding:"omitempty,max=32"`
	BranchCode          string `json:"branch_code,omitempty" binding:"omitempty,max=16,alphanum"`
}

// CustomerResponse is the API view of a customer.
type CustomerResponse struct {
	CustomerGUID        string             `json:"customer_guid"`
	FirstName           string             `json:"first_name"`
	Surname             string             `json:"surname"`
	MSISDN              string             `json:"msisdn"`
	DateOfBirth         string             `json:"date_of_birth"`
	PartnerGUID         string             `json:"partner_guid"`
	DisplayLanguage     string             `json:"display_language"`
	ExternalIdentifier  string             `json:"external_identifier,omitempty"`
	RegistrationChannel string             `json:"registration_channel"`
	RegistrationStatus  string             `json:"registration_status"`
	KYCReference        string             `json:"kyc_reference,omitempty"`
	KYCDetails          *domain.KYCDetails `json:"kyc_details,omitempty"`
	RejectionReason     *string            `json:"rejection_reason,omitempty"`
	VerifiedAt          string             `json:"verified_at,omitempty"`
	CreatedAt           string             `json:"created_at"`
	UpdatedAt           string             `json:"updated_at"`
}

// NewCustomerResponse converts a customer to its API view.
func NewCustomerResponse(c *domain.Customer) CustomerResponse {
	resp := CustomerResponse{
		CustomerGUID:        c.GUID,
		FirstName:           c.FirstName,
		Surname:             c.Surname,
		MSISDN:              c.MSISDN,
		DateOfBirth:         c.DateOfBirth.Format(time.DateOnly),
		PartnerGUID:         c.PartnerGUID,
		DisplayLanguage:     c.DisplayLanguage,
		ExternalIdentifier:  c.ExternalID,
		RegistrationChannel: c.RegistrationChannel,
		RegistrationStatus:  string(c.Status),
		KYCReference:        c.KYCReference,
		KYCDetails:          c.KYCDetails,
		RejectionReason:     c.RejectionReason,
		CreatedAt:           c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.VerifiedAt != nil {
		resp.VerifiedAt = c.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// KYCVerificationDetails is the provider's account of a verification.
type KYCVerificationDetails struct {
	Provider          string `json:"provider"`
	VerificationID    string `json:"verificationId"`
	DocumentVerified  *bool  `json:"documentVerified,omitempty"`
	BiometricVerified *bool  `json:"biometricVerified,omitempty"`
}

// KYCWebhookRequest is the KYC provider's status callback. Like the payment
// webhook it carries no binding rules.
type KYCWebhookRequest struct {
	EventType           string                 `json:"eventType"`
	CustomerGUID        string                 `json:"customer_guid"`
	VerificationStatus  string                 `json:"verificationStatus"`
	Timestamp           time.Time              `json:"timestamp"`
	VerificationDetails KYCVerificationDetails `json:"verificationDetails"`
	RejectionReason     string                 `json:"rejectionReason,omitempty"`
}

// ToNotification converts the request to its domain form.
func (r KYCWebhookRequest) ToNotification() domain.KYCNotification {
	return domain.KYCNotification{
		CustomerGUID: r.CustomerGUID,
		Status:       domain.CustomerStatus(r.VerificationStatus),
		EventType:    r.EventType,
		Timestamp:    r.Timestamp,
		Details: domain.KYCDetails{
			Provider:          r.VerificationDetails.Provider,
			VerificationID:    r.VerificationDetails.VerificationID,
			DocumentVerified:  r.VerificationDetails.DocumentVerified,
			BiometricVerified: r.VerificationDetails.BiometricVerified,
		},
		RejectionReason: r.RejectionReason,
	}
}

// KYCWebhookResponse acknowledges a KYC callback.
type KYCWebhookResponse struct {
	Received           bool   `json:"received"`
	Applied            bool   `json:"applied"`
	CustomerGUID       string `json:"customer_guid"`
	RegistrationStatus string `json:"registration_status"`
	ProcessedAt        string `json:"processed_at"`
	Message            string `json:"message"`
}
