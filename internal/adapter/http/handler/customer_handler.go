package handler

import (
	"encoding/json"
	"time"

	"payment-collection-broker/internal/adapter/http/dto"
	"payment-collection-broker/internal/core/ports"
	"payment-collection-broker/pkg/apperror"
	"payment-collection-broker/pkg/response"

	"github.com/gin-gonic/gin"
)

// CustomerHandler handles customer registration and KYC callbacks.
type CustomerHandler struct {
	svc ports.CustomerService
}

func NewCustomerHandler(svc ports.CustomerService) *CustomerHandler {
	return &CustomerHandler{svc: svc}
}

// Register handles POST /api/v1/customers/register.
func (h *CustomerHandler) Register(c *gin.Context) {
	var req dto.RegisterCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	dob, err := time.Parse(time.DateOnly, req.DateOfBirth)
	if err != nil {
		response.Error(c, apperror.Validation("date_of_birth must be YYYY-MM-DD"))
		return
	}

	customer, err := h.svc.Register(c.Request.Context(), ports.RegisterCustomerRequest{
		FirstName:           req.FirstName,
		Surname:             req.Surname,
		MSISDN:              req.MSISDN,
		DateOfBirth:         dob,
		NationalID:          req.NationalID,
		PartnerGUID:         req.PartnerGUID,
		DisplayLanguage:     req.DisplayLanguage,
		BeneficiaryMSISDN:   req.BeneficiaryMSISDN,
		BeneficiaryName:     req.BeneficiaryName,
		ExternalID:          req.ExternalIdentifier,
		RegistrationChannel: req.RegistrationChannel,
		AccountNumber:       req.AccountNumber,
		AccountType:         req.AccountType,
		BranchCode:          req.BranchCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewCustomerResponse(customer))
}

// Get handles GET /api/v1/customers/:customer_guid.
func (h *CustomerHandler) Get(c *gin.Context) {
	customer, err := h.svc.Get(c.Request.Context(), c.Param("customer_guid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewCustomerResponse(customer))
}

// KYCWebhook handles POST /api/v1/customers/webhooks/kyc-status. Like the
// payment webhook, decoding errors surface only after the signature holds.
func (h *CustomerHandler) KYCWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	var req dto.KYCWebhookRequest
	decodeErr := json.Unmarshal(body, &req)

	result, err := h.svc.ReconcileKYC(c.Request.Context(), ports.KYCReconcileRequest{
		Notification: req.ToNotification(),
		Payload:      body,
		Signature:    c.GetHeader(HeaderWebhookSignature),
		ClientIP:     c.ClientIP(),
		DecodeErr:    decodeErr,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	message := "KYC status updated"
	if !result.Applied {
		message = "KYC status already recorded"
	}
	response.OK(c, dto.KYCWebhookResponse{
		Received:           result.Received,
		Applied:            result.Applied,
		CustomerGUID:       result.CustomerGUID,
		RegistrationStatus: string(result.Status),
		ProcessedAt:        result.ProcessedAt.UTC().Format(time.RFC3339),
		Message:            message,
	})
}
