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

// HeaderWebhookSignature carries the hub's HMAC over the raw webhook body.
const HeaderWebhookSignature = "X-Webhook-Signature"

const initiatedMessage = "Payment initiated. Awaiting customer confirmation."

// PaymentHandler handles payment-related endpoints.
type PaymentHandler struct {
	initiationSvc ports.InitiationService
	reconcileSvc  ports.ReconciliationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(initiationSvc ports.InitiationService, reconcileSvc ports.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{initiationSvc: initiationSvc, reconcileSvc: reconcileSvc}
}

// Initiate handles POST /api/v1/payments/initiate.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req dto.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	in := ports.InitiateRequest{
		PolicyRef:       req.PolicyCode,
		PayerID:         req.MSISDN,
		Amount:          req.AmountInCents,
		Currency:        req.Currency,
		Provider:        req.Provider,
		Channel:         req.Channel,
		ProductCode:     req.ProductCode,
		CallerReference: req.AspinReference,
	}
	if req.Description != nil {
		in.Description = *req.Description
	}

	rec, err := h.initiationSvc.Initiate(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.InitiatePaymentResponse{
		CorrelationID: rec.CorrelationID,
		TransactionID: rec.UpstreamID,
		Status:        string(rec.Status),
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Provider:      rec.Provider,
		Timestamp:     rec.CreatedAt.UTC().Format(time.RFC3339),
		Message:       initiatedMessage,
	})
}

// Webhook handles POST /api/v1/payments/webhook. The raw body is passed on
// untouched so the signature can be checked against the exact bytes sent.
// A body that fails to decode is reported only once the signature holds.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	var req dto.WebhookRequest
	decodeErr := json.Unmarshal(body, &req)

	result, err := h.reconcileSvc.Reconcile(c.Request.Context(), ports.ReconcileRequest{
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

	response.OK(c, dto.WebhookResponse{
		Received:      result.Received,
		Applied:       result.Applied,
		CorrelationID: result.CorrelationID,
		Status:        string(result.Status),
		ProcessedAt:   result.ProcessedAt.UTC().Format(time.RFC3339),
	})
}

// Get handles GET /api/v1/payments/:correlation_id.
func (h *PaymentHandler) Get(c *gin.Context) {
	rec, err := h.initiationSvc.Get(c.Request.Context(), c.Param("correlation_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(rec))
}
