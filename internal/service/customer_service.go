package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports"
	"payment-collection-broker/pkg/apperror"
	"payment-collection-broker/pkg/keylock"

	"github.com/rs/zerolog"
)

var intlMSISDNRe = regexp.MustCompile(`^\+[0-9]{10,15}$`)

// CustomerServiceImpl implements ports.CustomerService.
type CustomerServiceImpl struct {
	store    ports.CustomerStore
	kyc      ports.KYCClient
	retry    RetryPolicy
	verifier ports.WebhookVerifier
	locks    *keylock.KeyLock
	audit    ports.AuditService
	log      zerolog.Logger
	now      func() time.Time
}

// NewCustomerService creates a new CustomerServiceImpl. kyc may be nil, in
// which case customers are stored pending without a provider submission.
func NewCustomerService(
	store ports.CustomerStore,
	kyc ports.KYCClient,
	retry RetryPolicy,
	verifier ports.WebhookVerifier,
	audit ports.AuditService,
	log zerolog.Logger,
) *CustomerServiceImpl {
	return &CustomerServiceImpl{
		store:    store,
		kyc:      kyc,
		retry:    retry,
		verifier: verifier,
		locks:    keylock.New(),
		audit:    audit,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register stores a new pending customer once its MSISDN and external
// identifier are known to be unused, submitting it for KYC first.
func (s *CustomerServiceImpl) Register(ctx context.Context, req ports.RegisterCustomerRequest) (*domain.Customer, error) {
	req = normalizeCustomer(req)
	if err := s.validateCustomer(req); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, "msisdn:"+req.MSISDN)
	if err != nil {
		return nil, apperror.ErrRequestCancelled(err)
	}
	defer unlock()

	if err := s.checkUnique(ctx, req); err != nil {
		return nil, err
	}

	now := s.now()
	c := &domain.Customer{
		GUID:                newCustomerGUID(now),
		FirstName:           req.FirstName,
		Surname:             req.Surname,
		MSISDN:              req.MSISDN,
		DateOfBirth:         req.DateOfBirth,
		NationalID:          req.NationalID,
		PartnerGUID:         req.PartnerGUID,
		DisplayLanguage:     req.DisplayLanguage,
		BeneficiaryMSISDN:   req.BeneficiaryMSISDN,
		BeneficiaryName:     req.BeneficiaryName,
		ExternalID:          req.ExternalID,
		RegistrationChannel: req.RegistrationChannel,
		AccountNumber:       req.AccountNumber,
		AccountType:         req.AccountType,
		BranchCode:          req.BranchCode,
		Status:              domain.CustomerStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if s.kyc != nil {
		ref, err := s.submitKYC(ctx, c)
		if err != nil {
			return nil, err
		}
		c.KYCReference = ref
	}

	if err := s.store.Put(context.WithoutCancel(ctx), c); err != nil {
		return nil, s.putError(ctx, err, req)
	}

	s.audit.Log(ctx, &domain.AuditLog{
		Action:        domain.AuditActionCustomerRegistered,
		CorrelationID: c.GUID,
		UpstreamID:    c.KYCReference,
		Details: map[string]any{
			"partner_guid":         c.PartnerGUID,
			"registration_channel": c.RegistrationChannel,
		},
	})

	s.log.Info().
		Str("customer_guid", c.GUID).
		Str("partner_guid", c.PartnerGUID).
		Str("kyc_reference", c.KYCReference).
		Msg("customer registered")

	return c, nil
}

func (s *CustomerServiceImpl) submitKYC(ctx context.Context, c *domain.Customer) (string, error) {
	kycReq := domain.NewKYCRequest(c)
	out, err := s.retry.Execute(ctx, func(actx context.Context) domain.Outcome {
		return s.kyc.Submit(actx, kycReq)
	})
	if err != nil {
		return "", apperror.ErrRequestCancelled(err)
	}

	switch out.Kind {
	case domain.OutcomeAccepted:
		if out.UpstreamID == "" {
			return "", apperror.InternalError(errors.New("kyc provider accepted customer without an id"))
		}
		return out.UpstreamID, nil
	case domain.OutcomeRejected:
		s.log.Info().Str("customer_guid", c.GUID).Str("reason", out.Reason).Msg("kyc provider rejected customer")
		return "", apperror.ErrUpstreamRejected(out.Reason)
	case domain.OutcomeExhausted:
		s.log.Warn().Str("customer_guid", c.GUID).Int("attempts", out.Attempts).Str("reason", out.Reason).
			Msg("kyc provider unavailable, retries exhausted")
		return "", apperror.ErrUpstreamExhausted(out.Attempts, out.Reason)
	default:
		return "", apperror.InternalError(fmt.Errorf("unexpected kyc outcome %q", out.Kind))
	}
}

func (s *CustomerServiceImpl) checkUnique(ctx context.Context, req ports.RegisterCustomerRequest) error {
	existing, err := s.store.FindByMSISDN(ctx, req.MSISDN)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find customer by msisdn: %w", err))
	}
	if existing != nil {
		return apperror.ErrCustomerExists(existing.GUID, "msisdn")
	}
	if req.ExternalID == "" {
		return nil
	}
	existing, err = s.store.FindByExternalID(ctx, req.ExternalID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find customer by external id: %w", err))
	}
	if existing != nil {
		return apperror.ErrCustomerExists(existing.GUID, "external_identifier")
	}
	return nil
}

// putError maps a lost insert race onto the customer that won it.
func (s *CustomerServiceImpl) putError(ctx context.Context, err error, req ports.RegisterCustomerRequest) error {
	switch {
	case errors.Is(err, domain.ErrDuplicateMSISDN):
		if c, ferr := s.store.FindByMSISDN(ctx, req.MSISDN); ferr == nil && c != nil {
			return apperror.ErrCustomerExists(c.GUID, "msisdn")
		}
		return apperror.ErrCustomerExists("", "msisdn")
	case errors.Is(err, domain.ErrDuplicateExternalID):
		if c, ferr := s.store.FindByExternalID(ctx, req.ExternalID); ferr == nil && c != nil {
			return apperror.ErrCustomerExists(c.GUID, "external_identifier")
		}
		return apperror.ErrCustomerExists("", "external_identifier")
	}
	return apperror.InternalError(fmt.Errorf("save customer: %w", err))
}

// Get returns the customer for guid.
func (s *CustomerServiceImpl) Get(ctx context.Context, guid string) (*domain.Customer, error) {
	c, err := s.store.Get(ctx, guid)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get customer: %w", err))
	}
	if c == nil {
		return nil, apperror.ErrCustomerNotFound(guid)
	}
	return c, nil
}

// ReconcileKYC verifies a KYC callback and applies it to the customer at
// most once. A concluded verification never changes.
func (s *CustomerServiceImpl) ReconcileKYC(ctx context.Context, req ports.KYCReconcileRequest) (*domain.KYCResult, error) {
	n := req.Notification

	payload := req.Payload
	if len(payload) == 0 {
		payload = n.CanonicalPayload()
	}
	if !s.verifier.Verify(payload, req.Signature) {
		s.log.Warn().
			Str("event", "security").
			Str("customer_guid", n.CustomerGUID).
			Str("ip", req.ClientIP).
			Msg("kyc webhook signature verification failed")
		s.audit.Log(ctx, &domain.AuditLog{
			Action:        domain.AuditActionInvalidSignature,
			CorrelationID: n.CustomerGUID,
			IPAddress:     req.ClientIP,
		})
		return nil, apperror.ErrInvalidSignature()
	}

	if req.DecodeErr != nil {
		return nil, apperror.Validation("malformed kyc webhook payload")
	}
	if err := validateKYCNotification(n); err != nil {
		return nil, err
	}

	fingerprint := n.Fingerprint()

	for round := 1; ; round++ {
		c, err := s.store.Get(ctx, n.CustomerGUID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get customer: %w", err))
		}
		if c == nil {
			s.log.Warn().Str("customer_guid", n.CustomerGUID).Msg("kyc webhook for unknown customer")
			return nil, apperror.ErrCustomerNotFound(n.CustomerGUID)
		}

		if c.LastKYCFingerprint != nil && *c.LastKYCFingerprint == fingerprint {
			s.log.Info().Str("customer_guid", c.GUID).Msg("duplicate kyc webhook ignored")
			s.audit.Log(ctx, &domain.AuditLog{
				Action:        domain.AuditActionKYCReplay,
				CorrelationID: c.GUID,
				IPAddress:     req.ClientIP,
			})
			return s.kycResult(c, false), nil
		}

		if c.IsTerminal() {
			s.log.Warn().
				Str("customer_guid", c.GUID).
				Str("current_status", string(c.Status)).
				Str("attempted_status", string(n.Status)).
				Msg("kyc webhook conflicts with concluded verification")
			s.audit.Log(ctx, &domain.AuditLog{
				Action:        domain.AuditActionKYCConflict,
				CorrelationID: c.GUID,
				IPAddress:     req.ClientIP,
				Details: map[string]any{
					"current_status":   string(c.Status),
					"attempted_status": string(n.Status),
				},
			})
			return nil, apperror.ErrConflictingKYCUpdate(c.GUID, string(c.Status)).
				WithDetail("attempted_status", string(n.Status))
		}

		now := s.now()
		updated := c.Clone()
		updated.Status = n.Status
		updated.LastKYCFingerprint = &fingerprint
		updated.UpdatedAt = now
		details := n.Details
		updated.KYCDetails = &details
		switch n.Status {
		case domain.CustomerStatusApproved:
			updated.VerifiedAt = &now
		case domain.CustomerStatusRejected:
			if n.RejectionReason != "" {
				reason := n.RejectionReason
				updated.RejectionReason = &reason
			}
		}

		err = s.store.CompareAndSwap(ctx, updated, c.LastKYCFingerprint)
		if errors.Is(err, domain.ErrStaleRecord) {
			if round < maxReconcileRounds {
				s.log.Debug().Str("customer_guid", c.GUID).Int("round", round).Msg("customer changed concurrently, re-evaluating")
				continue
			}
			return nil, apperror.InternalError(fmt.Errorf("reconcile kyc %s: %w", c.GUID, err))
		}
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("apply kyc update: %w", err))
		}

		s.log.Info().
			Str("customer_guid", updated.GUID).
			Str("from", string(c.Status)).
			Str("to", string(updated.Status)).
			Msg("kyc webhook applied")
		s.audit.Log(ctx, &domain.AuditLog{
			Action:        domain.AuditActionKYCApplied,
			CorrelationID: updated.GUID,
			UpstreamID:    n.Details.VerificationID,
			IPAddress:     req.ClientIP,
			Details: map[string]any{
				"from":     string(c.Status),
				"to":       string(updated.Status),
				"provider": n.Details.Provider,
			},
		})

		return s.kycResult(updated, true), nil
	}
}

func (s *CustomerServiceImpl) kycResult(c *domain.Customer, applied bool) *domain.KYCResult {
	return &domain.KYCResult{
		Received:     true,
		Applied:      applied,
		CustomerGUID: c.GUID,
		Status:       c.Status,
		ProcessedAt:  s.now(),
	}
}

// newCustomerGUID returns cust_<unix millis>_<random suffix>.
func newCustomerGUID(now time.Time) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return fmt.Sprintf("cust_%d_%s", now.UnixMilli(), suffix)
}

func normalizeCustomer(req ports.RegisterCustomerRequest) ports.RegisterCustomerRequest {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.Surname = strings.TrimSpace(req.Surname)
	req.MSISDN = domain.NormalizeMSISDN(req.MSISDN)
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.PartnerGUID = strings.TrimSpace(req.PartnerGUID)
	req.DisplayLanguage = strings.ToLower(strings.TrimSpace(req.DisplayLanguage))
	if req.BeneficiaryMSISDN != "" {
		req.BeneficiaryMSISDN = domain.NormalizeMSISDN(req.BeneficiaryMSISDN)
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.RegistrationChannel = strings.TrimSpace(req.RegistrationChannel)
	return req
}

func (s *CustomerServiceImpl) validateCustomer(req ports.RegisterCustomerRequest) error {
	switch {
	case req.FirstName == "":
		return apperror.Validation("first name is required")
	case req.Surname == "":
		return apperror.Validation("surname is required")
	case !intlMSISDNRe.MatchString(req.MSISDN):
		return apperror.Validation("msisdn must be in international format, e.g. 00254712345678")
	case req.BeneficiaryMSISDN != "" && !intlMSISDNRe.MatchString(req.BeneficiaryMSISDN):
		return apperror.Validation("beneficiary msisdn must be in international format")
	case req.NationalID == "":
		return apperror.Validation("national id is required")
	case req.PartnerGUID == "":
		return apperror.Validation("partner guid is required")
	case req.DisplayLanguage == "":
		return apperror.Validation("display language is required")
	case req.RegistrationChannel == "":
		return apperror.Validation("registration channel is required")
	case req.DateOfBirth.IsZero():
		return apperror.Validation("date of birth is required")
	case req.DateOfBirth.After(s.now()):
		return apperror.Validation("date of birth must be in the past")
	}
	return nil
}

func validateKYCNotification(n domain.KYCNotification) error {
	switch {
	case strings.TrimSpace(n.CustomerGUID) == "":
		return apperror.Validation("customer_guid is required")
	case n.EventType != domain.EventTypeKYCStatusChanged:
		return apperror.Validation(fmt.Sprintf("unsupported event type %q", n.EventType))
	case !n.Status.IsValid():
		return apperror.Validation(fmt.Sprintf("unsupported verification status %q", n.Status))
	case n.Timestamp.IsZero():
		return apperror.Validation("timestamp is required")
	}
	return nil
}
