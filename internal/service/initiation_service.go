package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports"
	"payment-collection-broker/pkg/apperror"
	"payment-collection-broker/pkg/keylock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InitiationConfig holds the business rules applied before any upstream call.
type InitiationConfig struct {
	Currencies    []string
	FixedAmount   int64 // 0 = any positive amount
	InProgressTTL time.Duration
	CompletedTTL  time.Duration
}

// DefaultInitiationConfig accepts KES of any positive amount.
func DefaultInitiationConfig() InitiationConfig {
	return InitiationConfig{
		Currencies:    []string{"KES"},
		InProgressTTL: 30 * time.Second,
		CompletedTTL:  24 * time.Hour,
	}
}

// InitiationServiceImpl implements ports.InitiationService.
type InitiationServiceImpl struct {
	store      ports.TransactionStore
	gateway    ports.ProviderRegistry
	retry      RetryPolicy
	locks      *keylock.KeyLock
	idempCache ports.IdempotencyCache
	audit      ports.AuditService
	cfg        InitiationConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewInitiationService creates a new InitiationServiceImpl.
// idempCache may be nil, in which case caller references are not deduplicated.
func NewInitiationService(
	store ports.TransactionStore,
	gateway ports.ProviderRegistry,
	retry RetryPolicy,
	idempCache ports.IdempotencyCache,
	audit ports.AuditService,
	cfg InitiationConfig,
	log zerolog.Logger,
) *InitiationServiceImpl {
	return &InitiationServiceImpl{
		store:      store,
		gateway:    gateway,
		retry:      retry,
		locks:      keylock.New(),
		idempCache: idempCache,
		audit:      audit,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Initiate submits a payment upstream and records it as PENDING, at most
// once per active business key.
func (s *InitiationServiceImpl) Initiate(ctx context.Context, req ports.InitiateRequest) (*domain.TransactionRecord, error) {
	req = normalize(req)
	if err := s.validate(req); err != nil {
		return nil, err
	}
	key := req.BusinessKey()

	idempKey, cached, err := s.reserveReference(ctx, key, req.CallerReference)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	rec, err := s.initiate(ctx, req, key)

	if idempKey != "" {
		// The request may already be cancelled; the cache must still be settled.
		settleCtx := context.WithoutCancel(ctx)
		if err != nil {
			if rerr := s.idempCache.Release(settleCtx, idempKey); rerr != nil {
				s.log.Warn().Err(rerr).Str("key", idempKey).Msg("failed to release idempotency reservation")
			}
		} else if cerr := s.idempCache.Complete(settleCtx, idempKey, rec, s.cfg.CompletedTTL); cerr != nil {
			s.log.Warn().Err(cerr).Str("key", idempKey).Msg("failed to cache initiation result")
		}
	}

	return rec, err
}

func (s *InitiationServiceImpl) initiate(ctx context.Context, req ports.InitiateRequest, key domain.BusinessKey) (*domain.TransactionRecord, error) {
	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return nil, apperror.ErrRequestCancelled(err)
	}
	defer unlock()

	existing, err := s.store.FindActiveByBusinessKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find active transaction: %w", err))
	}
	if existing != nil {
		s.log.Info().
			Str("business_key", key.String()).
			Str("existing_id", existing.CorrelationID).
			Msg("duplicate initiation rejected")
		return nil, apperror.ErrDuplicateActiveTransaction(existing.CorrelationID, string(existing.Status))
	}

	upstreamReq := domain.UpstreamRequest{
		PolicyRef:   req.PolicyRef,
		PayerID:     req.PayerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		Channel:     req.Channel,
		ProductCode: req.ProductCode,
		Reference:   req.CallerReference,
		Description: req.Description,
	}

	out, err := s.retry.Execute(ctx, func(actx context.Context) domain.Outcome {
		return s.gateway.Submit(actx, upstreamReq)
	})
	if err != nil {
		s.log.Info().Err(err).Str("business_key", key.String()).Msg("initiation cancelled")
		return nil, apperror.ErrRequestCancelled(err)
	}

	switch out.Kind {
	case domain.OutcomeAccepted:
	case domain.OutcomeRejected:
		s.log.Info().Str("business_key", key.String()).Str("reason", out.Reason).Msg("upstream rejected payment")
		return nil, apperror.ErrUpstreamRejected(out.Reason)
	case domain.OutcomeExhausted:
		s.log.Warn().
			Str("business_key", key.String()).
			Str("provider", req.Provider).
			Int("attempts", out.Attempts).
			Str("reason", out.Reason).
			Msg("upstream unavailable, retries exhausted")
		return nil, apperror.ErrUpstreamExhausted(out.Attempts, out.Reason).WithDetail("provider", req.Provider)
	default:
		return nil, apperror.InternalError(fmt.Errorf("unexpected upstream outcome %q", out.Kind))
	}
	if out.UpstreamID == "" {
		return nil, apperror.InternalError(errors.New("upstream accepted payment without an id"))
	}

	now := s.now()
	rec := &domain.TransactionRecord{
		CorrelationID:   uuid.NewString(),
		UpstreamID:      out.UpstreamID,
		BusinessKey:     key,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Provider:        req.Provider,
		Status:          domain.TransactionStatusPending,
		CallerReference: req.CallerReference,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Upstream now holds the payment; persist it even if the caller has gone away.
	if err := s.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, domain.ErrActiveTransactionExists) {
			if active, ferr := s.store.FindActiveByBusinessKey(ctx, key); ferr == nil && active != nil {
				return nil, apperror.ErrDuplicateActiveTransaction(active.CorrelationID, string(active.Status))
			}
			return nil, apperror.ErrDuplicateActiveTransaction("", "")
		}
		return nil, apperror.InternalError(fmt.Errorf("save transaction: %w", err))
	}

	s.audit.Log(ctx, &domain.AuditLog{
		Action:        domain.AuditActionPaymentInitiated,
		CorrelationID: rec.CorrelationID,
		UpstreamID:    rec.UpstreamID,
		Details: map[string]any{
			"policy_ref": key.PolicyRef,
			"provider":   rec.Provider,
			"amount":     rec.Amount,
			"currency":   rec.Currency,
			"attempts":   out.Attempts,
		},
	})

	s.log.Info().
		Str("correlation_id", rec.CorrelationID).
		Str("upstream_id", rec.UpstreamID).
		Str("provider", rec.Provider).
		Int64("amount", rec.Amount).
		Int("attempts", out.Attempts).
		Msg("payment initiated")

	return rec, nil
}

// Get returns the record for correlationID.
func (s *InitiationServiceImpl) Get(ctx context.Context, correlationID string) (*domain.TransactionRecord, error) {
	rec, err := s.store.Get(ctx, correlationID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if rec == nil {
		return nil, apperror.ErrTransactionNotFound(correlationID)
	}
	return rec, nil
}

// reserveReference returns the cached record for a completed caller reference,
// or reserves the reference and returns its cache key. Cache failures degrade
// to no deduplication by reference.
func (s *InitiationServiceImpl) reserveReference(ctx context.Context, key domain.BusinessKey, ref string) (string, *domain.TransactionRecord, error) {
	if s.idempCache == nil || ref == "" {
		return "", nil, nil
	}
	idempKey := domain.BuildIdempotencyKey(key, ref)

	entry, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("idempotency lookup failed, continuing without it")
		return "", nil, nil
	}
	if entry != nil {
		if entry.State == domain.IdempotencyCompleted && entry.Record != nil {
			return "", entry.Record, nil
		}
		return "", nil, apperror.ErrRequestInProgress()
	}

	ok, err := s.idempCache.Reserve(ctx, idempKey, s.cfg.InProgressTTL)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("idempotency reservation failed, continuing without it")
		return "", nil, nil
	}
	if !ok {
		return "", nil, apperror.ErrRequestInProgress()
	}
	return idempKey, nil, nil
}

func normalize(req ports.InitiateRequest) ports.InitiateRequest {
	req.PolicyRef = strings.TrimSpace(req.PolicyRef)
	req.PayerID = strings.TrimSpace(req.PayerID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.CallerReference = strings.TrimSpace(req.CallerReference)
	return req
}

func (s *InitiationServiceImpl) validate(req ports.InitiateRequest) error {
	switch {
	case req.PolicyRef == "":
		return apperror.Validation("policy reference is required")
	case req.PayerID == "":
		return apperror.Validation("payer identifier is required")
	case req.Amount <= 0:
		return apperror.Validation("amount must be greater than zero")
	case !slices.Contains(s.cfg.Currencies, req.Currency):
		return apperror.Validation(fmt.Sprintf("currency %q is not supported", req.Currency)).
			WithDetail("supported", s.cfg.Currencies)
	case s.cfg.FixedAmount > 0 && req.Amount != s.cfg.FixedAmount:
		return apperror.Validation(fmt.Sprintf("amount must be exactly %d", s.cfg.FixedAmount))
	case !s.gateway.Supports(req.Provider):
		return apperror.Validation(fmt.Sprintf("provider %q is not supported", req.Provider))
	}
	return nil
}
