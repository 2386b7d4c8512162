package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports"
	"payment-collection-broker/pkg/apperror"

	"github.com/rs/zerolog"
)

// maxReconcileRounds bounds re-reads after losing a compare-and-swap race.
const maxReconcileRounds = 3

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	store      ports.TransactionStore
	verifier   ports.WebhookVerifier
	dispatcher *NotificationDispatcher
	audit      ports.AuditService
	log        zerolog.Logger
	now        func() time.Time
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	store ports.TransactionStore,
	verifier ports.WebhookVerifier,
	dispatcher *NotificationDispatcher,
	audit ports.AuditService,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		store:      store,
		verifier:   verifier,
		dispatcher: dispatcher,
		audit:      audit,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile verifies a webhook and applies it to the matching record at most
// once. Replays of an already-applied notification succeed without mutation.
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, req ports.ReconcileRequest) (*domain.ReconciliationResult, error) {
	n := req.Notification

	payload := req.Payload
	if len(payload) == 0 {
		payload = n.CanonicalPayload()
	}
	if !s.verifier.Verify(payload, req.Signature) {
		s.log.Warn().
			Str("event", "security").
			Str("upstream_id", n.UpstreamID).
			Str("ip", req.ClientIP).
			Msg("webhook signature verification failed")
		s.audit.Log(ctx, &domain.AuditLog{
			Action:     domain.AuditActionInvalidSignature,
			UpstreamID: n.UpstreamID,
			IPAddress:  req.ClientIP,
		})
		return nil, apperror.ErrInvalidSignature()
	}

	if req.DecodeErr != nil {
		return nil, apperror.Validation("malformed webhook payload")
	}

	if err := validateNotification(n); err != nil {
		return nil, err
	}

	fingerprint := n.Fingerprint()

	for round := 1; ; round++ {
		rec, err := s.store.FindByUpstreamID(ctx, n.UpstreamID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("find transaction by upstream id: %w", err))
		}
		if rec == nil {
			s.log.Warn().Str("upstream_id", n.UpstreamID).Msg("webhook for unknown transaction")
			return nil, apperror.ErrTransactionNotFound(n.UpstreamID)
		}

		if rec.Amount != n.Amount || rec.Currency != n.Currency {
			return nil, apperror.Validation("notification amount or currency does not match the transaction").
				WithDetail("transaction_id", rec.CorrelationID)
		}

		if rec.LastWebhookFingerprint != nil && *rec.LastWebhookFingerprint == fingerprint {
			s.log.Info().
				Str("correlation_id", rec.CorrelationID).
				Str("upstream_id", rec.UpstreamID).
				Msg("duplicate webhook ignored")
			s.audit.Log(ctx, &domain.AuditLog{
				Action:        domain.AuditActionWebhookReplay,
				CorrelationID: rec.CorrelationID,
				UpstreamID:    rec.UpstreamID,
				IPAddress:     req.ClientIP,
			})
			return s.result(rec, false), nil
		}

		if rec.IsTerminal() {
			s.log.Warn().
				Str("correlation_id", rec.CorrelationID).
				Str("current_status", string(rec.Status)).
				Str("attempted_status", string(n.Status)).
				Msg("webhook conflicts with terminal state")
			s.audit.Log(ctx, &domain.AuditLog{
				Action:        domain.AuditActionWebhookConflict,
				CorrelationID: rec.CorrelationID,
				UpstreamID:    rec.UpstreamID,
				IPAddress:     req.ClientIP,
				Details: map[string]any{
					"current_status":   string(rec.Status),
					"attempted_status": string(n.Status),
				},
			})
			return nil, apperror.ErrConflictingTerminalUpdate(rec.CorrelationID, string(rec.Status)).
				WithDetail("attempted_status", string(n.Status))
		}

		updated := rec.Clone()
		updated.Status = n.TargetStatus(rec.Status)
		updated.LastWebhookFingerprint = &fingerprint
		updated.UpdatedAt = s.now()
		if updated.Status == domain.TransactionStatusFailed && n.FailureReason != "" {
			reason := n.FailureReason
			updated.FailureReason = &reason
		}

		err = s.store.CompareAndSwap(ctx, updated, rec.LastWebhookFingerprint)
		if errors.Is(err, domain.ErrStaleRecord) {
			if round < maxReconcileRounds {
				s.log.Debug().Str("correlation_id", rec.CorrelationID).Int("round", round).Msg("record changed concurrently, re-evaluating")
				continue
			}
			return nil, apperror.InternalError(fmt.Errorf("reconcile %s: %w", rec.CorrelationID, err))
		}
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("apply transition: %w", err))
		}

		statusChanged := updated.Status != rec.Status
		s.log.Info().
			Str("correlation_id", updated.CorrelationID).
			Str("upstream_id", updated.UpstreamID).
			Str("from", string(rec.Status)).
			Str("to", string(updated.Status)).
			Msg("webhook applied")
		s.audit.Log(ctx, &domain.AuditLog{
			Action:        domain.AuditActionWebhookApplied,
			CorrelationID: updated.CorrelationID,
			UpstreamID:    updated.UpstreamID,
			IPAddress:     req.ClientIP,
			Details: map[string]any{
				"from": string(rec.Status),
				"to":   string(updated.Status),
			},
		})

		if statusChanged {
			s.dispatcher.Dispatch(domain.NewStatusChangeEvent(updated))
		}

		return s.result(updated, true), nil
	}
}

func (s *ReconciliationServiceImpl) result(rec *domain.TransactionRecord, applied bool) *domain.ReconciliationResult {
	return &domain.ReconciliationResult{
		Received:      true,
		Applied:       applied,
		CorrelationID: rec.CorrelationID,
		Status:        rec.Status,
		ProcessedAt:   s.now(),
	}
}

func validateNotification(n domain.WebhookNotification) error {
	switch {
	case strings.TrimSpace(n.UpstreamID) == "":
		return apperror.Validation("transaction_id is required")
	case n.EventType != domain.EventTypeStatusChanged:
		return apperror.Validation(fmt.Sprintf("unsupported event type %q", n.EventType))
	case !n.Status.IsValid():
		return apperror.Validation(fmt.Sprintf("unsupported status %q", n.Status))
	case n.Timestamp.IsZero():
		return apperror.Validation("timestamp is required")
	}
	return nil
}
