package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-collection-broker/internal/adapter/storage/memory"
	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports"
	"payment-collection-broker/internal/core/ports/mocks"
	"payment-collection-broker/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testWebhookSecret = "whsec-test"

// capturingNotifier records forwarded events.
type capturingNotifier struct {
	mu     sync.Mutex
	events []domain.StatusChangeEvent
	err    error
}

func (n *capturingNotifier) Notify(_ context.Context, ev domain.StatusChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *capturingNotifier) Name() string { return "capture" }

func (n *capturingNotifier) Events() []domain.StatusChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.StatusChangeEvent(nil), n.events...)
}

type reconcileFixture struct {
	svc        *ReconciliationServiceImpl
	store      *memory.TransactionStore
	notifier   *capturingNotifier
	dispatcher *NotificationDispatcher
	rec        *domain.TransactionRecord
}

func setupReconcile(t *testing.T) *reconcileFixture {
	t.Helper()
	store := memory.NewTransactionStore()
	now := time.Now().UTC()
	rec := &domain.TransactionRecord{
		CorrelationID: "c1",
		UpstreamID:    "U1",
		BusinessKey:   domain.BusinessKey{PolicyRef: "POL-1", PayerID: "254700000001"},
		Amount:        500000,
		Currency:      "KES",
		Provider:      "mpesa",
		Status:        domain.TransactionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Put(context.Background(), rec))

	notifier := &capturingNotifier{}
	audit := NewAuditService(nil, zerolog.Nop())
	dispatcher := NewNotificationDispatcher(notifier, audit, time.Second, zerolog.Nop())
	svc := NewReconciliationService(store, NewHMACWebhookVerifier(testWebhookSecret), dispatcher, audit, zerolog.Nop())

	return &reconcileFixture{svc: svc, store: store, notifier: notifier, dispatcher: dispatcher, rec: rec}
}

func webhook(status domain.NotificationStatus, ts time.Time) domain.WebhookNotification {
	return domain.WebhookNotification{
		UpstreamID: "U1",
		Status:     status,
		Amount:     500000,
		Currency:   "KES",
		Timestamp:  ts,
		EventType:  domain.EventTypeStatusChanged,
	}
}

func signed(n domain.WebhookNotification) ports.ReconcileRequest {
	payload := n.CanonicalPayload()
	return ports.ReconcileRequest{
		Notification: n,
		Payload:      payload,
		Signature:    NewHMACSignatureService().Sign(testWebhookSecret, payload),
	}
}

func (f *reconcileFixture) current(t *testing.T) *domain.TransactionRecord {
	t.Helper()
	rec, err := f.store.Get(context.Background(), f.rec.CorrelationID)
	require.NoError(t, err)
	return rec
}

func TestReconciliationService_Reconcile_Scenario(t *testing.T) {
	f := setupReconcile(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	completed := webhook(domain.NotificationCompleted, t0)
	res, err := f.svc.Reconcile(ctx, signed(completed))
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.True(t, res.Applied)
	assert.Equal(t, "c1", res.CorrelationID)
	assert.Equal(t, domain.TransactionStatusCompleted, res.Status)
	assert.Equal(t, domain.TransactionStatusCompleted, f.current(t).Status)

	res, err = f.svc.Reconcile(ctx, signed(completed))
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.False(t, res.Applied, "identical notification is a replay")
	assert.Equal(t, domain.TransactionStatusCompleted, res.Status)

	failed := webhook(domain.NotificationFailed, t0.Add(time.Minute))
	_, err = f.svc.Reconcile(ctx, signed(failed))
	appErr := assertAppErrorKind(t, err, apperror.KindTerminalConflict)
	assert.Equal(t, "COMPLETED", appErr.Details["status"])
	assert.Equal(t, "failed", appErr.Details["attempted_status"])
	assert.Equal(t, domain.TransactionStatusCompleted, f.current(t).Status)

	f.dispatcher.Wait()
	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.TransactionStatusCompleted, events[0].Status)
	assert.Equal(t, "c1", events[0].CorrelationID)
}

func TestReconciliationService_Reconcile_ReplayLeavesRecordUntouched(t *testing.T) {
	f := setupReconcile(t)
	n := webhook(domain.NotificationCompleted, time.Now().UTC())

	_, err := f.svc.Reconcile(context.Background(), signed(n))
	require.NoError(t, err)
	before := f.current(t)

	_, err = f.svc.Reconcile(context.Background(), signed(n))
	require.NoError(t, err)
	after := f.current(t)

	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, *before.LastWebhookFingerprint, *after.LastWebhookFingerprint)
}

func TestReconciliationService_Reconcile_InvalidSignature(t *testing.T) {
	tests := []struct {
		name string
		req  func(domain.WebhookNotification) ports.ReconcileRequest
	}{
		{"missing", func(n domain.WebhookNotification) ports.ReconcileRequest {
			return ports.ReconcileRequest{Notification: n}
		}},
		{"wrong secret", func(n domain.WebhookNotification) ports.ReconcileRequest {
			return ports.ReconcileRequest{Notification: n, Signature: NewHMACSignatureService().Sign("other", n.CanonicalPayload())}
		}},
		{"tampered payload", func(n domain.WebhookNotification) ports.ReconcileRequest {
			req := signed(n)
			req.Payload = []byte(`{"transaction_id":"U1","status":"failed"}`)
			return req
		}},
		{"prefix bypass", func(n domain.WebhookNotification) ports.ReconcileRequest {
			return ports.ReconcileRequest{Notification: n, Signature: "valid_signature_abc"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupReconcile(t)
			before := f.current(t)

			_, err := f.svc.Reconcile(context.Background(), tt.req(webhook(domain.NotificationCompleted, time.Now())))
			assertAppErrorKind(t, err, apperror.KindInvalidSignature)
			assert.Equal(t, before, f.current(t))

			f.dispatcher.Wait()
			assert.Empty(t, f.notifier.Events())
		})
	}
}

func TestReconciliationService_Reconcile_SignatureOverCanonicalPayload(t *testing.T) {
	f := setupReconcile(t)
	n := webhook(domain.NotificationCompleted, time.Now().UTC())
	req := signed(n)
	req.Payload = nil

	res, err := f.svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestReconciliationService_Reconcile_UndecodableBody(t *testing.T) {
	body := []byte(`{"transaction_id":"U1","timestamp":"not-a-time"}`)
	decodeErr := errors.New("parsing time")

	t.Run("unsigned is rejected as unauthenticated", func(t *testing.T) {
		f := setupReconcile(t)
		_, err := f.svc.Reconcile(context.Background(), ports.ReconcileRequest{
			Payload:   body,
			Signature: "deadbeef",
			DecodeErr: decodeErr,
		})
		assertAppErrorKind(t, err, apperror.KindInvalidSignature)
	})

	t.Run("signed is rejected as malformed", func(t *testing.T) {
		f := setupReconcile(t)
		before := f.current(t)
		_, err := f.svc.Reconcile(context.Background(), ports.ReconcileRequest{
			Payload:   body,
			Signature: NewHMACSignatureService().Sign(testWebhookSecret, body),
			DecodeErr: decodeErr,
		})
		assertAppErrorKind(t, err, apperror.KindValidation)
		assert.Equal(t, before, f.current(t))
	})
}

func TestReconciliationService_Reconcile_UnknownTransaction(t *testing.T) {
	f := setupReconcile(t)
	n := webhook(domain.NotificationCompleted, time.Now())
	n.UpstreamID = "U-unknown"

	_, err := f.svc.Reconcile(context.Background(), signed(n))
	assertAppErrorKind(t, err, apperror.KindNotFound)
}

func TestReconciliationService_Reconcile_InvalidNotification(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.WebhookNotification)
	}{
		{"event type", func(n *domain.WebhookNotification) { n.EventType = "payment.refunded" }},
		{"status", func(n *domain.WebhookNotification) { n.Status = "reversed" }},
		{"missing upstream id", func(n *domain.WebhookNotification) { n.UpstreamID = "" }},
		{"missing timestamp", func(n *domain.WebhookNotification) { n.Timestamp = time.Time{} }},
		{"amount mismatch", func(n *domain.WebhookNotification) { n.Amount = 1 }},
		{"currency mismatch", func(n *domain.WebhookNotification) { n.Currency = "UGX" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupReconcile(t)
			n := webhook(domain.NotificationCompleted, time.Now())
			tt.mutate(&n)

			_, err := f.svc.Reconcile(context.Background(), signed(n))
			assertAppErrorKind(t, err, apperror.KindValidation)
			assert.Equal(t, domain.TransactionStatusPending, f.current(t).Status)
		})
	}
}

func TestReconciliationService_Reconcile_PendingRecordsFingerprintOnly(t *testing.T) {
	f := setupReconcile(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	res, err := f.svc.Reconcile(ctx, signed(webhook(domain.NotificationPending, t0)))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.TransactionStatusPending, res.Status)
	assert.NotNil(t, f.current(t).LastWebhookFingerprint)

	res, err = f.svc.Reconcile(ctx, signed(webhook(domain.NotificationCompleted, t0.Add(time.Second))))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.TransactionStatusCompleted, res.Status)

	f.dispatcher.Wait()
	assert.Len(t, f.notifier.Events(), 1, "only the status change is forwarded")
}

func TestReconciliationService_Reconcile_FailedCapturesReason(t *testing.T) {
	f := setupReconcile(t)
	n := webhook(domain.NotificationFailed, time.Now().UTC())
	n.FailureReason = "insufficient funds"

	res, err := f.svc.Reconcile(context.Background(), signed(n))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, res.Status)

	rec := f.current(t)
	require.NotNil(t, rec.FailureReason)
	assert.Equal(t, "insufficient funds", *rec.FailureReason)

	f.dispatcher.Wait()
	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].FailureReason)
	assert.Equal(t, "insufficient funds", *events[0].FailureReason)
}

func TestReconciliationService_Reconcile_DownstreamFailureDoesNotRollBack(t *testing.T) {
	f := setupReconcile(t)
	f.notifier.err = errors.New("ledger unavailable")

	res, err := f.svc.Reconcile(context.Background(), signed(webhook(domain.NotificationCompleted, time.Now())))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	f.dispatcher.Wait()
	assert.Len(t, f.notifier.Events(), 1)
	assert.Equal(t, domain.TransactionStatusCompleted, f.current(t).Status)
}

func TestReconciliationService_Reconcile_ConcurrentIdenticalWebhooks(t *testing.T) {
	f := setupReconcile(t)
	req := signed(webhook(domain.NotificationCompleted, time.Now().UTC()))

	var wg sync.WaitGroup
	var applied, replayed int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Reconcile(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			if res.Applied {
				atomic.AddInt32(&applied, 1)
			} else {
				atomic.AddInt32(&replayed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied)
	assert.Equal(t, int32(19), replayed)
	f.dispatcher.Wait()
	assert.Len(t, f.notifier.Events(), 1)
}

func TestReconciliationService_Reconcile_ConcurrentConflictingWebhooks(t *testing.T) {
	f := setupReconcile(t)
	t0 := time.Now().UTC()
	reqs := []ports.ReconcileRequest{
		signed(webhook(domain.NotificationCompleted, t0)),
		signed(webhook(domain.NotificationFailed, t0)),
	}

	var wg sync.WaitGroup
	var applied, conflicts int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(req ports.ReconcileRequest) {
			defer wg.Done()
			res, err := f.svc.Reconcile(context.Background(), req)
			switch {
			case err == nil && res.Applied:
				atomic.AddInt32(&applied, 1)
			case apperror.KindOf(err) == apperror.KindTerminalConflict:
				atomic.AddInt32(&conflicts, 1)
			}
		}(reqs[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied)
	assert.True(t, f.current(t).IsTerminal())
}

func TestReconciliationService_Reconcile_RetriesAfterStaleCompareAndSwap(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockTransactionStore(ctrl)
	svc := NewReconciliationService(store, NewHMACWebhookVerifier(testWebhookSecret),
		NewNotificationDispatcher(nil, nil, 0, zerolog.Nop()), NewAuditService(nil, zerolog.Nop()), zerolog.Nop())

	n := webhook(domain.NotificationCompleted, time.Now().UTC())
	fp := n.Fingerprint()
	pending := &domain.TransactionRecord{
		CorrelationID: "c1", UpstreamID: "U1", Amount: 500000, Currency: "KES",
		Status: domain.TransactionStatusPending,
	}
	applied := pending.Clone()
	applied.Status = domain.TransactionStatusCompleted
	applied.LastWebhookFingerprint = &fp

	gomock.InOrder(
		store.EXPECT().FindByUpstreamID(gomock.Any(), "U1").Return(pending, nil),
		store.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), nil).Return(domain.ErrStaleRecord),
		store.EXPECT().FindByUpstreamID(gomock.Any(), "U1").Return(applied, nil),
	)

	res, err := svc.Reconcile(context.Background(), signed(n))
	require.NoError(t, err)
	assert.False(t, res.Applied, "concurrent writer already applied the same notification")
}

func TestReconciliationService_Reconcile_GivesUpAfterRepeatedStaleness(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockTransactionStore(ctrl)
	svc := NewReconciliationService(store, NewHMACWebhookVerifier(testWebhookSecret),
		nil, NewAuditService(nil, zerolog.Nop()), zerolog.Nop())

	pending := &domain.TransactionRecord{
		CorrelationID: "c1", UpstreamID: "U1", Amount: 500000, Currency: "KES",
		Status: domain.TransactionStatusPending,
	}
	store.EXPECT().FindByUpstreamID(gomock.Any(), "U1").Return(pending, nil).Times(maxReconcileRounds)
	store.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.ErrStaleRecord).Times(maxReconcileRounds)

	_, err := svc.Reconcile(context.Background(), signed(webhook(domain.NotificationCompleted, time.Now())))
	appErr := assertAppErrorKind(t, err, apperror.KindInternal)
	assert.ErrorIs(t, appErr, domain.ErrStaleRecord)
}
