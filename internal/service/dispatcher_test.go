package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testEvent() domain.StatusChangeEvent {
	return domain.StatusChangeEvent{
		CorrelationID: "c1",
		UpstreamID:    "U1",
		Status:        domain.TransactionStatusCompleted,
		Amount:        500000,
		Currency:      "KES",
		Timestamp:     time.Now().UTC(),
	}
}

func TestNotificationDispatcher_Dispatch_Delivered(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	notifier := mocks.NewMockDownstreamNotifier(ctrl)
	audit := mocks.NewMockAuditService(ctrl)
	d := NewNotificationDispatcher(notifier, audit, time.Second, newTestLogger())

	notifier.EXPECT().Name().Return("http").AnyTimes()
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, ev domain.StatusChangeEvent) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "delivery must be bounded")
			assert.Equal(t, "c1", ev.CorrelationID)
			return nil
		},
	)
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionDownstreamDelivery, entry.Action)
		assert.Equal(t, "http", entry.Details["notifier"])
	})

	d.Dispatch(testEvent())
	d.Wait()
}

func TestNotificationDispatcher_Dispatch_FailureAuditedNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	notifier := mocks.NewMockDownstreamNotifier(ctrl)
	audit := mocks.NewMockAuditService(ctrl)
	d := NewNotificationDispatcher(notifier, audit, time.Second, newTestLogger())

	notifier.EXPECT().Name().Return("amqp").AnyTimes()
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("channel closed")).Times(1)
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionDownstreamFailed, entry.Action)
		assert.Equal(t, "channel closed", entry.Details["error"])
	})

	d.Dispatch(testEvent())
	d.Wait()
}

func TestNotificationDispatcher_Dispatch_DoesNotBlockCaller(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	release := make(chan struct{})
	notifier := mocks.NewMockDownstreamNotifier(ctrl)
	notifier.EXPECT().Name().Return("slow").AnyTimes()
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.StatusChangeEvent) error {
			<-release
			return nil
		},
	)
	d := NewNotificationDispatcher(notifier, nil, time.Second, newTestLogger())

	start := time.Now()
	d.Dispatch(testEvent())
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	close(release)
	d.Wait()
}

func TestNotificationDispatcher_NilNotifierIsNoop(t *testing.T) {
	d := NewNotificationDispatcher(nil, nil, 0, newTestLogger())
	d.Dispatch(testEvent())
	d.Wait()

	var nilDispatcher *NotificationDispatcher
	nilDispatcher.Dispatch(testEvent())
	nilDispatcher.Wait()
}
