package service

import (
	"context"
	"sync"
	"time"

	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports"

	"github.com/rs/zerolog"
)

const defaultDispatchTimeout = 10 * time.Second

// NotificationDispatcher forwards applied status changes to the downstream
// system of record in the background. Delivery is attempted once; failures
// are logged and audited but never roll back the applied transition.
type NotificationDispatcher struct {
	notifier ports.DownstreamNotifier
	audit    ports.AuditService
	timeout  time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewNotificationDispatcher creates a dispatcher. A nil notifier disables forwarding.
func NewNotificationDispatcher(notifier ports.DownstreamNotifier, audit ports.AuditService, timeout time.Duration, log zerolog.Logger) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &NotificationDispatcher{
		notifier: notifier,
		audit:    audit,
		timeout:  timeout,
		log:      log,
	}
}

// Dispatch delivers event asynchronously and returns immediately.
func (d *NotificationDispatcher) Dispatch(event domain.StatusChangeEvent) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(event)
	}()
}

// Wait blocks until every in-flight delivery has finished.
func (d *NotificationDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *NotificationDispatcher) deliver(event domain.StatusChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := d.notifier.Notify(ctx, event)
	logEvt := d.log.Info()
	action := domain.AuditActionDownstreamDelivery
	details := map[string]any{
		"notifier": d.notifier.Name(),
		"status":   string(event.Status),
	}
	if err != nil {
		logEvt = d.log.Error().Err(err)
		action = domain.AuditActionDownstreamFailed
		details["error"] = err.Error()
	}

	logEvt.
		Str("correlation_id", event.CorrelationID).
		Str("upstream_id", event.UpstreamID).
		Str("status", string(event.Status)).
		Str("notifier", d.notifier.Name()).
		Dur("duration", time.Since(start)).
		Msg("downstream notification")

	if d.audit != nil {
		d.audit.Log(ctx, &domain.AuditLog{
			Action:        action,
			CorrelationID: event.CorrelationID,
			UpstreamID:    event.UpstreamID,
			Details:       details,
		})
	}
}
