package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/google/uuid"
)

// eventSink отправляет уведомления без влияния на результат операции:
// ошибка доставки только логируется и учитывается в метриках.
type eventSink struct {
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func (e eventSink) emit(ctx context.Context, name string, orderID, userID uuid.UUID, at time.Time, payload any) {
	if e.notifier == nil {
		return
	}
	event := notify.Event{
		Name:       name,
		OrderID:    &orderID,
		UserID:     &userID,
		Payload:    payload,
		OccurredAt: at,
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.metrics.NotifyFailures.WithLabelValues(name).Inc()
		e.logger.Warn("notification failed", "event", name, "order_id", orderID, "error", err)
	}
}

func utcClock(now func() time.Time) func() time.Time {
	if now == nil {
		now = time.Now
	}
	// микросекунды: точность timestamptz в PostgreSQL
	return func() time.Time {
		return now().UTC().Truncate(time.Microsecond)
	}
}
