package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/notify"
)

// LifecycleWorker периодически доводит до конца прерванные шаги:
// закрывает обращения по завершённым заказам и сообщает о возвратах,
// которые слишком долго ждут подтверждения шлюза. Состояние возвратов он не меняет.
type LifecycleWorker struct {
	orders        OrderStorage
	conversations ConversationStorage
	closer        ConversationCloser
	events        eventSink
	metrics       *metrics.Metrics
	interval      time.Duration
	staleAfter    time.Duration
	logger        *slog.Logger
	clock         func() time.Time
}

func NewLifecycleWorker(orders OrderStorage, conversations ConversationStorage, closer ConversationCloser, notifier notify.Notifier, m *metrics.Metrics, interval, staleAfter time.Duration, logger *slog.Logger) *LifecycleWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 72 * time.Hour
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if m == nil {
		m = metrics.New("printdesk")
	}
	logger = logger.With("component", "lifecycle")
	return &LifecycleWorker{
		orders:        orders,
		conversations: conversations,
		closer:        closer,
		events:        eventSink{notifier: notifier, metrics: m, logger: logger},
		metrics:       m,
		interval:      interval,
		staleAfter:    staleAfter,
		logger:        logger,
		clock:         utcClock(nil),
	}
}

// Start запускает воркер в отдельной горутине и останавливается по ctx.Done().
func (w *LifecycleWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		if err := w.Sweep(ctx); err != nil {
			w.logger.Error("lifecycle sweep failed on start", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Sweep(ctx); err != nil {
					w.logger.Error("lifecycle sweep failed", "error", err)
				}
			}
		}
	}()
}

// Sweep выполняет один обход.
func (w *LifecycleWorker) Sweep(ctx context.Context) error {
	if err := w.closeFinished(ctx); err != nil {
		return err
	}
	return w.reportStaleRefunds(ctx)
}

func (w *LifecycleWorker) closeFinished(ctx context.Context) error {
	convs, err := w.conversations.ListOpenForTerminalOrders(ctx)
	if err != nil {
		return err
	}
	if len(convs) > 0 {
		w.logger.Info("closing conversations of finished orders", "count", len(convs))
	}
	for _, c := range convs {
		if err := w.closer.CloseForOrder(ctx, c.OrderID); err != nil {
			w.logger.Warn("close conversation failed", "conversation_id", c.ID, "order_id", c.OrderID, "error", err)
		}
	}
	return nil
}

func (w *LifecycleWorker) reportStaleRefunds(ctx context.Context) error {
	now := w.clock()
	orders, err := w.orders.ListStaleRefunds(ctx, now.Add(-w.staleAfter))
	if err != nil {
		return err
	}
	w.metrics.StaleRefunds.Set(float64(len(orders)))

	for _, o := range orders {
		var waiting time.Duration
		if o.RefundingSince != nil {
			waiting = now.Sub(*o.RefundingSince)
		}
		w.logger.Warn("refund awaiting gateway confirmation", "order_id", o.ID, "method", o.RefundMethod, "waiting", waiting)
		w.events.emit(ctx, notify.EventRefundStale, o.ID, o.UserID, now, map[string]any{
			"refund_amount": o.RefundAmount,
			"waiting":       waiting.String(),
		})
	}
	return nil
}
