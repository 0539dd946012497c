package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Имена событий, которые публикует сервис.
const (
	EventOrderStatusChanged  = "order.status_changed"
	EventPaymentChanged      = "order.payment_changed"
	EventEditStaged          = "order.edit_staged"
	EventOrderCancelled      = "order.cancelled"
	EventRefundRequested     = "order.refund_requested"
	EventRefundSettled       = "refund.settled"
	EventRefundStale         = "refund.stale"
	EventConversationClosed  = "conversation.closed"
	EventConversationMessage = "conversation.message"
)

// Event уведомление о событии в системе.
type Event struct {
	Name       string     `json:"name"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Payload    any        `json:"payload,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Notifier доставляет события подписчикам.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier пишет события в лог. Используется без брокера.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("event", "name", event.Name, "order_id", event.OrderID, "user_id", event.UserID)
	return nil
}
