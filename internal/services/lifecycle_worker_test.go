package services

import (
	"context"
	"testing"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) worker() *LifecycleWorker {
	w := NewLifecycleWorker(f.store.Orders, f.store.Conversations, f.convs, f.notifier, f.metrics, 10*time.Millisecond, 72*time.Hour, nil)
	w.clock = f.clock
	return w
}

func TestLifecycleWorker_ClosesConversationsOfFinishedOrders(t *testing.T) {
	f := newFixture(t)
	order := f.submit(10, "")
	conv := f.openConversation(order, "where is it?")

	// заказ завершён, но обращение не закрыто: прерванный шаг
	finished := order.Clone()
	finished.Status = models.OrderStatusDelivered
	finished.UpdatedAt = order.UpdatedAt.Add(time.Second)
	require.NoError(t, f.store.Orders.Update(f.ctx, finished, order.UpdatedAt))

	require.NoError(t, f.worker().Sweep(f.ctx))

	current, err := f.convs.GetConversation(f.ctx, f.staff, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationClosed, current.Status)

	// повторный обход ничего не добавляет
	require.NoError(t, f.worker().Sweep(f.ctx))
	msgs, err := f.convs.ListMessages(f.ctx, f.staff, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs.Messages, 2)
}

func TestLifecycleWorker_ReportsStaleRefunds(t *testing.T) {
	f := newFixture(t)
	order := f.submitPaid(55, "")
	cancel, err := f.orders.RequestCancellation(f.ctx, f.customer, order.ID)
	require.NoError(t, err)
	_, err = f.orders.SettleRefund(f.ctx, f.customer, order.ID, models.RefundMethodOriginal, nil, cancel.PendingUpdate)
	require.NoError(t, err)

	w := f.worker()
	require.NoError(t, w.Sweep(f.ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.StaleRefunds))

	f.advance(73 * time.Hour)
	require.NoError(t, w.Sweep(f.ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StaleRefunds))
	assert.Contains(t, f.notifier.names(), notify.EventRefundStale)

	got := f.get(order.ID)
	assert.Equal(t, models.PaymentStatusRefunding, got.PaymentStatus, "stale refunds are reported, not changed")

	_, err = f.orders.OnPaymentConfirmed(f.ctx, &models.PaymentConfirmation{OrderID: order.ID, TransactionID: "refund-" + order.ID.String(), Amount: dec(55)})
	require.NoError(t, err)
	require.NoError(t, w.Sweep(f.ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.StaleRefunds))
}

func TestLifecycleWorker_Start(t *testing.T) {
	f := newFixture(t)
	order := f.submit(10, "")
	conv := f.openConversation(order, "")

	finished := order.Clone()
	finished.Status = models.OrderStatusSuspended
	finished.UpdatedAt = order.UpdatedAt.Add(time.Second)
	require.NoError(t, f.store.Orders.Update(f.ctx, finished, order.UpdatedAt))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.worker().Start(ctx)

	require.Eventually(t, func() bool {
		c, err := f.store.Conversations.GetByID(context.Background(), conv.ID)
		return err == nil && c.Status == models.ConversationClosed
	}, time.Second, 10*time.Millisecond)
}
