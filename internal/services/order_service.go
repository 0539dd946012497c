package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/agamariel/printdesk/internal/payment"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderService определяет операции жизненного цикла заказа и расчётов по нему.
type OrderService interface {
	SubmitOrder(ctx context.Context, userID uuid.UUID, req *models.SubmitOrderRequest) (*models.SubmitOrderResponse, error)
	GetOrder(ctx context.Context, viewer models.Viewer, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, viewer models.Viewer) (*models.OrderListResponse, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (*models.Order, error)
	UpdateShipping(ctx context.Context, orderID uuid.UUID, req *models.ShippingUpdateRequest) (*models.Order, error)
	RequestEdit(ctx context.Context, viewer models.Viewer, orderID uuid.UUID, req *models.EditRequest) (*models.EditResponse, error)
	RequestCancellation(ctx context.Context, viewer models.Viewer, orderID uuid.UUID) (*models.CancelResponse, error)
	RequestRefund(ctx context.Context, viewer models.Viewer, orderID uuid.UUID, reason string) (*models.Order, error)
	ResolvePendingUpdate(ctx context.Context, orderID uuid.UUID, raw json.RawMessage) (*models.PendingUpdate, error)
	SettleRefund(ctx context.Context, viewer models.Viewer, orderID uuid.UUID, method models.RefundMethod, bankDetails json.RawMessage, staged *models.PendingUpdate) (*models.Receipt, error)
	OnPaymentConfirmed(ctx context.Context, conf *models.PaymentConfirmation) (*models.Order, error)
}

// OrderServiceDeps зависимости сервиса заказов. Gateway и Conversations необязательны.
type OrderServiceDeps struct {
	Orders        OrderStorage
	Ledger        LedgerStorage
	Staging       staging.Store
	Gateway       payment.Gateway
	Notifier      notify.Notifier
	Conversations ConversationCloser
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// OrderServiceImpl реализует OrderService.
type OrderServiceImpl struct {
	orders        OrderStorage
	ledger        LedgerStorage
	staging       staging.Store
	gateway       payment.Gateway
	conversations ConversationCloser
	metrics       *metrics.Metrics
	logger        *slog.Logger
	events        eventSink
	clock         func() time.Time
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(deps OrderServiceDeps) *OrderServiceImpl {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "orders")
	m := deps.Metrics
	if m == nil {
		m = metrics.New("printdesk")
	}
	store := deps.Staging
	if store == nil {
		store = staging.NewMemoryStore()
	}
	return &OrderServiceImpl{
		orders:        deps.Orders,
		ledger:        deps.Ledger,
		staging:       store,
		gateway:       deps.Gateway,
		conversations: deps.Conversations,
		metrics:       m,
		logger:        logger,
		events:        eventSink{notifier: deps.Notifier, metrics: m, logger: logger},
		clock:         utcClock(deps.Now),
	}
}

// SetConversationCloser подключает закрытие обращений после завершения заказа.
func (s *OrderServiceImpl) SetConversationCloser(c ConversationCloser) {
	s.conversations = c
}

// SubmitOrder создаёт заказ в статусе submitted.
// Оплата с баланса списывается сразу, оплата через шлюз остаётся on_hold до подтверждения.
func (s *OrderServiceImpl) SubmitOrder(ctx context.Context, userID uuid.UUID, req *models.SubmitOrderRequest) (*models.SubmitOrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidRequest("%v", err)
	}

	now := s.clock()
	order := &models.Order{
		ID:              uuid.New(),
		UserID:          userID,
		ProjectID:       req.ProjectID,
		Status:          models.OrderStatusSubmitted,
		PaymentStatus:   models.PaymentStatusOnHold,
		Price:           models.RoundMoney(req.Price),
		PaidAmount:      decimal.Zero,
		Parameters:      req.Parameters,
		ShippingMethod:  req.ShippingMethod,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.PaymentPath == models.PaymentPathStoreCredit {
		debit := &models.LedgerEntry{
			UserID:    userID,
			OrderID:   &order.ID,
			Reference: models.PaymentReference(order.ID),
			Kind:      models.LedgerKindDebit,
			Amount:    order.Price.Neg(),
			CreatedAt: now,
		}
		if err := s.ledger.Append(ctx, debit); err != nil {
			return nil, fmt.Errorf("charge store credit: %w", err)
		}
		order.PaidAmount = order.Price
		order.PaymentStatus = models.PaymentStatusPaid
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if req.PaymentPath == models.PaymentPathStoreCredit {
			s.reverseDebit(ctx, order)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order submitted", "order_id", order.ID, "user_id", userID, "payment_path", req.PaymentPath)
	s.events.emit(ctx, notify.EventOrderStatusChanged, order.ID, order.UserID, now,
		map[string]any{"to": order.Status})

	resp := &models.SubmitOrderResponse{Order: models.NewOrderResponse(order)}
	if req.PaymentPath == models.PaymentPathGateway {
		resp.RedirectURL, resp.Warning = s.redirect(ctx, order)
	}
	return resp, nil
}

func (s *OrderServiceImpl) redirect(ctx context.Context, order *models.Order) (string, string) {
	if s.gateway == nil {
		return "", "payment gateway is not configured, pay later from the order page"
	}
	url, err := s.gateway.CreateRedirect(ctx, order)
	if err != nil {
		s.logger.Warn("payment redirect failed", "order_id", order.ID, "error", err)
		return "", "payment gateway is unavailable, pay later from the order page"
	}
	return url, ""
}

// reverseDebit возвращает списание, если заказ не удалось сохранить.
func (s *OrderServiceImpl) reverseDebit(ctx context.Context, order *models.Order) {
	entry := &models.LedgerEntry{
		UserID:    order.UserID,
		OrderID:   &order.ID,
		Reference: "reversal:" + order.ID.String(),
		Kind:      models.LedgerKindCredit,
		Amount:    order.Price,
		CreatedAt: s.clock(),
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger.Error("failed to reverse store credit debit", "order_id", order.ID, "error", err)
	}
}

// GetOrder возвращает заказ. Клиент видит только свои заказы.
func (s *OrderServiceImpl) GetOrder(ctx context.Context, viewer models.Viewer, orderID uuid.UUID) (*models.Order, error) {
	return s.load(ctx, viewer, orderID)
}

// ListOrders возвращает снимок заказов: свои для клиента, все для сотрудника.
func (s *OrderServiceImpl) ListOrders(ctx context.Context, viewer models.Viewer) (*models.OrderListResponse, error) {
	var (
		orders []*models.Order
		err    error
	)
	if viewer.IsStaff() {
		orders, err = s.orders.ListAll(ctx)
	} else {
		orders, err = s.orders.ListByUser(ctx, viewer.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	resp := &models.OrderListResponse{
		ServerTime: s.clock(),
		Orders:     make([]*models.OrderResponse, 0, len(orders)),
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, models.NewOrderResponse(o))
	}
	return resp, nil
}

// UpdateStatus меняет статус заказа по запросу сотрудника.
// Недопустимый переход отклоняется без записи. Переход в suspended выполняет отмену с возвратом.
func (s *OrderServiceImpl) UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	if to == models.OrderStatusSuspended {
		updated, _, err := s.cancel(ctx, order, "cancelled by staff")
		return updated, err
	}
	if order.Status == to {
		return order, nil
	}

	var discarded bool
	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		if to == models.OrderStatusOnHold || to == models.OrderStatusRefundRequested {
			return holdStatus(o, to)
		}
		if err := models.ValidateStatusTransition(o, to); err != nil {
			return err
		}
		if isHold(o.Status) {
			o.PriorStatus = nil
			if o.PendingUpdateID != nil {
				// снятие с удержания отменяет подготовленное изменение
				o.ClearRefund()
				discarded = true
			}
			o.RefundReason = nil
		}
		o.Status = to
		return syncCoverage(o)
	})
	if err != nil {
		return nil, err
	}
	if discarded {
		s.clearStaged(ctx, orderID)
	}
	if updated.Status.Terminal() {
		s.closeConversation(ctx, updated)
	}
	return updated, nil
}

// UpdateShipping обновляет способ, адрес доставки и трек-номер.
func (s *OrderServiceImpl) UpdateShipping(ctx context.Context, orderID uuid.UUID, req *models.ShippingUpdateRequest) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return s.mutate(ctx, order, func(o *models.Order) error {
		if req.ShippingMethod != nil {
			o.ShippingMethod = *req.ShippingMethod
		}
		if req.ShippingAddress != nil {
			o.ShippingAddress = req.ShippingAddress
		}
		if req.TrackingCode != nil {
			o.TrackingCode = req.TrackingCode
			if *req.TrackingCode == "" {
				o.TrackingCode = nil
			}
		}
		return nil
	})
}

// RequestEdit пересчитывает цену после изменения параметров.
// Снижение цены оплаченного заказа подготавливает возврат разницы и ставит заказ на удержание;
// в остальных случаях изменение применяется сразу.
func (s *OrderServiceImpl) RequestEdit(ctx context.Context, viewer models.Viewer, orderID uuid.UUID, req *models.EditRequest) (*models.EditResponse, error) {
	if !req.NewPrice.IsPositive() {
		return nil, invalidRequest("new price must be positive")
	}
	newPrice := models.RoundMoney(req.NewPrice)

	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(order); err != nil {
		return nil, err
	}

	if newPrice.LessThan(order.Price) && fullyPaid(order) {
		return s.stageEdit(ctx, order, newPrice, req.Parameters)
	}

	superseded := order.PendingUpdateID != nil
	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		o.Price = newPrice
		if req.Parameters != nil {
			o.Parameters = req.Parameters
		}
		if superseded {
			o.ClearRefund()
			if o.Status == models.OrderStatusOnHold {
				if err := releaseHold(o); err != nil {
					return err
				}
			}
		}
		return syncCoverage(o)
	})
	if err != nil {
		return nil, err
	}
	if superseded {
		s.clearStaged(ctx, orderID)
	}

	s.logger.Info("order edit applied", "order_id", orderID, "price", newPrice)
	return &models.EditResponse{
		Order:        models.NewOrderResponse(updated),
		RefundAmount: decimal.Zero,
		Applied:      true,
	}, nil
}

func (s *OrderServiceImpl) stageEdit(ctx context.Context, order *models.Order, newPrice decimal.Decimal, params json.RawMessage) (*models.EditResponse, error) {
	refund := order.Price.Sub(newPrice)
	pu := &models.PendingUpdate{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Kind:          models.PendingUpdateEdit,
		NewPrice:      &newPrice,
		NewParameters: params,
		RefundAmount:  refund,
		CreatedAt:     s.clock(),
	}

	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		if err := holdStatus(o, models.OrderStatusOnHold); err != nil {
			return err
		}
		if err := setPayment(o, models.PaymentStatusOnHold); err != nil {
			return err
		}
		o.ClearRefund()
		o.RefundAmount = &refund
		o.PendingUpdateID = &pu.ID
		o.PendingPrice = &newPrice
		o.PendingParameters = params
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stage(ctx, pu)
	s.logger.Info("order edit staged", "order_id", order.ID, "update_id", pu.ID, "refund", refund)
	s.events.emit(ctx, notify.EventEditStaged, order.ID, order.UserID, pu.CreatedAt,
		map[string]any{"update_id": pu.ID, "refund_amount": refund})

	return &models.EditResponse{
		Order:         models.NewOrderResponse(updated),
		RefundAmount:  refund,
		PendingUpdate: pu,
	}, nil
}

// RequestCancellation отменяет заказ: статус suspended, к возврату вся оплаченная сумма.
// Повторный вызов для отменённого заказа возвращает текущее состояние.
func (s *OrderServiceImpl) RequestCancellation(ctx context.Context, viewer models.Viewer, orderID uuid.UUID) (*models.CancelResponse, error) {
	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	updated, pu, err := s.cancel(ctx, order, "cancelled by customer")
	if err != nil {
		return nil, err
	}
	return &models.CancelResponse{
		Order:         models.NewOrderResponse(updated),
		RefundAmount:  derefAmount(updated.RefundAmount),
		PendingUpdate: pu,
	}, nil
}

// cancel выполняет отмену и возвращает заказ вместе с подготовленным возвратом (nil, если возвращать нечего).
func (s *OrderServiceImpl) cancel(ctx context.Context, order *models.Order, reason string) (*models.Order, *models.PendingUpdate, error) {
	if order.Status == models.OrderStatusSuspended {
		pu, err := s.staging.LoadOrderUpdate(ctx, order.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load staged update: %w", err)
		}
		if pu != nil && (order.PendingUpdateID == nil || *order.PendingUpdateID != pu.ID) {
			pu = nil
		}
		return order, pu, nil
	}

	if order.PaymentStatus == models.PaymentStatusRefunding ||
		(order.PaymentStatus == models.PaymentStatusRefunded && order.PaidAmount.IsPositive()) {
		return nil, nil, &models.TransitionError{
			Entity: "payment status",
			From:   string(order.PaymentStatus),
			To:     string(models.PaymentStatusRefunding),
			Reason: "a refund for this order is already being processed",
		}
	}

	refund := order.PaidAmount
	var pu *models.PendingUpdate
	if refund.IsPositive() {
		pu = &models.PendingUpdate{
			ID:           uuid.New(),
			OrderID:      order.ID,
			Kind:         models.PendingUpdateCancel,
			RefundAmount: refund,
			Reason:       reason,
			CreatedAt:    s.clock(),
		}
	}

	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		if err := models.ValidateStatusTransition(o, models.OrderStatusSuspended); err != nil {
			return err
		}
		o.Status = models.OrderStatusSuspended
		o.PriorStatus = nil
		o.ClearRefund()
		if pu == nil {
			return nil
		}
		if err := setPayment(o, models.PaymentStatusRefunding); err != nil {
			return err
		}
		o.RefundAmount = &refund
		o.RefundReason = &reason
		o.PendingUpdateID = &pu.ID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if pu != nil {
		s.stage(ctx, pu)
	} else {
		s.clearStaged(ctx, order.ID)
		s.closeConversation(ctx, updated)
	}

	s.logger.Info("order cancelled", "order_id", order.ID, "refund", refund, "reason", reason)
	s.events.emit(ctx, notify.EventOrderCancelled, order.ID, order.UserID, updated.UpdatedAt,
		map[string]any{"refund_amount": refund, "reason": reason})

	return updated, pu, nil
}

// RequestRefund переводит заказ в refund_requested до решения сотрудника.
func (s *OrderServiceImpl) RequestRefund(ctx context.Context, viewer models.Viewer, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusRefundRequested {
		return order, nil
	}

	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		if err := holdStatus(o, models.OrderStatusRefundRequested); err != nil {
			return err
		}
		if reason != "" {
			o.RefundReason = &reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.emit(ctx, notify.EventRefundRequested, order.ID, order.UserID, updated.UpdatedAt,
		map[string]any{"reason": reason})
	return updated, nil
}

// OnPaymentConfirmed обрабатывает подтверждение от платёжного шлюза:
// захват оплаты для on_hold и завершение внешнего возврата для refunding.
// Подтверждение с уже обработанным TransactionID ничего не меняет.
func (s *OrderServiceImpl) OnPaymentConfirmed(ctx context.Context, conf *models.PaymentConfirmation) (*models.Order, error) {
	if conf.TransactionID == "" {
		return nil, invalidRequest("transaction id is required")
	}
	if !conf.Amount.IsPositive() {
		return nil, invalidRequest("amount must be positive")
	}
	amount := models.RoundMoney(conf.Amount)

	order, err := s.orders.GetByID(ctx, conf.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.HasTransaction(conf.TransactionID) {
		s.logger.Info("duplicate payment confirmation ignored", "order_id", order.ID, "transaction_id", conf.TransactionID)
		return order, nil
	}

	switch {
	case order.PaymentStatus == models.PaymentStatusOnHold:
		return s.capture(ctx, order, conf.TransactionID, amount)
	case order.PaymentStatus == models.PaymentStatusRefunding && order.RefundMethod != nil && order.RefundMethod.External():
		return s.confirmExternalRefund(ctx, order, conf.TransactionID)
	case order.PaymentStatus == models.PaymentStatusRefunding && order.Status == models.OrderStatusSuspended:
		// оплата дошла после отмены: возврат пересчитывается на всю сумму
		return s.capture(ctx, order, conf.TransactionID, amount)
	}

	s.logger.Info("payment confirmation ignored", "order_id", order.ID, "payment_status", order.PaymentStatus)
	return order, nil
}

func (s *OrderServiceImpl) capture(ctx context.Context, order *models.Order, txID string, amount decimal.Decimal) (*models.Order, error) {
	var pu *models.PendingUpdate
	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		o.Transactions = append(o.Transactions, txID)
		o.PaidAmount = o.PaidAmount.Add(amount)
		if o.Status != models.OrderStatusSuspended {
			return syncCoverage(o)
		}
		if err := setPayment(o, models.PaymentStatusRefunding); err != nil {
			return err
		}
		refund := o.PaidAmount
		pu = &models.PendingUpdate{
			ID:           uuid.New(),
			OrderID:      o.ID,
			Kind:         models.PendingUpdateCancel,
			RefundAmount: refund,
			Reason:       "payment captured after cancellation",
			CreatedAt:    s.clock(),
		}
		o.ClearPendingEdit()
		o.RefundAmount = &refund
		o.RefundReason = &pu.Reason
		o.PendingUpdateID = &pu.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pu != nil {
		s.stage(ctx, pu)
	}

	s.logger.Info("payment captured", "order_id", order.ID, "transaction_id", txID, "amount", amount, "paid", updated.PaidAmount)
	return updated, nil
}

func (s *OrderServiceImpl) confirmExternalRefund(ctx context.Context, order *models.Order, txID string) (*models.Order, error) {
	method := *order.RefundMethod
	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		if err := setPayment(o, models.PaymentStatusRefunded); err != nil {
			return err
		}
		o.Transactions = append(o.Transactions, txID)
		o.ClearRefund()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("external refund confirmed", "order_id", order.ID, "transaction_id", txID, "method", method)
	if updated.Status.Terminal() {
		s.closeConversation(ctx, updated)
	}
	return updated, nil
}

// load читает заказ и проверяет доступ.
func (s *OrderServiceImpl) load(ctx context.Context, viewer models.Viewer, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !viewer.IsStaff() && order.UserID != viewer.UserID {
		return nil, ErrForbidden
	}
	return order, nil
}

// mutate применяет изменения к копии заказа и сохраняет её с проверкой версии.
// Ошибка в fn не приводит к записи.
func (s *OrderServiceImpl) mutate(ctx context.Context, order *models.Order, fn func(o *models.Order) error) (*models.Order, error) {
	updated := order.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := models.CheckConsistency(updated); err != nil {
		return nil, err
	}

	updated.UpdatedAt = s.clock()
	if !updated.UpdatedAt.After(order.UpdatedAt) {
		updated.UpdatedAt = order.UpdatedAt.Add(time.Microsecond)
	}
	if err := s.orders.Update(ctx, updated, order.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	s.recordTransitions(ctx, order, updated)
	return updated, nil
}

func (s *OrderServiceImpl) recordTransitions(ctx context.Context, before, after *models.Order) {
	if before.Status != after.Status {
		s.metrics.StatusTransitions.WithLabelValues(string(after.Status)).Inc()
		s.events.emit(ctx, notify.EventOrderStatusChanged, after.ID, after.UserID, after.UpdatedAt,
			map[string]any{"from": before.Status, "to": after.Status})
	}
	if before.PaymentStatus != after.PaymentStatus {
		s.metrics.PaymentTransitions.WithLabelValues(string(after.PaymentStatus)).Inc()
		s.events.emit(ctx, notify.EventPaymentChanged, after.ID, after.UserID, after.UpdatedAt,
			map[string]any{"from": before.PaymentStatus, "to": after.PaymentStatus})
	}
}

func (s *OrderServiceImpl) stage(ctx context.Context, pu *models.PendingUpdate) {
	if err := s.staging.SaveOrderUpdate(ctx, pu); err != nil {
		// клиент получил команду в ответе и может передать её явно
		s.logger.Error("failed to stage pending update", "order_id", pu.OrderID, "update_id", pu.ID, "error", err)
	}
}

func (s *OrderServiceImpl) clearStaged(ctx context.Context, orderID uuid.UUID) {
	if err := s.staging.ClearOrderUpdate(ctx, orderID); err != nil {
		s.logger.Warn("failed to clear staged update", "order_id", orderID, "error", err)
	}
}

func (s *OrderServiceImpl) closeConversation(ctx context.Context, order *models.Order) {
	if s.conversations == nil {
		return
	}
	if err := s.conversations.CloseForOrder(ctx, order.ID); err != nil {
		// обращение закроет фоновый обход
		s.logger.Warn("failed to close conversation", "order_id", order.ID, "error", err)
	}
}

func isHold(status models.OrderStatus) bool {
	return status == models.OrderStatusOnHold || status == models.OrderStatusRefundRequested
}

// holdStatus переводит заказ на удержание, запоминая производственный статус.
func holdStatus(o *models.Order, to models.OrderStatus) error {
	if err := models.ValidateStatusTransition(o, to); err != nil {
		return err
	}
	if o.Status == to {
		return nil
	}
	if !isHold(o.Status) {
		from := o.Status
		o.PriorStatus = &from
	}
	o.Status = to
	return nil
}

func releaseHold(o *models.Order) error {
	if o.PriorStatus == nil {
		return &models.TransitionError{
			Entity: "order",
			From:   string(o.Status),
			Reason: "no status to restore",
		}
	}
	if err := models.ValidateStatusTransition(o, *o.PriorStatus); err != nil {
		return err
	}
	o.Status = *o.PriorStatus
	o.PriorStatus = nil
	return nil
}

func setPayment(o *models.Order, to models.PaymentStatus) error {
	if err := models.ValidatePaymentTransition(o.Status, o.PaymentStatus, to); err != nil {
		return err
	}
	o.PaymentStatus = to
	return nil
}

func fullyPaid(o *models.Order) bool {
	return o.PaidAmount.IsPositive() && o.PaidAmount.GreaterThanOrEqual(o.Price)
}

// syncCoverage приводит статус оплаты к оплаченной сумме: полная оплата - paid,
// недоплата после повышения цены - снова on_hold.
func syncCoverage(o *models.Order) error {
	switch o.PaymentStatus {
	case models.PaymentStatusOnHold:
		if fullyPaid(o) && !isHold(o.Status) && o.Status != models.OrderStatusSuspended {
			return setPayment(o, models.PaymentStatusPaid)
		}
	case models.PaymentStatusPaid:
		if o.PaidAmount.LessThan(o.Price) {
			return setPayment(o, models.PaymentStatusOnHold)
		}
	}
	return nil
}

func checkEditable(o *models.Order) error {
	if o.Status.Terminal() || o.Status == models.OrderStatusRefundRequested {
		return &models.TransitionError{
			Entity: "order",
			From:   string(o.Status),
			To:     "edit",
			Reason: "order can no longer be edited",
		}
	}
	if o.PaymentStatus == models.PaymentStatusRefunding || o.PaymentStatus == models.PaymentStatusRefunded {
		return &models.TransitionError{
			Entity: "payment status",
			From:   string(o.PaymentStatus),
			To:     "edit",
			Reason: "a refund for this order is already being processed",
		}
	}
	return nil
}

func derefAmount(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

var _ OrderService = (*OrderServiceImpl)(nil)
