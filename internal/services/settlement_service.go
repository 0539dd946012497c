package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/agamariel/printdesk/internal/payment"
	"github.com/agamariel/printdesk/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolvePendingUpdate выбирает подготовленное изменение: переданное клиентом явно
// или сохранённое на сервере. Отсутствие - nil без ошибки, повреждённые данные - ошибка.
func (s *OrderServiceImpl) ResolvePendingUpdate(ctx context.Context, orderID uuid.UUID, raw json.RawMessage) (*models.PendingUpdate, error) {
	pu, err := models.DecodePendingUpdate(raw)
	if err != nil {
		return nil, err
	}
	if pu != nil {
		return pu, nil
	}
	pu, err = s.staging.LoadOrderUpdate(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load staged update: %w", err)
	}
	return pu, nil
}

// SettleRefund завершает подготовленный возврат выбранным способом.
//
// Шаги выполняются в фиксированном порядке и безопасны при повторе:
// запись в журнал баланса (или запрос во внешнюю систему), затем заказ, затем обращение.
// Повторный вызов для уже урегулированной команды ничего не меняет.
// Присланная команда только выбирает, что урегулировать: суммы и цена берутся из заказа.
func (s *OrderServiceImpl) SettleRefund(ctx context.Context, viewer models.Viewer, orderID uuid.UUID, method models.RefundMethod, bankDetails json.RawMessage, claimed *models.PendingUpdate) (*models.Receipt, error) {
	if !method.Valid() {
		return nil, invalidRequest("unknown refund method %q", method)
	}
	if method == models.RefundMethodBank && len(bankDetails) == 0 {
		return nil, invalidRequest("bank details are required for a bank refund")
	}
	if claimed == nil || claimed.OrderID != orderID {
		return nil, ErrStalePendingUpdate
	}

	order, err := s.load(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}

	if order.SettledUpdateID != nil && *order.SettledUpdateID == claimed.ID {
		return s.settledReceipt(ctx, order, claimed, method), nil
	}
	staged, err := serverUpdate(order, claimed)
	if err != nil {
		return nil, err
	}

	var entryID *uuid.UUID
	if method == models.RefundMethodCredit {
		entryID, err = s.creditRefund(ctx, order, staged)
	} else {
		err = s.requestExternalRefund(ctx, order, staged, method, bankDetails)
	}
	if err != nil {
		return nil, err
	}

	now := s.clock()
	updated, err := s.mutate(ctx, order, func(o *models.Order) error {
		return applySettlement(o, staged, method, bankDetails, now)
	})
	if err != nil {
		return nil, err
	}

	s.clearStaged(ctx, orderID)
	s.metrics.RefundsSettled.WithLabelValues(string(method)).Inc()
	s.logger.Info("refund settled", "order_id", orderID, "update_id", staged.ID,
		"method", method, "amount", staged.RefundAmount, "payment_status", updated.PaymentStatus)
	s.events.emit(ctx, notify.EventRefundSettled, orderID, order.UserID, now, map[string]any{
		"update_id": staged.ID,
		"method":    method,
		"amount":    staged.RefundAmount,
	})

	if updated.Status.Terminal() {
		s.closeConversation(ctx, updated)
	}

	receipt := newReceipt(updated, staged, method, now)
	receipt.LedgerEntryID = entryID
	return receipt, nil
}

// settledReceipt отвечает на повтор уже урегулированной команды.
func (s *OrderServiceImpl) settledReceipt(ctx context.Context, order *models.Order, claimed *models.PendingUpdate, method models.RefundMethod) *models.Receipt {
	s.logger.Info("refund already settled", "order_id", order.ID, "update_id", claimed.ID)
	if order.Status.Terminal() {
		s.closeConversation(ctx, order)
	}
	receipt := newReceipt(order, claimed, method, s.clock())
	receipt.AlreadySettled = true
	if order.RefundAmount != nil {
		receipt.Amount = *order.RefundAmount
	}
	if entry, err := s.ledger.GetByReference(ctx, models.RefundReference(claimed.ID)); err == nil {
		receipt.LedgerEntryID = &entry.ID
		receipt.Amount = entry.Amount
	}
	return receipt
}

// serverUpdate собирает команду из полей заказа. Присланная копия должна совпадать
// с ней по идентификатору, виду, сумме возврата и новой цене, иначе она устарела.
func serverUpdate(o *models.Order, claimed *models.PendingUpdate) (*models.PendingUpdate, error) {
	if o.PendingUpdateID == nil || *o.PendingUpdateID != claimed.ID || o.RefundAmount == nil {
		return nil, ErrStalePendingUpdate
	}

	pu := &models.PendingUpdate{
		ID:           claimed.ID,
		OrderID:      o.ID,
		Kind:         models.PendingUpdateCancel,
		RefundAmount: *o.RefundAmount,
		CreatedAt:    claimed.CreatedAt,
	}
	if o.RefundReason != nil {
		pu.Reason = *o.RefundReason
	}
	if o.PendingPrice != nil {
		price := *o.PendingPrice
		pu.Kind = models.PendingUpdateEdit
		pu.NewPrice = &price
		pu.NewParameters = o.PendingParameters
	}

	if claimed.Kind != pu.Kind || !claimed.RefundAmount.Equal(pu.RefundAmount) {
		return nil, ErrStalePendingUpdate
	}
	if pu.Kind == models.PendingUpdateEdit && (claimed.NewPrice == nil || !claimed.NewPrice.Equal(*pu.NewPrice)) {
		return nil, ErrStalePendingUpdate
	}
	return pu, nil
}

// creditRefund зачисляет возврат на баланс. Запись с тем же ключом уже есть - шаг выполнен ранее.
func (s *OrderServiceImpl) creditRefund(ctx context.Context, order *models.Order, staged *models.PendingUpdate) (*uuid.UUID, error) {
	entry := &models.LedgerEntry{
		UserID:    order.UserID,
		OrderID:   &order.ID,
		Reference: models.RefundReference(staged.ID),
		Kind:      models.LedgerKindRefund,
		Amount:    staged.RefundAmount,
		CreatedAt: s.clock(),
	}

	err := s.ledger.Append(ctx, entry)
	if errors.Is(err, storage.ErrLedgerEntryExists) {
		existing, gErr := s.ledger.GetByReference(ctx, entry.Reference)
		if gErr != nil {
			return nil, fmt.Errorf("get refund entry: %w", gErr)
		}
		return &existing.ID, nil
	}
	if err != nil {
		return nil, fmt.Errorf("append refund entry: %w", err)
	}
	return &entry.ID, nil
}

func (s *OrderServiceImpl) requestExternalRefund(ctx context.Context, order *models.Order, staged *models.PendingUpdate, method models.RefundMethod, bankDetails json.RawMessage) error {
	if s.gateway == nil {
		return fmt.Errorf("%w: payment gateway is not configured", ErrExternalServiceUnavailable)
	}
	err := s.gateway.RequestRefund(ctx, payment.Refund{
		OrderID:     order.ID,
		UpdateID:    staged.ID,
		Amount:      staged.RefundAmount,
		Method:      method,
		BankDetails: bankDetails,
	})
	if err != nil {
		s.logger.Warn("external refund request failed", "order_id", order.ID, "update_id", staged.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrExternalServiceUnavailable, err)
	}
	return nil
}

// applySettlement переводит оплату через refunding; для внешних способов оплата
// остаётся в refunding до подтверждения шлюзом.
func applySettlement(o *models.Order, staged *models.PendingUpdate, method models.RefundMethod, bankDetails json.RawMessage, now time.Time) error {
	if staged.Kind == models.PendingUpdateEdit {
		o.Price = *staged.NewPrice
		if staged.NewParameters != nil {
			o.Parameters = staged.NewParameters
		}
		if o.Status == models.OrderStatusOnHold {
			if err := releaseHold(o); err != nil {
				return err
			}
		}
	}

	if err := setPayment(o, models.PaymentStatusRefunding); err != nil {
		return err
	}
	o.PaidAmount = o.PaidAmount.Sub(staged.RefundAmount)
	if o.PaidAmount.IsNegative() {
		o.PaidAmount = decimal.Zero
	}
	settled := staged.ID
	o.SettledUpdateID = &settled
	o.PendingUpdateID = nil
	o.ClearPendingEdit()

	if method.External() {
		amount := staged.RefundAmount
		o.RefundMethod = &method
		o.RefundAmount = &amount
		o.RefundDetails = bankDetails
		o.RefundingSince = &now
		return nil
	}

	if err := setPayment(o, models.PaymentStatusRefunded); err != nil {
		return err
	}
	o.ClearRefund()
	return nil
}

func newReceipt(o *models.Order, staged *models.PendingUpdate, method models.RefundMethod, at time.Time) *models.Receipt {
	return &models.Receipt{
		OrderID:       o.ID,
		UpdateID:      staged.ID,
		Method:        method,
		Amount:        staged.RefundAmount,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.Status,
		SettledAt:     at,
	}
}
