package models

import (
	"errors"
	"fmt"
)

// OrderStatus описывает этап жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusInQueue         OrderStatus = "in_queue"
	OrderStatusPrinting        OrderStatus = "printing"
	OrderStatusFinished        OrderStatus = "finished"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusOnHold          OrderStatus = "on_hold"
	OrderStatusSuspended       OrderStatus = "suspended"
	OrderStatusRefundRequested OrderStatus = "refund_requested"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusOnHold    PaymentStatus = "on_hold"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusRefunding PaymentStatus = "refunding"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var (
	// ErrInvalidTransition возвращается при недопустимой смене статуса.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound общий признак ненайденной сущности.
	ErrNotFound = errors.New("not found")
)

// TransitionError описывает конкретную причину отказа в переходе.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: cannot move from %q to %q", e.Entity, e.From, e.To)
	}
	return fmt.Sprintf("%s: cannot move from %q to %q: %s", e.Entity, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func orderTransitionError(from, to OrderStatus, reason string) error {
	return &TransitionError{Entity: "order status", From: string(from), To: string(to), Reason: reason}
}

func paymentTransitionError(from, to PaymentStatus, reason string) error {
	return &TransitionError{Entity: "payment status", From: string(from), To: string(to), Reason: reason}
}

// AllOrderStatuses возвращает все статусы заказа.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusSubmitted,
		OrderStatusInQueue,
		OrderStatusPrinting,
		OrderStatusFinished,
		OrderStatusDelivered,
		OrderStatusOnHold,
		OrderStatusSuspended,
		OrderStatusRefundRequested,
	}
}

// AllPaymentStatuses возвращает все статусы оплаты.
func AllPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusOnHold,
		PaymentStatusPaid,
		PaymentStatusRefunding,
		PaymentStatusRefunded,
	}
}

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusSubmitted, OrderStatusInQueue, OrderStatusPrinting, OrderStatusFinished,
		OrderStatusDelivered, OrderStatusOnHold, OrderStatusSuspended, OrderStatusRefundRequested:
		return true
	}
	return false
}

// Terminal сообщает, что статус заказа больше не меняется штатным потоком.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusSuspended
}

// Label возвращает человекочитаемое название статуса.
func (s OrderStatus) Label() string {
	switch s {
	case OrderStatusSubmitted:
		return "Submitted"
	case OrderStatusInQueue:
		return "In queue"
	case OrderStatusPrinting:
		return "Printing"
	case OrderStatusFinished:
		return "Finished"
	case OrderStatusDelivered:
		return "Delivered"
	case OrderStatusOnHold:
		return "On hold"
	case OrderStatusSuspended:
		return "Suspended"
	case OrderStatusRefundRequested:
		return "Refund requested"
	}
	return "Unknown"
}

// Color возвращает цвет бейджа для интерфейса.
func (s OrderStatus) Color() string {
	switch s {
	case OrderStatusSubmitted:
		return "gray"
	case OrderStatusInQueue:
		return "blue"
	case OrderStatusPrinting:
		return "indigo"
	case OrderStatusFinished:
		return "teal"
	case OrderStatusDelivered:
		return "green"
	case OrderStatusOnHold:
		return "yellow"
	case OrderStatusSuspended:
		return "red"
	case OrderStatusRefundRequested:
		return "orange"
	}
	return "gray"
}

// ParseOrderStatus разбирает статус из строки.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// Valid сообщает, известен ли статус оплаты.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusOnHold, PaymentStatusPaid, PaymentStatusRefunding, PaymentStatusRefunded:
		return true
	}
	return false
}

// Label возвращает человекочитаемое название статуса оплаты.
func (s PaymentStatus) Label() string {
	switch s {
	case PaymentStatusOnHold:
		return "On hold"
	case PaymentStatusPaid:
		return "Paid"
	case PaymentStatusRefunding:
		return "Refunding"
	case PaymentStatusRefunded:
		return "Refunded"
	}
	return "Unknown"
}

// Color возвращает цвет бейджа оплаты.
func (s PaymentStatus) Color() string {
	switch s {
	case PaymentStatusOnHold:
		return "yellow"
	case PaymentStatusPaid:
		return "green"
	case PaymentStatusRefunding:
		return "orange"
	case PaymentStatusRefunded:
		return "purple"
	}
	return "gray"
}

// nextStatus задаёт основной производственный поток.
func nextStatus(s OrderStatus) (OrderStatus, bool) {
	switch s {
	case OrderStatusSubmitted:
		return OrderStatusInQueue, true
	case OrderStatusInQueue:
		return OrderStatusPrinting, true
	case OrderStatusPrinting:
		return OrderStatusFinished, true
	case OrderStatusFinished:
		return OrderStatusDelivered, true
	}
	return "", false
}

// ValidateStatusTransition проверяет смену статуса заказа.
// Переход в тот же статус не считается ошибкой и обрабатывается вызывающим кодом как no-op.
func ValidateStatusTransition(order *Order, to OrderStatus) error {
	from := order.Status
	if !to.Valid() {
		return orderTransitionError(from, to, "unknown status")
	}
	if from == to {
		return nil
	}

	switch to {
	case OrderStatusRefundRequested:
		if from == OrderStatusSuspended {
			return orderTransitionError(from, to, "order is suspended")
		}
		return nil
	case OrderStatusSuspended, OrderStatusOnHold:
		if from.Terminal() {
			return orderTransitionError(from, to, "order is in a terminal state")
		}
		if to == OrderStatusOnHold && from == OrderStatusRefundRequested {
			return orderTransitionError(from, to, "refund request must be resolved first")
		}
		return nil
	}

	switch from {
	case OrderStatusSuspended:
		return orderTransitionError(from, to, "order is in a terminal state")
	case OrderStatusOnHold, OrderStatusRefundRequested:
		if order.PriorStatus == nil || *order.PriorStatus != to {
			return orderTransitionError(from, to, "only the status before the hold can be restored")
		}
		return nil
	case OrderStatusDelivered:
		return orderTransitionError(from, to, "order is in a terminal state")
	}

	if next, ok := nextStatus(from); ok && next == to {
		return nil
	}
	return orderTransitionError(from, to, "not the next production step")
}

// ValidatePaymentTransition проверяет смену статуса оплаты с учётом статуса заказа.
func ValidatePaymentTransition(status OrderStatus, from, to PaymentStatus) error {
	if !to.Valid() {
		return paymentTransitionError(from, to, "unknown status")
	}
	if from == to {
		return nil
	}

	switch to {
	case PaymentStatusPaid:
		if from != PaymentStatusOnHold {
			return paymentTransitionError(from, to, "paid is reachable only from a capture of a held payment")
		}
		if status == OrderStatusSuspended {
			return paymentTransitionError(from, to, "suspended order cannot be paid")
		}
	case PaymentStatusRefunding:
		if from != PaymentStatusPaid && from != PaymentStatusOnHold {
			return paymentTransitionError(from, to, "refund can start only from paid or on_hold")
		}
	case PaymentStatusRefunded:
		if from != PaymentStatusRefunding {
			return paymentTransitionError(from, to, "refunded is reachable only from refunding")
		}
	case PaymentStatusOnHold:
		if from != PaymentStatusPaid {
			return paymentTransitionError(from, to, "only a paid order can be put on hold")
		}
		if status.Terminal() {
			return paymentTransitionError(from, to, "order is in a terminal state")
		}
	}
	return nil
}

// CheckConsistency проверяет инварианты между статусом заказа и статусом оплаты.
func CheckConsistency(order *Order) error {
	if order.Status == OrderStatusSuspended && order.PaymentStatus == PaymentStatusPaid {
		return &TransitionError{
			Entity: "order",
			From:   string(order.PaymentStatus),
			To:     string(order.Status),
			Reason: "suspended order cannot stay paid",
		}
	}
	return nil
}
