package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerKind тип движения по балансу.
type LedgerKind string

const (
	// LedgerKindCredit ручное или промо-начисление.
	LedgerKindCredit LedgerKind = "credit"
	// LedgerKindDebit оплата заказа с баланса.
	LedgerKindDebit LedgerKind = "debit"
	// LedgerKindRefund возврат средств на баланс.
	LedgerKindRefund LedgerKind = "refund"
)

// LedgerEntry неизменяемая запись движения по балансу.
// Amount положителен для начислений и отрицателен для списаний.
type LedgerEntry struct {
	ID        uuid.UUID       `db:"id"`
	UserID    uuid.UUID       `db:"user_id"`
	OrderID   *uuid.UUID      `db:"order_id"`
	Reference string          `db:"reference"`
	Kind      LedgerKind      `db:"kind"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// RefundReference ключ идемпотентности записи возврата.
func RefundReference(updateID uuid.UUID) string {
	return "refund:" + updateID.String()
}

// PaymentReference ключ идемпотентности оплаты заказа с баланса.
func PaymentReference(orderID uuid.UUID) string {
	return "payment:" + orderID.String()
}

// BalanceResponse ответ с балансом пользователя.
type BalanceResponse struct {
	Current  decimal.Decimal `json:"current"`
	Refunded decimal.Decimal `json:"refunded"`
	Spent    decimal.Decimal `json:"spent"`
}

// LedgerEntryResponse DTO записи журнала.
type LedgerEntryResponse struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   *uuid.UUID      `json:"order_id,omitempty"`
	Kind      LedgerKind      `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at"`
}
