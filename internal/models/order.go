package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPlaces число знаков после запятой для денежных сумм.
const MoneyPlaces = 2

// RefundMethod способ возврата средств.
type RefundMethod string

const (
	RefundMethodCredit   RefundMethod = "credit"
	RefundMethodOriginal RefundMethod = "original"
	RefundMethodBank     RefundMethod = "bank"
)

// Valid сообщает, известен ли способ возврата.
func (m RefundMethod) Valid() bool {
	switch m {
	case RefundMethodCredit, RefundMethodOriginal, RefundMethodBank:
		return true
	}
	return false
}

// External сообщает, что возврат подтверждается внешней системой.
func (m RefundMethod) External() bool {
	return m == RefundMethodOriginal || m == RefundMethodBank
}

// PaymentPath определяет, как оплачивается новый заказ.
type PaymentPath string

const (
	// PaymentPathGateway - отложенная оплата через платёжный шлюз.
	PaymentPathGateway PaymentPath = "gateway"
	// PaymentPathStoreCredit - немедленное списание с баланса.
	PaymentPathStoreCredit PaymentPath = "store_credit"
)

// Valid сообщает, известен ли способ оплаты.
func (p PaymentPath) Valid() bool {
	return p == PaymentPathGateway || p == PaymentPathStoreCredit
}

// Order представляет одну позицию печати.
type Order struct {
	ID              uuid.UUID        `db:"id"`
	UserID          uuid.UUID        `db:"user_id"`
	ProjectID       *string          `db:"project_id"`
	Status          OrderStatus      `db:"status"`
	PriorStatus     *OrderStatus     `db:"prior_status"`
	PaymentStatus   PaymentStatus    `db:"payment_status"`
	Price           decimal.Decimal  `db:"price"`
	PaidAmount      decimal.Decimal  `db:"paid_amount"`
	Parameters      json.RawMessage  `db:"parameters"`
	ShippingMethod  string           `db:"shipping_method"`
	ShippingAddress json.RawMessage  `db:"shipping_address"`
	TrackingCode    *string          `db:"tracking_code"`
	RefundMethod    *RefundMethod    `db:"refund_method"`
	RefundAmount    *decimal.Decimal `db:"refund_amount"`
	RefundReason    *string          `db:"refund_reason"`
	RefundDetails   json.RawMessage  `db:"refund_details"`
	PendingUpdateID *uuid.UUID       `db:"pending_update_id"`
	// PendingPrice и PendingParameters - цель подготовленного изменения, пока оно не урегулировано.
	PendingPrice      *decimal.Decimal `db:"pending_price"`
	PendingParameters json.RawMessage  `db:"pending_parameters"`
	SettledUpdateID   *uuid.UUID       `db:"settled_update_id"`
	RefundingSince    *time.Time       `db:"refunding_since"`
	// Transactions идентификаторы уже обработанных подтверждений шлюза.
	Transactions []string  `db:"transactions"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Clone возвращает независимую копию заказа.
func (o *Order) Clone() *Order {
	c := *o
	c.Parameters = cloneRaw(o.Parameters)
	c.ShippingAddress = cloneRaw(o.ShippingAddress)
	c.RefundDetails = cloneRaw(o.RefundDetails)
	c.PendingParameters = cloneRaw(o.PendingParameters)
	if o.Transactions != nil {
		c.Transactions = append([]string(nil), o.Transactions...)
	}
	if o.ProjectID != nil {
		v := *o.ProjectID
		c.ProjectID = &v
	}
	if o.PriorStatus != nil {
		v := *o.PriorStatus
		c.PriorStatus = &v
	}
	if o.TrackingCode != nil {
		v := *o.TrackingCode
		c.TrackingCode = &v
	}
	if o.RefundMethod != nil {
		v := *o.RefundMethod
		c.RefundMethod = &v
	}
	if o.RefundAmount != nil {
		v := *o.RefundAmount
		c.RefundAmount = &v
	}
	if o.RefundReason != nil {
		v := *o.RefundReason
		c.RefundReason = &v
	}
	if o.PendingUpdateID != nil {
		v := *o.PendingUpdateID
		c.PendingUpdateID = &v
	}
	if o.PendingPrice != nil {
		v := *o.PendingPrice
		c.PendingPrice = &v
	}
	if o.SettledUpdateID != nil {
		v := *o.SettledUpdateID
		c.SettledUpdateID = &v
	}
	if o.RefundingSince != nil {
		v := *o.RefundingSince
		c.RefundingSince = &v
	}
	return &c
}

// ClearRefund сбрасывает поля активного возврата.
func (o *Order) ClearRefund() {
	o.RefundMethod = nil
	o.RefundAmount = nil
	o.RefundReason = nil
	o.RefundDetails = nil
	o.PendingUpdateID = nil
	o.RefundingSince = nil
	o.ClearPendingEdit()
}

// ClearPendingEdit сбрасывает цель подготовленного изменения.
func (o *Order) ClearPendingEdit() {
	o.PendingPrice = nil
	o.PendingParameters = nil
}

// HasTransaction сообщает, обработано ли уже подтверждение с этим идентификатором.
func (o *Order) HasTransaction(id string) bool {
	for _, t := range o.Transactions {
		if t == id {
			return true
		}
	}
	return false
}

// InProject сообщает, входит ли заказ в проект.
func (o *Order) InProject() bool {
	return o.ProjectID != nil && *o.ProjectID != ""
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// RoundMoney округляет сумму до точности денежной единицы.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ProjectSummary агрегат по заказам проекта, пересчитывается при каждом чтении.
type ProjectSummary struct {
	ProjectID      string          `json:"project_id"`
	MemberCount    int             `json:"member_count"`
	CancelledCount int             `json:"cancelled_count"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalRefund    decimal.Decimal `json:"total_refund"`
	OrderIDs       []uuid.UUID     `json:"order_ids"`
}

// Receipt итог урегулирования возврата.
type Receipt struct {
	OrderID        uuid.UUID       `json:"order_id"`
	UpdateID       uuid.UUID       `json:"update_id"`
	Method         RefundMethod    `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	OrderStatus    OrderStatus     `json:"order_status"`
	LedgerEntryID  *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	AlreadySettled bool            `json:"already_settled"`
	SettledAt      time.Time       `json:"settled_at"`
}

// SubmitOrderRequest DTO для создания заказа.
type SubmitOrderRequest struct {
	ProjectID       *string         `json:"project_id,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	ShippingMethod  string          `json:"shipping_method"`
	ShippingAddress json.RawMessage `json:"shipping_address,omitempty"`
	PaymentPath     PaymentPath     `json:"payment_path"`
}

// Validate проверяет запрос на создание заказа.
func (r *SubmitOrderRequest) Validate() error {
	if r.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price must be positive")
	}
	if r.PaymentPath == "" {
		r.PaymentPath = PaymentPathGateway
	}
	if !r.PaymentPath.Valid() {
		return fmt.Errorf("unknown payment path %q", r.PaymentPath)
	}
	if r.ProjectID != nil && *r.ProjectID == "" {
		r.ProjectID = nil
	}
	return nil
}

// EditRequest DTO для изменения параметров заказа.
type EditRequest struct {
	Parameters json.RawMessage `json:"parameters"`
	NewPrice   decimal.Decimal `json:"new_price"`
}

// SettleRequest DTO для урегулирования возврата.
type SettleRequest struct {
	Method        RefundMethod    `json:"method"`
	BankDetails   json.RawMessage `json:"bank_details,omitempty"`
	PendingUpdate json.RawMessage `json:"pending_update,omitempty"`
}

// StatusUpdateRequest DTO для смены статуса сотрудником.
type StatusUpdateRequest struct {
	Status OrderStatus `json:"status"`
}

// ShippingUpdateRequest DTO для обновления доставки.
type ShippingUpdateRequest struct {
	ShippingMethod  *string         `json:"shipping_method,omitempty"`
	ShippingAddress json.RawMessage `json:"shipping_address,omitempty"`
	TrackingCode    *string         `json:"tracking_code,omitempty"`
}

// RefundRequest DTO для запроса возврата клиентом.
type RefundRequest struct {
	Reason string `json:"reason"`
}

// PaymentConfirmation тело вебхука платёжного шлюза.
// TransactionID уникален для каждого подтверждения и повторяется при повторной доставке.
type PaymentConfirmation struct {
	OrderID       uuid.UUID       `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// OrderResponse представление заказа для API.
type OrderResponse struct {
	ID              uuid.UUID        `json:"id"`
	UserID          uuid.UUID        `json:"user_id"`
	ProjectID       *string          `json:"project_id,omitempty"`
	Status          OrderStatus      `json:"status"`
	StatusLabel     string           `json:"status_label"`
	PriorStatus     *OrderStatus     `json:"prior_status,omitempty"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	PaymentLabel    string           `json:"payment_label"`
	Price           decimal.Decimal  `json:"price"`
	PaidAmount      decimal.Decimal  `json:"paid_amount"`
	Parameters      json.RawMessage  `json:"parameters,omitempty"`
	ShippingMethod  string           `json:"shipping_method"`
	ShippingAddress json.RawMessage  `json:"shipping_address,omitempty"`
	TrackingCode    *string          `json:"tracking_code,omitempty"`
	RefundMethod    *RefundMethod    `json:"refund_method,omitempty"`
	RefundAmount    *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundReason    *string          `json:"refund_reason,omitempty"`
	PendingUpdateID *uuid.UUID       `json:"pending_update_id,omitempty"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
}

// NewOrderResponse преобразует доменную модель в DTO.
func NewOrderResponse(o *Order) *OrderResponse {
	return &OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		ProjectID:       o.ProjectID,
		Status:          o.Status,
		StatusLabel:     o.Status.Label(),
		PriorStatus:     o.PriorStatus,
		PaymentStatus:   o.PaymentStatus,
		PaymentLabel:    o.PaymentStatus.Label(),
		Price:           o.Price,
		PaidAmount:      o.PaidAmount,
		Parameters:      o.Parameters,
		ShippingMethod:  o.ShippingMethod,
		ShippingAddress: o.ShippingAddress,
		TrackingCode:    o.TrackingCode,
		RefundMethod:    o.RefundMethod,
		RefundAmount:    o.RefundAmount,
		RefundReason:    o.RefundReason,
		PendingUpdateID: o.PendingUpdateID,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
}

// SubmitOrderResponse ответ на создание заказа.
type SubmitOrderResponse struct {
	Order       *OrderResponse `json:"order"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Warning     string         `json:"warning,omitempty"`
}

// EditResponse ответ на запрос изменения.
type EditResponse struct {
	Order         *OrderResponse  `json:"order"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	PendingUpdate *PendingUpdate  `json:"pending_update,omitempty"`
	Applied       bool            `json:"applied"`
}

// CancelResponse ответ на отмену заказа.
type CancelResponse struct {
	Order         *OrderResponse  `json:"order"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	PendingUpdate *PendingUpdate  `json:"pending_update"`
}
