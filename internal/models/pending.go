package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformedPendingUpdate возвращается для повреждённой подготовленной команды.
var ErrMalformedPendingUpdate = errors.New("malformed pending update")

// PendingUpdateKind вид подготовленного изменения.
type PendingUpdateKind string

const (
	PendingUpdateEdit   PendingUpdateKind = "edit"
	PendingUpdateCancel PendingUpdateKind = "cancel"
)

// PendingUpdate подготовленная команда изменения или отмены,
// которая живёт между подтверждением клиента и выбором способа возврата.
type PendingUpdate struct {
	ID            uuid.UUID         `json:"id"`
	OrderID       uuid.UUID         `json:"order_id"`
	Kind          PendingUpdateKind `json:"kind"`
	NewPrice      *decimal.Decimal  `json:"new_price,omitempty"`
	NewParameters json.RawMessage   `json:"new_parameters,omitempty"`
	RefundAmount  decimal.Decimal   `json:"refund_amount"`
	Reason        string            `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Validate проверяет целостность команды.
func (p *PendingUpdate) Validate() error {
	if p.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrMalformedPendingUpdate)
	}
	if p.OrderID == uuid.Nil {
		return fmt.Errorf("%w: missing order id", ErrMalformedPendingUpdate)
	}
	switch p.Kind {
	case PendingUpdateEdit:
		if p.NewPrice == nil {
			return fmt.Errorf("%w: edit without new price", ErrMalformedPendingUpdate)
		}
	case PendingUpdateCancel:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedPendingUpdate, p.Kind)
	}
	if p.RefundAmount.IsNegative() {
		return fmt.Errorf("%w: negative refund amount", ErrMalformedPendingUpdate)
	}
	return nil
}

// ProjectPendingUpdate подготовленная отмена всего проекта.
type ProjectPendingUpdate struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   string          `json:"project_id"`
	Orders      []PendingUpdate `json:"orders"`
	TotalRefund decimal.Decimal `json:"total_refund"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate проверяет целостность команды проекта.
func (p *ProjectPendingUpdate) Validate() error {
	if p.ID == uuid.Nil || p.ProjectID == "" {
		return fmt.Errorf("%w: missing project update identity", ErrMalformedPendingUpdate)
	}
	if len(p.Orders) == 0 {
		return fmt.Errorf("%w: project update without orders", ErrMalformedPendingUpdate)
	}
	for i := range p.Orders {
		if err := p.Orders[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DecodePendingUpdate разбирает команду из сырого JSON.
// Пустой ввод означает отсутствие команды и возвращает nil без ошибки.
func DecodePendingUpdate(raw []byte) (*PendingUpdate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p PendingUpdate
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPendingUpdate, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeProjectPendingUpdate разбирает команду проекта из сырого JSON.
func DecodeProjectPendingUpdate(raw []byte) (*ProjectPendingUpdate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p ProjectPendingUpdate
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPendingUpdate, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
