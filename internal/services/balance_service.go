package services

import (
	"context"
	"fmt"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
)

// BalanceService описывает операции с балансом магазина.
type BalanceService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.BalanceResponse, error)
	GetLedger(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntryResponse, error)
}

type BalanceServiceImpl struct {
	ledger LedgerStorage
}

// NewBalanceService создаёт сервис баланса.
func NewBalanceService(ledger LedgerStorage) *BalanceServiceImpl {
	return &BalanceServiceImpl{ledger: ledger}
}

// GetBalance возвращает текущий баланс как сумму всех записей журнала.
func (s *BalanceServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID) (*models.BalanceResponse, error) {
	totals, err := s.ledger.Totals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return totals, nil
}

// GetLedger возвращает историю движений по балансу, новые первыми.
func (s *BalanceServiceImpl) GetLedger(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntryResponse, error) {
	entries, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}

	resp := make([]*models.LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, &models.LedgerEntryResponse{
			ID:        e.ID,
			OrderID:   e.OrderID,
			Kind:      e.Kind,
			Amount:    e.Amount,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp, nil
}
