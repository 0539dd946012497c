package handlers

import (
	"net/http"

	"github.com/agamariel/printdesk/internal/auth"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/labstack/echo/v4"
)

// BalanceHandler обрабатывает баланс и историю его движений.
type BalanceHandler struct {
	balanceService services.BalanceService
}

// NewBalanceHandler создаёт новый handler.
func NewBalanceHandler(balanceService services.BalanceService) *BalanceHandler {
	return &BalanceHandler{balanceService: balanceService}
}

// GetBalance обрабатывает GET /api/user/balance.
func (h *BalanceHandler) GetBalance(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return err
	}

	balance, err := h.balanceService.GetBalance(c.Request().Context(), userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, balance)
}

// GetLedger обрабатывает GET /api/user/ledger.
func (h *BalanceHandler) GetLedger(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return err
	}

	entries, err := h.balanceService.GetLedger(c.Request().Context(), userID)
	if err != nil {
		return serviceError(c, err)
	}

	if len(entries) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, entries)
}
