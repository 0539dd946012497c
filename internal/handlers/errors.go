package handlers

import (
	"errors"
	"net/http"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/agamariel/printdesk/internal/storage"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// serviceError переводит ошибку сервисного слоя в HTTP-ответ.
func serviceError(c echo.Context, err error) error {
	var te *models.TransitionError
	switch {
	case errors.As(err, &te):
		return echo.NewHTTPError(http.StatusConflict, te.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrStalePendingUpdate):
		return echo.NewHTTPError(http.StatusConflict, "pending update is stale, reload and confirm again")
	case errors.Is(err, services.ErrConversationClosed):
		return echo.NewHTTPError(http.StatusConflict, "conversation is closed")
	case errors.Is(err, storage.ErrConcurrentUpdate):
		return echo.NewHTTPError(http.StatusConflict, "record was modified concurrently, retry")
	case errors.Is(err, storage.ErrLoginExists):
		return echo.NewHTTPError(http.StatusConflict, "login already exists")
	case errors.Is(err, models.ErrMalformedPendingUpdate):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrInsufficientBalance):
		return echo.NewHTTPError(http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, services.ErrExternalServiceUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway is unavailable, try again later")
	}
	c.Logger().Errorf("request failed: %v", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// pathID разбирает идентификатор из пути.
func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
