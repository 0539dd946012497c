package handlers

import (
	"net/http"

	"github.com/agamariel/printdesk/internal/auth"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/labstack/echo/v4"
)

// OrderHandler обрабатывает запросы, связанные с заказами.
type OrderHandler struct {
	orderService services.OrderService
}

func NewOrderHandler(orderService services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// SubmitOrder обрабатывает POST /api/orders.
func (h *OrderHandler) SubmitOrder(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return err
	}

	var req models.SubmitOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	resp, err := h.orderService.SubmitOrder(c.Request().Context(), userID, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListOrders обрабатывает GET /api/orders. Сотрудник видит все заказы.
func (h *OrderHandler) ListOrders(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}

	resp, err := h.orderService.ListOrders(c.Request().Context(), viewer)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetOrder обрабатывает GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	order, err := h.orderService.GetOrder(c.Request().Context(), viewer, id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, models.NewOrderResponse(order))
}

// UpdateStatus обрабатывает PATCH /api/orders/:id/status (только сотрудники).
func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if !req.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}

	order, err := h.orderService.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, models.NewOrderResponse(order))
}

// UpdateShipping обрабатывает PATCH /api/orders/:id/shipping (только сотрудники).
func (h *OrderHandler) UpdateShipping(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.ShippingUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	order, err := h.orderService.UpdateShipping(c.Request().Context(), id, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, models.NewOrderResponse(order))
}

// RequestEdit обрабатывает POST /api/orders/:id/edit.
func (h *OrderHandler) RequestEdit(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.EditRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	resp, err := h.orderService.RequestEdit(c.Request().Context(), viewer, id, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RequestCancellation обрабатывает POST /api/orders/:id/cancel.
func (h *OrderHandler) RequestCancellation(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	resp, err := h.orderService.RequestCancellation(c.Request().Context(), viewer, id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RequestRefund обрабатывает POST /api/orders/:id/refund-request.
func (h *OrderHandler) RequestRefund(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	order, err := h.orderService.RequestRefund(c.Request().Context(), viewer, id, req.Reason)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, models.NewOrderResponse(order))
}

// SettleRefund обрабатывает POST /api/orders/:id/settle.
// Без pending_update в теле используется копия, сохранённая на сервере.
func (h *OrderHandler) SettleRefund(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.SettleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	ctx := c.Request().Context()
	pu, err := h.orderService.ResolvePendingUpdate(ctx, id, req.PendingUpdate)
	if err != nil {
		return serviceError(c, err)
	}

	receipt, err := h.orderService.SettleRefund(ctx, viewer, id, req.Method, req.BankDetails, pu)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}
