package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/labstack/echo/v4"
)

// WebhookSecretHeader заголовок с общим секретом платёжного шлюза.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookHandler принимает подтверждения от платёжного шлюза.
type WebhookHandler struct {
	orderService services.OrderService
	secret       string
}

func NewWebhookHandler(orderService services.OrderService, secret string) *WebhookHandler {
	return &WebhookHandler{orderService: orderService, secret: secret}
}

// PaymentConfirmed обрабатывает POST /api/payments/webhook.
// Повторная доставка того же подтверждения ничего не меняет.
func (h *WebhookHandler) PaymentConfirmed(c echo.Context) error {
	got := c.Request().Header.Get(WebhookSecretHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var conf models.PaymentConfirmation
	if err := c.Bind(&conf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	order, err := h.orderService.OnPaymentConfirmed(c.Request().Context(), &conf)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"order_id":       order.ID,
		"payment_status": order.PaymentStatus,
	})
}
