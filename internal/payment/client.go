package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable шлюз не ответил или ответил ошибкой сервера.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected шлюз отклонил запрос.
	ErrRejected = errors.New("payment gateway rejected request")
)

// RateLimitError содержит паузу, которую рекомендует шлюз.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e RateLimitError) Unwrap() error {
	return ErrUnavailable
}

// Gateway интерфейс платёжного шлюза.
type Gateway interface {
	CreateRedirect(ctx context.Context, order *models.Order) (string, error)
	RequestRefund(ctx context.Context, refund Refund) error
}

// Refund запрос на внешний возврат.
type Refund struct {
	OrderID     uuid.UUID           `json:"order_id"`
	UpdateID    uuid.UUID           `json:"update_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Method      models.RefundMethod `json:"method"`
	BankDetails json.RawMessage     `json:"bank_details,omitempty"`
}

type checkoutRequest struct {
	OrderID uuid.UUID       `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type checkoutResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// HTTPGateway клиент шлюза поверх HTTP.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewHTTPGateway создаёт HTTP-клиент шлюза.
func NewHTTPGateway(baseURL string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
		logger:  logger.With("component", "payment_gateway"),
	}
}

// CreateRedirect открывает платёж и возвращает адрес страницы оплаты.
func (g *HTTPGateway) CreateRedirect(ctx context.Context, order *models.Order) (string, error) {
	body := checkoutRequest{OrderID: order.ID, Amount: order.Price.Sub(order.PaidAmount)}

	var out checkoutResponse
	if err := g.post(ctx, "/api/payments", body, &out); err != nil {
		return "", err
	}
	if out.RedirectURL == "" {
		return "", fmt.Errorf("%w: empty redirect url", ErrRejected)
	}
	return out.RedirectURL, nil
}

// RequestRefund передаёт шлюзу внешний возврат.
// Подтверждение приходит позже через вебхук.
func (g *HTTPGateway) RequestRefund(ctx context.Context, refund Refund) error {
	return g.post(ctx, "/api/refunds", refund, nil)
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload, dest any) error {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return fmt.Errorf("invalid gateway base url: %w", err)
	}
	u.Path = u.Path + path

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.observe("error", start)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	g.observe(strconv.Itoa(resp.StatusCode), start)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		if dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		g.logger.Warn("gateway rejected request", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
}

func (g *HTTPGateway) observe(status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.GatewayRequests.WithLabelValues(status).Inc()
	g.metrics.GatewayLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func parseRetryAfter(val string) time.Duration {
	if val == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		return time.Until(t)
	}
	return 5 * time.Second
}
