// Package client HTTP-клиент API printdesk для утилиты командной строки и поллера.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/google/uuid"
)

var (
	// ErrUnavailable сервер недоступен или ответил ошибкой 5xx.
	ErrUnavailable = errors.New("printdesk server unavailable")
	// ErrUnauthorized токен отсутствует или недействителен.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict запрос противоречит текущему состоянию на сервере.
	ErrConflict = errors.New("conflict with server state")
)

// APIError ответ сервера с кодом ошибки.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusUnprocessableEntity:
		return models.ErrMalformedPendingUpdate
	case e.StatusCode >= http.StatusInternalServerError:
		return ErrUnavailable
	}
	return nil
}

// Client клиент API поверх HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. Токен передаётся в заголовке Authorization.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "api_client"),
	}
}

func (c *Client) ListConversations(ctx context.Context) (*models.ConversationListResponse, error) {
	var out models.ConversationListResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListOrders(ctx context.Context) (*models.OrderListResponse, error) {
	var out models.OrderListResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID uuid.UUID) (*models.MessageListResponse, error) {
	var out models.MessageListResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID.String()+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PostMessage(ctx context.Context, conversationID uuid.UUID, body string) (*models.MessageView, error) {
	var out models.MessageView
	req := models.PostMessageRequest{Body: body}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID.String()+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID.String()+"/read", nil, nil)
}

func (c *Client) SetTyping(ctx context.Context, conversationID uuid.UUID, typing bool) error {
	req := models.TypingRequest{Typing: typing}
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID.String()+"/typing", req, nil)
}

func (c *Client) RequestEdit(ctx context.Context, orderID uuid.UUID, req models.EditRequest) (*models.EditResponse, error) {
	var out models.EditResponse
	if err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID.String()+"/edit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestCancellation(ctx context.Context, orderID uuid.UUID) (*models.CancelResponse, error) {
	var out models.CancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID.String()+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SettleRefund(ctx context.Context, orderID uuid.UUID, req models.SettleRequest) (*models.Receipt, error) {
	var out models.Receipt
	if err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID.String()+"/settle", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelProject(ctx context.Context, projectID string) (*models.ProjectPendingUpdate, error) {
	var out models.ProjectPendingUpdate
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SettleProject возвращает результат и при частичном успехе (207); проверяйте Partial().
func (c *Client) SettleProject(ctx context.Context, projectID string, req models.SettleRequest) (*services.ProjectSettlement, error) {
	var out services.ProjectSettlement
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/settle", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, dest any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusMultiStatus:
		if dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case http.StatusNoContent:
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err == nil {
		apiErr.Message = msg.Message
	}
	c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode)
	return apiErr
}
