package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agamariel/printdesk/internal/auth"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type mockBalanceService struct {
	GetBalanceFunc func(ctx context.Context, userID uuid.UUID) (*models.BalanceResponse, error)
	GetLedgerFunc  func(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntryResponse, error)
}

func (m *mockBalanceService) GetBalance(ctx context.Context, userID uuid.UUID) (*models.BalanceResponse, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, userID)
	}
	return &models.BalanceResponse{}, nil
}

func (m *mockBalanceService) GetLedger(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntryResponse, error) {
	if m.GetLedgerFunc != nil {
		return m.GetLedgerFunc(ctx, userID)
	}
	return nil, nil
}

func TestBalanceHandler_GetBalance(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name           string
		setupContext   func(c echo.Context)
		mockService    *mockBalanceService
		expectedStatus int
		checkResponse  bool
	}{
		{
			name: "successful get balance",
			setupContext: func(c echo.Context) {
				c.Set(string(auth.UserIDKey), userID)
			},
			mockService: &mockBalanceService{
				GetBalanceFunc: func(ctx context.Context, id uuid.UUID) (*models.BalanceResponse, error) {
					return &models.BalanceResponse{
						Current:  decimal.NewFromInt(30),
						Refunded: decimal.NewFromInt(50),
						Spent:    decimal.NewFromInt(20),
					}, nil
				},
			},
			expectedStatus: http.StatusOK,
			checkResponse:  true,
		},
		{
			name:           "no user in context",
			setupContext:   func(c echo.Context) {},
			mockService:    &mockBalanceService{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "internal error",
			setupContext: func(c echo.Context) {
				c.Set(string(auth.UserIDKey), userID)
			},
			mockService: &mockBalanceService{
				GetBalanceFunc: func(ctx context.Context, id uuid.UUID) (*models.BalanceResponse, error) {
					return nil, errors.New("database error")
				},
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/user/balance", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			tt.setupContext(c)

			handler := NewBalanceHandler(tt.mockService)
			err := handler.GetBalance(c)

			if got := statusOf(rec, err); got != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", got, tt.expectedStatus)
			}
			if tt.checkResponse {
				body := rec.Body.String()
				for _, field := range []string{"current", "refunded", "spent"} {
					if !strings.Contains(body, field) {
						t.Errorf("response doesn't contain %q field", field)
					}
				}
			}
		})
	}
}

func TestBalanceHandler_GetLedger(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()

	tests := []struct {
		name           string
		mockService    *mockBalanceService
		expectedStatus int
	}{
		{
			name: "history",
			mockService: &mockBalanceService{
				GetLedgerFunc: func(ctx context.Context, id uuid.UUID) ([]*models.LedgerEntryResponse, error) {
					return []*models.LedgerEntryResponse{
						{ID: uuid.New(), OrderID: &orderID, Kind: models.LedgerKindRefund, Amount: decimal.NewFromInt(30)},
					}, nil
				},
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "empty history",
			mockService:    &mockBalanceService{},
			expectedStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/user/ledger", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.Set(string(auth.UserIDKey), userID)

			err := NewBalanceHandler(tt.mockService).GetLedger(c)
			if got := statusOf(rec, err); got != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", got, tt.expectedStatus)
			}
		})
	}
}
