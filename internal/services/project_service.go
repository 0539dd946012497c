package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProjectService операции над проектом - виртуальной группой заказов.
type ProjectService interface {
	AggregateProject(ctx context.Context, viewer models.Viewer, projectID string) (*models.ProjectSummary, error)
	RequestProjectCancellation(ctx context.Context, viewer models.Viewer, projectID string) (*models.ProjectPendingUpdate, error)
	ResolveProjectUpdate(ctx context.Context, projectID string, raw json.RawMessage) (*models.ProjectPendingUpdate, error)
	SettleProjectRefund(ctx context.Context, viewer models.Viewer, projectID string, method models.RefundMethod, bankDetails json.RawMessage, staged *models.ProjectPendingUpdate) (*ProjectSettlement, error)
}

// SettlementFailure заказ проекта, возврат по которому не прошёл.
type SettlementFailure struct {
	OrderID uuid.UUID `json:"order_id"`
	Error   string    `json:"error"`
}

// ProjectSettlement результат урегулирования проекта. Частичный успех - не ошибка:
// урегулированные заказы не откатываются.
type ProjectSettlement struct {
	ProjectID string              `json:"project_id"`
	Settled   int                 `json:"settled"`
	Failed    int                 `json:"failed"`
	Total     int                 `json:"total"`
	Receipts  []*models.Receipt   `json:"receipts"`
	Failures  []SettlementFailure `json:"failures,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// Partial сообщает, что часть заказов не урегулирована.
func (p *ProjectSettlement) Partial() bool {
	return p.Failed > 0
}

// ProjectServiceImpl реализует ProjectService поверх сервиса заказов.
type ProjectServiceImpl struct {
	orders  OrderStorage
	order   *OrderServiceImpl
	staging staging.Store
	logger  *slog.Logger
}

// NewProjectService создаёт сервис проектов.
func NewProjectService(orders OrderStorage, orderService *OrderServiceImpl, store staging.Store, logger *slog.Logger) *ProjectServiceImpl {
	if logger == nil {
		logger = logging.Discard()
	}
	if store == nil {
		store = orderService.staging
	}
	return &ProjectServiceImpl{
		orders:  orders,
		order:   orderService,
		staging: store,
		logger:  logger.With("component", "projects"),
	}
}

// AggregateProject пересчитывает сводку по проекту при каждом вызове.
// Отменённые заказы не входят в число участников и сумму цен, но учитываются в возвратах.
func (s *ProjectServiceImpl) AggregateProject(ctx context.Context, viewer models.Viewer, projectID string) (*models.ProjectSummary, error) {
	members, err := s.members(ctx, viewer, projectID)
	if err != nil {
		return nil, err
	}
	return Aggregate(projectID, members), nil
}

// Aggregate считает сводку по заказам проекта. Результат не зависит от порядка заказов.
func Aggregate(projectID string, orders []*models.Order) *models.ProjectSummary {
	summary := &models.ProjectSummary{
		ProjectID:   projectID,
		TotalPrice:  decimal.Zero,
		TotalPaid:   decimal.Zero,
		TotalRefund: decimal.Zero,
		OrderIDs:    []uuid.UUID{},
	}
	for _, o := range orders {
		if o.RefundAmount != nil {
			summary.TotalRefund = summary.TotalRefund.Add(*o.RefundAmount)
		}
		if o.Status == models.OrderStatusSuspended {
			summary.CancelledCount++
			continue
		}
		summary.MemberCount++
		summary.TotalPrice = summary.TotalPrice.Add(o.Price)
		summary.TotalPaid = summary.TotalPaid.Add(o.PaidAmount)
		summary.OrderIDs = append(summary.OrderIDs, o.ID)
	}
	sort.Slice(summary.OrderIDs, func(i, j int) bool {
		return bytes.Compare(summary.OrderIDs[i][:], summary.OrderIDs[j][:]) < 0
	})
	return summary
}

// RequestProjectCancellation отменяет каждый незавершённый заказ проекта
// и сохраняет общую подготовленную команду возврата.
func (s *ProjectServiceImpl) RequestProjectCancellation(ctx context.Context, viewer models.Viewer, projectID string) (*models.ProjectPendingUpdate, error) {
	members, err := s.members(ctx, viewer, projectID)
	if err != nil {
		return nil, err
	}

	update := &models.ProjectPendingUpdate{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Orders:      []models.PendingUpdate{},
		TotalRefund: decimal.Zero,
		CreatedAt:   s.order.clock(),
	}
	for _, o := range members {
		if o.Status == models.OrderStatusDelivered {
			continue
		}
		_, pu, err := s.order.cancel(ctx, o, "project cancelled")
		if err != nil {
			var te *models.TransitionError
			if errors.As(err, &te) {
				s.logger.Info("project member skipped", "project_id", projectID, "order_id", o.ID, "reason", te.Reason)
				continue
			}
			return nil, fmt.Errorf("cancel order %s: %w", o.ID, err)
		}
		if pu == nil {
			continue
		}
		update.Orders = append(update.Orders, *pu)
		update.TotalRefund = update.TotalRefund.Add(pu.RefundAmount)
	}

	if len(update.Orders) > 0 {
		if err := s.staging.SaveProjectUpdate(ctx, update); err != nil {
			s.logger.Error("failed to stage project update", "project_id", projectID, "error", err)
		}
	}
	s.logger.Info("project cancelled", "project_id", projectID, "refunds", len(update.Orders), "total_refund", update.TotalRefund)
	return update, nil
}

// ResolveProjectUpdate выбирает команду проекта: явную или сохранённую на сервере.
func (s *ProjectServiceImpl) ResolveProjectUpdate(ctx context.Context, projectID string, raw json.RawMessage) (*models.ProjectPendingUpdate, error) {
	update, err := models.DecodeProjectPendingUpdate(raw)
	if err != nil {
		return nil, err
	}
	if update != nil {
		return update, nil
	}
	update, err = s.staging.LoadProjectUpdate(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load staged project update: %w", err)
	}
	return update, nil
}

// SettleProjectRefund урегулирует возвраты по каждому заказу независимо.
// Сбой на одном заказе не откатывает уже урегулированные; повтор безопасен.
func (s *ProjectServiceImpl) SettleProjectRefund(ctx context.Context, viewer models.Viewer, projectID string, method models.RefundMethod, bankDetails json.RawMessage, staged *models.ProjectPendingUpdate) (*ProjectSettlement, error) {
	if !method.Valid() {
		return nil, invalidRequest("unknown refund method %q", method)
	}
	if staged == nil || staged.ProjectID != projectID {
		return nil, ErrStalePendingUpdate
	}

	result := &ProjectSettlement{
		ProjectID: projectID,
		Total:     len(staged.Orders),
		Receipts:  []*models.Receipt{},
	}
	for i := range staged.Orders {
		pu := staged.Orders[i]
		receipt, err := s.order.SettleRefund(ctx, viewer, pu.OrderID, method, bankDetails, &pu)
		if err != nil {
			if errors.Is(err, ErrInvalidRequest) {
				return nil, err
			}
			s.logger.Warn("project member settlement failed", "project_id", projectID, "order_id", pu.OrderID, "error", err)
			result.Failed++
			result.Failures = append(result.Failures, SettlementFailure{OrderID: pu.OrderID, Error: err.Error()})
			continue
		}
		result.Settled++
		result.Receipts = append(result.Receipts, receipt)
	}

	if result.Partial() {
		result.Message = fmt.Sprintf("%d of %d succeeded, retry failed ones", result.Settled, result.Total)
	} else if err := s.staging.ClearProjectUpdate(ctx, projectID); err != nil {
		s.logger.Warn("failed to clear staged project update", "project_id", projectID, "error", err)
	}
	return result, nil
}

// members возвращает заказы проекта, видимые пользователю. Пустой проект - ErrProjectNotFound.
func (s *ProjectServiceImpl) members(ctx context.Context, viewer models.Viewer, projectID string) ([]*models.Order, error) {
	if projectID == "" {
		return nil, ErrProjectNotFound
	}
	orders, err := s.orders.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project orders: %w", err)
	}
	if !viewer.IsStaff() {
		visible := orders[:0]
		for _, o := range orders {
			if o.UserID == viewer.UserID {
				visible = append(visible, o)
			}
		}
		orders = visible
	}
	if len(orders) == 0 {
		return nil, ErrProjectNotFound
	}
	return orders, nil
}

var _ ProjectService = (*ProjectServiceImpl)(nil)
