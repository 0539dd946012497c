package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/agamariel/printdesk/internal/storage"
	"github.com/google/uuid"
)

// ConversationService определяет операции над обращениями в поддержку.
type ConversationService interface {
	CreateConversation(ctx context.Context, viewer models.Viewer, req *models.CreateConversationRequest) (*models.Conversation, bool, error)
	ListConversations(ctx context.Context, viewer models.Viewer) (*models.ConversationListResponse, error)
	GetConversation(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.Conversation, error)
	ListMessages(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.MessageListResponse, error)
	PostMessage(ctx context.Context, viewer models.Viewer, id uuid.UUID, req *models.PostMessageRequest) (*models.Message, error)
	MarkRead(ctx context.Context, viewer models.Viewer, id uuid.UUID) error
	SetTyping(ctx context.Context, viewer models.Viewer, id uuid.UUID, typing bool) error
	UpdateStatus(ctx context.Context, id uuid.UUID, to models.ConversationStatus) (*models.Conversation, error)
	CloseForOrder(ctx context.Context, orderID uuid.UUID) error
}

// ConversationServiceImpl реализует ConversationService.
type ConversationServiceImpl struct {
	conversations ConversationStorage
	orders        OrderStorage
	logger        *slog.Logger
	events        eventSink
	clock         func() time.Time
}

// NewConversationService создаёт сервис обращений.
func NewConversationService(conversations ConversationStorage, orders OrderStorage, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger, now func() time.Time) *ConversationServiceImpl {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "conversations")
	if m == nil {
		m = metrics.New("printdesk")
	}
	return &ConversationServiceImpl{
		conversations: conversations,
		orders:        orders,
		logger:        logger,
		events:        eventSink{notifier: notifier, metrics: m, logger: logger},
		clock:         utcClock(now),
	}
}

// CreateConversation открывает обращение по заказу. Для заказа существует одно обращение:
// повторный вызов возвращает уже существующее, второй результат - было ли оно создано.
func (s *ConversationServiceImpl) CreateConversation(ctx context.Context, viewer models.Viewer, req *models.CreateConversationRequest) (*models.Conversation, bool, error) {
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("get order: %w", err)
	}
	if !viewer.IsStaff() && order.UserID != viewer.UserID {
		return nil, false, ErrForbidden
	}

	existing, err := s.conversations.GetByOrderID(ctx, order.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrConversationNotFound) {
		return nil, false, fmt.Errorf("get conversation: %w", err)
	}

	now := s.clock()
	subject := req.Subject
	if subject == "" {
		subject = "Order " + order.ID.String()
	}
	conv := &models.Conversation{
		ID:         uuid.New(),
		OrderID:    order.ID,
		CustomerID: order.UserID,
		ProjectID:  order.ProjectID,
		Subject:    subject,
		Status:     models.ConversationOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, storage.ErrConversationExists) {
			existing, gErr := s.conversations.GetByOrderID(ctx, order.ID)
			if gErr != nil {
				return nil, false, fmt.Errorf("get conversation: %w", gErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("conversation created", "conversation_id", conv.ID, "order_id", order.ID)

	if req.Body != "" || len(req.Attachments) > 0 {
		if _, err := s.PostMessage(ctx, viewer, conv.ID, &models.PostMessageRequest{Body: req.Body, Attachments: req.Attachments}); err != nil {
			return nil, false, err
		}
		if conv, err = s.conversations.GetByID(ctx, conv.ID); err != nil {
			return nil, false, fmt.Errorf("get conversation: %w", err)
		}
	}
	return conv, true, nil
}

// ListConversations возвращает снимок обращений со счётчиками непрочитанного для читателя.
func (s *ConversationServiceImpl) ListConversations(ctx context.Context, viewer models.Viewer) (*models.ConversationListResponse, error) {
	var filter *uuid.UUID
	if !viewer.IsStaff() {
		filter = &viewer.UserID
	}
	convs, err := s.conversations.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	reader := readerRole(viewer)
	ids := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	counts, err := s.conversations.UnreadCounts(ctx, reader, ids)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	now := s.clock()
	resp := &models.ConversationListResponse{
		ServerTime:    now,
		Conversations: make([]models.ConversationView, 0, len(convs)),
	}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, models.NewConversationView(c, reader, counts[c.ID], now))
	}
	return resp, nil
}

// GetConversation возвращает обращение с проверкой доступа.
func (s *ConversationServiceImpl) GetConversation(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !viewer.IsStaff() && conv.CustomerID != viewer.UserID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListMessages возвращает снимок обращения и его сообщений. Отметку прочтения не меняет.
func (s *ConversationServiceImpl) ListMessages(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.MessageListResponse, error) {
	conv, err := s.GetConversation(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.conversations.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	reader := readerRole(viewer)
	now := s.clock()
	resp := &models.MessageListResponse{
		ServerTime:   now,
		Conversation: models.NewConversationView(conv, reader, models.UnreadFor(conv, messages, reader), now),
		Messages:     make([]models.MessageView, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, models.NewMessageView(m, conv))
	}
	return resp, nil
}

// PostMessage добавляет сообщение от клиента или сотрудника.
// Закрытое обращение не принимает сообщений; сообщение клиента в решённом обращении открывает его снова.
func (s *ConversationServiceImpl) PostMessage(ctx context.Context, viewer models.Viewer, id uuid.UUID, req *models.PostMessageRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, invalidRequest("%v", err)
	}
	conv, err := s.GetConversation(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.ConversationClosed {
		return nil, ErrConversationClosed
	}

	role := readerRole(viewer)
	now := s.clock()
	if role == models.RoleCustomer && conv.Status == models.ConversationResolved {
		if err := s.conversations.SetStatus(ctx, id, models.ConversationResolved, models.ConversationOpen, now); err != nil {
			return nil, fmt.Errorf("reopen conversation: %w", err)
		}
		s.logger.Info("conversation reopened", "conversation_id", id)
	}

	sender := viewer.UserID
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: id,
		SenderRole:     role,
		SenderID:       &sender,
		Body:           req.Body,
		Attachments:    req.Attachments,
		CreatedAt:      now,
	}
	if err := s.conversations.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.events.emit(ctx, notify.EventConversationMessage, conv.OrderID, conv.CustomerID, now, map[string]any{
		"conversation_id": id,
		"sender_role":     role,
	})
	return msg, nil
}

// MarkRead выставляет отметку прочтения читателя на текущий момент. Повторный вызов безопасен.
func (s *ConversationServiceImpl) MarkRead(ctx context.Context, viewer models.Viewer, id uuid.UUID) error {
	if _, err := s.GetConversation(ctx, viewer, id); err != nil {
		return err
	}
	if err := s.conversations.SetLastRead(ctx, id, readerRole(viewer), s.clock()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SetTyping обновляет сигнал «печатает». Сброс снимает только собственный сигнал.
func (s *ConversationServiceImpl) SetTyping(ctx context.Context, viewer models.Viewer, id uuid.UUID, typing bool) error {
	conv, err := s.GetConversation(ctx, viewer, id)
	if err != nil {
		return err
	}
	role := readerRole(viewer)
	if !typing {
		if err := s.conversations.ClearTyping(ctx, id, role); err != nil {
			return fmt.Errorf("clear typing: %w", err)
		}
		return nil
	}
	if conv.Status == models.ConversationClosed {
		return nil
	}
	if err := s.conversations.SetTyping(ctx, id, role, s.clock()); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// UpdateStatus двигает статус обращения вперёд по запросу сотрудника.
func (s *ConversationServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, to models.ConversationStatus) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if err := models.ValidateConversationTransition(conv.Status, to); err != nil {
		return nil, err
	}
	if conv.Status == to {
		return conv, nil
	}

	now := s.clock()
	if err := s.conversations.SetStatus(ctx, id, conv.Status, to, now); err != nil {
		return nil, fmt.Errorf("update conversation status: %w", err)
	}
	conv.Status = to
	conv.UpdatedAt = now

	if to == models.ConversationClosed {
		s.events.emit(ctx, notify.EventConversationClosed, conv.OrderID, conv.CustomerID, now, nil)
	}
	return conv, nil
}

// CloseForOrder публикует системное уведомление о завершении заказа и закрывает обращение.
// Каждый шаг проверяется перед выполнением, поэтому вызов можно повторять.
func (s *ConversationServiceImpl) CloseForOrder(ctx context.Context, orderID uuid.UUID) error {
	conv, err := s.conversations.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil
		}
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv.Status == models.ConversationClosed {
		return nil
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	notice := closingNotice(order.Status)

	messages, err := s.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if !hasSystemNotice(messages, notice) {
		msg := &models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderRole:     models.RoleSystem,
			Body:           notice,
			CreatedAt:      s.clock(),
		}
		if err := s.conversations.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append closing notice: %w", err)
		}
	}

	now := s.clock()
	if err := s.conversations.SetStatus(ctx, conv.ID, conv.Status, models.ConversationClosed, now); err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}

	s.logger.Info("conversation closed", "conversation_id", conv.ID, "order_id", orderID, "order_status", order.Status)
	s.events.emit(ctx, notify.EventConversationClosed, orderID, conv.CustomerID, now, map[string]any{
		"conversation_id": conv.ID,
	})
	return nil
}

func closingNotice(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusDelivered:
		return "The order has been delivered. This conversation is now closed."
	case models.OrderStatusSuspended:
		return "The order has been cancelled. This conversation is now closed."
	}
	return "This conversation is now closed."
}

func hasSystemNotice(messages []*models.Message, notice string) bool {
	for _, m := range messages {
		if m.SenderRole == models.RoleSystem && m.Body == notice {
			return true
		}
	}
	return false
}

func readerRole(viewer models.Viewer) models.Role {
	if viewer.IsStaff() {
		return models.RoleStaff
	}
	return models.RoleCustomer
}

var (
	_ ConversationService = (*ConversationServiceImpl)(nil)
	_ ConversationCloser  = (*ConversationServiceImpl)(nil)
)
