package handlers

import (
	"net/http"

	"github.com/agamariel/printdesk/internal/auth"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/labstack/echo/v4"
)

// ConversationHandler обрабатывает запросы к обращениям в поддержку.
type ConversationHandler struct {
	conversationService services.ConversationService
}

func NewConversationHandler(conversationService services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// ListConversations обрабатывает GET /api/conversations.
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}

	resp, err := h.conversationService.ListConversations(c.Request().Context(), viewer)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateConversation обрабатывает POST /api/conversations.
// Для заказа с уже открытым обращением возвращает его со статусом 200.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}

	var req models.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	conv, created, err := h.conversationService.CreateConversation(c.Request().Context(), viewer, &req)
	if err != nil {
		return serviceError(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, models.NewConversationView(conv, viewerRole(viewer), 0, conv.UpdatedAt))
}

// ListMessages обрабатывает GET /api/conversations/:id/messages.
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	resp, err := h.conversationService.ListMessages(c.Request().Context(), viewer, id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// PostMessage обрабатывает POST /api/conversations/:id/messages.
func (h *ConversationHandler) PostMessage(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	msg, err := h.conversationService.PostMessage(c.Request().Context(), viewer, id, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, models.MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderRole:     msg.SenderRole,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		Attachments:    msg.Attachments,
		CreatedAt:      msg.CreatedAt,
	})
}

// MarkRead обрабатывает POST /api/conversations/:id/read.
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.conversationService.MarkRead(c.Request().Context(), viewer, id); err != nil {
		return serviceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetTyping обрабатывает POST /api/conversations/:id/typing.
func (h *ConversationHandler) SetTyping(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.TypingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	if err := h.conversationService.SetTyping(c.Request().Context(), viewer, id, req.Typing); err != nil {
		return serviceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateStatus обрабатывает PATCH /api/conversations/:id/status (только сотрудники).
func (h *ConversationHandler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.ConversationStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	conv, err := h.conversationService.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, models.NewConversationView(conv, models.RoleStaff, 0, conv.UpdatedAt))
}

func viewerRole(viewer models.Viewer) models.Role {
	if viewer.IsStaff() {
		return models.RoleStaff
	}
	return models.RoleCustomer
}
