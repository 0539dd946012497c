package handlers

import (
	"net/http"

	"github.com/agamariel/printdesk/internal/auth"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/labstack/echo/v4"
)

// ProjectHandler обрабатывает запросы к проектам.
type ProjectHandler struct {
	projectService services.ProjectService
}

func NewProjectHandler(projectService services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// GetProject обрабатывает GET /api/projects/:id.
func (h *ProjectHandler) GetProject(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}

	summary, err := h.projectService.AggregateProject(c.Request().Context(), viewer, c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// CancelProject обрабатывает POST /api/projects/:id/cancel.
func (h *ProjectHandler) CancelProject(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}

	update, err := h.projectService.RequestProjectCancellation(c.Request().Context(), viewer, c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, update)
}

// SettleProject обрабатывает POST /api/projects/:id/settle.
// Частичный успех возвращается со статусом 207 и списком сбоев.
func (h *ProjectHandler) SettleProject(c echo.Context) error {
	viewer, err := auth.GetViewerFromContext(c)
	if err != nil {
		return err
	}
	projectID := c.Param("id")

	var req models.SettleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	ctx := c.Request().Context()
	update, err := h.projectService.ResolveProjectUpdate(ctx, projectID, req.PendingUpdate)
	if err != nil {
		return serviceError(c, err)
	}

	result, err := h.projectService.SettleProjectRefund(ctx, viewer, projectID, req.Method, req.BankDetails, update)
	if err != nil {
		return serviceError(c, err)
	}
	if result.Partial() {
		return c.JSON(http.StatusMultiStatus, result)
	}
	return c.JSON(http.StatusOK, result)
}
