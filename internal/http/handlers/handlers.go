package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/catalog"
	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/models"
	"github.com/helpdesk_sim/backend/internal/service"
)

type Handler struct {
	Repo      db.Repository
	Catalog   *catalog.Catalog
	Sessions  *service.SessionService
	Tickets   *service.TicketAdmin
	Hints     *service.HintService
	Reports   *service.ReportService
	Workers   *service.Workers
	Engine    service.ResponseEngine
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// respondError maps domain errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", message, err.Error())
	case errors.Is(err, models.ErrAlreadyClosed):
		writeError(c, http.StatusConflict, "ALREADY_CLOSED", message, err.Error())
	case errors.Is(err, models.ErrHintsDisabled):
		writeError(c, http.StatusBadRequest, "HINTS_DISABLED", message, err.Error())
	case errors.Is(err, models.ErrInvalidConfig):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", message, err.Error())
	case errors.Is(err, models.ErrUpstreamUnavailable):
		writeError(c, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", message, err.Error())
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg(message)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, err.Error())
	}
}

// bindJSON decodes and validates the body. An empty body is accepted when allowEmpty is set.
func (h *Handler) bindJSON(c *gin.Context, req any, allowEmpty bool) bool {
	if !(allowEmpty && c.Request.ContentLength == 0) {
		if err := c.ShouldBindJSON(req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return false
		}
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} ErrorResponse
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Repo.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List session profiles
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/profiles [get]
func (h *Handler) Profiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Catalog.Profiles()})
}

// @Summary Catalog overview
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/catalog [get]
func (h *Handler) CatalogOverview(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"profiles":     h.Catalog.ProfileNames(),
		"personas":     h.Catalog.AllPersonas(),
		"scenarios":    h.Catalog.AllScenarios(),
		"ticket_types": h.Catalog.TicketTypes(),
		"departments":  h.Catalog.Departments(),
		"tiers":        models.Tiers,
	})
}

// @Summary List knowledge articles
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/knowledge-articles [get]
func (h *Handler) KnowledgeArticlesList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Catalog.AllKnowledgeArticles()})
}

// @Summary Response engine status
// @Tags engine
// @Produce json
// @Success 200 {object} service.EngineStatus
// @Router /api/engine/status [get]
func (h *Handler) EngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.DescribeStatus())
}

// @Summary Run the scheduler once
// @Tags workers
// @Produce json
// @Success 200 {object} service.SchedulerResult
// @Router /api/scheduler/run-once [post]
func (h *Handler) SchedulerRunOnce(c *gin.Context) {
	res, err := h.Workers.RunSchedulerOnce(c.Request.Context())
	if err != nil {
		h.respondError(c, "Scheduler run failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Run the poller once
// @Tags workers
// @Produce json
// @Success 200 {object} service.PollerResult
// @Router /api/poller/run-once [post]
func (h *Handler) PollerRunOnce(c *gin.Context) {
	res, err := h.Workers.RunPollerOnce(c.Request.Context())
	if err != nil {
		h.respondError(c, "Poller run failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
