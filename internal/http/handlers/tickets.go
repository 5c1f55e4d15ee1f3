package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk_sim/backend/internal/models"
	"github.com/helpdesk_sim/backend/internal/service"
)

type GenerateTicketsRequest struct {
	SessionID    string   `json:"session_id"`
	Count        int      `json:"count" validate:"omitempty,min=1,max=20"`
	Tier         string   `json:"tier" validate:"omitempty,oneof=tier1 tier2 sysadmin"`
	TicketType   string   `json:"ticket_type"`
	Department   string   `json:"department"`
	PersonaID    string   `json:"persona_id"`
	ScenarioID   string   `json:"scenario_id"`
	RequiredTags []string `json:"required_tags" validate:"omitempty,dive,required"`
}

type HintRequest struct {
	TicketID string `json:"ticket_id" validate:"required"`
	Level    string `json:"level" validate:"required,oneof=nudge guided_step strong_hint"`
}

// @Summary Ticket details
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} service.TicketDetail
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id} [get]
func (h *Handler) TicketDetails(c *gin.Context) {
	detail, err := h.Tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Ticket not found", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// @Summary Knowledge articles linked from a ticket
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} map[string]any
// @Router /api/tickets/{id}/knowledge-articles [get]
func (h *Handler) TicketKnowledgeArticles(c *gin.Context) {
	items, err := h.Tickets.KnowledgeArticles(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Ticket not found", err)
		return
	}
	if items == nil {
		items = []models.KnowledgeArticle{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Draft a knowledge article from a closed ticket
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} service.KnowledgeDraft
// @Router /api/tickets/{id}/knowledge-draft [post]
func (h *Handler) TicketKnowledgeDraft(c *gin.Context) {
	draft, err := h.Tickets.KnowledgeDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to draft knowledge article", err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// @Summary Generate tickets
// @Description Creates up to 20 tickets for a session. Without session_id the most recent active session is used.
// @Tags tickets
// @Accept json
// @Produce json
// @Param payload body GenerateTicketsRequest false "Overrides"
// @Success 201 {object} service.GenerateResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/generate [post]
func (h *Handler) GenerateTickets(c *gin.Context) {
	var req GenerateTicketsRequest
	if !h.bindJSON(c, &req, true) {
		return
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	res, err := h.Tickets.Generate(c.Request.Context(), req.SessionID, count, service.TicketConstraints{
		RequiredTags: req.RequiredTags,
		Tier:         models.Tier(req.Tier),
		TicketType:   req.TicketType,
		Department:   req.Department,
		PersonaID:    req.PersonaID,
		ScenarioID:   req.ScenarioID,
	})
	if err != nil {
		h.respondError(c, "Failed to generate tickets", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// @Summary Close a ticket
// @Description Closes the ticket locally and best-effort in the helpdesk. The ticket is scored as a manual close.
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} service.CloseResult
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/close [post]
func (h *Handler) CloseTicket(c *gin.Context) {
	res, err := h.Tickets.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to close ticket", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Delete a ticket
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Param fallback_close_on_delete_failure query bool false "Close in the helpdesk when delete is refused"
// @Success 200 {object} service.DeleteResult
// @Failure 502 {object} ErrorResponse
// @Router /api/tickets/{id} [delete]
func (h *Handler) DeleteTicket(c *gin.Context) {
	fallback, ok := fallbackClose(c)
	if !ok {
		return
	}
	res, err := h.Tickets.Delete(c.Request.Context(), c.Param("id"), fallback)
	if err != nil {
		h.respondError(c, "Failed to delete ticket", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Close every open ticket of a session
// @Tags tickets
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} map[string]any
// @Router /api/sessions/{id}/tickets/close-all [post]
func (h *Handler) CloseSessionTickets(c *gin.Context) {
	sessionID := c.Param("id")
	closed, err := h.Tickets.CloseAll(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, "Failed to close session tickets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "closed_count": closed})
}

// @Summary Delete every ticket of a session
// @Tags tickets
// @Produce json
// @Param id path string true "Session ID"
// @Param fallback_close_on_delete_failure query bool false "Close in the helpdesk when delete is refused"
// @Success 200 {object} service.BulkDeleteResult
// @Failure 502 {object} ErrorResponse
// @Router /api/sessions/{id}/tickets [delete]
func (h *Handler) DeleteSessionTickets(c *gin.Context) {
	fallback, ok := fallbackClose(c)
	if !ok {
		return
	}
	res, err := h.Tickets.DeleteAll(c.Request.Context(), c.Param("id"), fallback)
	if err != nil {
		h.respondError(c, "Failed to delete session tickets", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Request a hint
// @Tags hints
// @Accept json
// @Produce json
// @Param payload body HintRequest true "Hint request"
// @Success 200 {object} service.HintResult
// @Failure 400 {object} ErrorResponse
// @Router /api/hints [post]
func (h *Handler) RequestHint(c *gin.Context) {
	var req HintRequest
	if !h.bindJSON(c, &req, false) {
		return
	}
	res, err := h.Hints.RequestHint(c.Request.Context(), req.TicketID, models.HintLevel(req.Level))
	if err != nil {
		h.respondError(c, "Failed to request hint", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Daily report
// @Tags reports
// @Produce json
// @Success 200 {object} models.ReportSummary
// @Router /api/reports/daily [get]
func (h *Handler) DailyReport(c *gin.Context) {
	h.report(c, models.ReportDaily)
}

// @Summary Weekly report
// @Tags reports
// @Produce json
// @Success 200 {object} models.ReportSummary
// @Router /api/reports/weekly [get]
func (h *Handler) WeeklyReport(c *gin.Context) {
	h.report(c, models.ReportWeekly)
}

func (h *Handler) report(c *gin.Context, reportType models.ReportType) {
	summary, err := h.Reports.Generate(c.Request.Context(), reportType)
	if err != nil {
		h.respondError(c, "Failed to generate report", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func fallbackClose(c *gin.Context) (bool, bool) {
	raw := c.Query("fallback_close_on_delete_failure")
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "fallback_close_on_delete_failure must be a boolean", err.Error())
		return false, false
	}
	return v, true
}
