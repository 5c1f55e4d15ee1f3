package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type ClockInRequest struct {
	ProfileName string `json:"profile_name" validate:"required"`
}

// @Summary Clock in
// @Description Starts a training session for the named profile. The first ticket window opens immediately.
// @Tags sessions
// @Accept json
// @Produce json
// @Param payload body ClockInRequest true "Profile"
// @Success 201 {object} models.Session
// @Failure 400 {object} ErrorResponse
// @Router /api/sessions/clock-in [post]
func (h *Handler) ClockIn(c *gin.Context) {
	var req ClockInRequest
	if !h.bindJSON(c, &req, false) {
		return
	}
	session, err := h.Sessions.ClockIn(c.Request.Context(), req.ProfileName)
	if err != nil {
		h.respondError(c, "Failed to clock in", err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// @Summary Clock out
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.Session
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions/{id}/clock-out [post]
func (h *Handler) ClockOut(c *gin.Context) {
	session, err := h.Sessions.ClockOut(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to clock out", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// @Summary Clock out every active session
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/sessions/clock-out-all [post]
func (h *Handler) ClockOutAll(c *gin.Context) {
	sessions, err := h.Sessions.ClockOutAll(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to clock out sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed_count": len(sessions), "items": sessions})
}

// @Summary List sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/sessions [get]
func (h *Handler) SessionsList(c *gin.Context) {
	sessions, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sessions})
}

// @Summary Session details
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions/{id} [get]
func (h *Handler) SessionDetails(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := h.Sessions.Get(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, "Session not found", err)
		return
	}
	tickets, err := h.Repo.ListTicketsForSession(ctx, session.ID)
	if err != nil {
		h.respondError(c, "Failed to list session tickets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "tickets": tickets})
}
