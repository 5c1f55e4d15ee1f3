package db

import (
	"context"
	"time"

	"github.com/helpdesk_sim/backend/internal/models"
)

// Repository is the persistence boundary of the simulator. Every method is individually durable;
// callers read state at the start of each operation instead of caching it.
type Repository interface {
	Ping(ctx context.Context) error

	CreateSession(ctx context.Context, s models.Session) (models.Session, error)
	GetSession(ctx context.Context, id string) (models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	// ListActiveSessions returns active sessions ordered by started_at ascending.
	ListActiveSessions(ctx context.Context) ([]models.Session, error)
	AdvanceSession(ctx context.Context, id string, w models.SessionWindow) error
	CompleteSession(ctx context.Context, id string) error

	CreateTicket(ctx context.Context, t models.Ticket) (models.Ticket, error)
	GetTicket(ctx context.Context, id string) (models.Ticket, error)
	// ListOpenTickets returns open tickets ordered by created_at ascending.
	ListOpenTickets(ctx context.Context) ([]models.Ticket, error)
	ListTicketsForSession(ctx context.Context, sessionID string) ([]models.Ticket, error)
	UpdateLastSeenArticleID(ctx context.Context, id string, articleID int64) error
	UpdateHiddenTruth(ctx context.Context, id string, truth models.HiddenTruth) error
	// CloseTicket transitions an open ticket to closed with its score. It reports false when the
	// ticket was already closed, leaving the stored score untouched.
	CloseTicket(ctx context.Context, id string, score models.ScoreResult, closedAt time.Time) (bool, error)
	DeleteTicket(ctx context.Context, id string) error
	DeleteTicketsForSession(ctx context.Context, sessionID string) (int, error)
	ListClosedTicketsBetween(ctx context.Context, start, end time.Time) ([]models.Ticket, error)

	AddInteraction(ctx context.Context, in models.Interaction) (models.Interaction, error)
	// ListInteractions returns the transcript of a ticket in creation order.
	ListInteractions(ctx context.Context, ticketID string) ([]models.Interaction, error)

	SaveReport(ctx context.Context, r models.Report) (models.Report, error)
	LatestReport(ctx context.Context, reportType models.ReportType) (models.Report, error)
}
