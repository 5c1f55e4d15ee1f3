package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/gateway"
	"github.com/helpdesk_sim/backend/internal/models"
)

const (
	MaxManualTickets = 20

	manualCloseReason = "closed from simulator dashboard"
	bulkCloseReason   = "bulk close from simulator dashboard"
)

type ArticleSource interface {
	KnowledgeArticles(ids []string) []models.KnowledgeArticle
}

// TicketAdmin holds the operator actions on tickets: manual generation, close, delete and
// knowledge lookups.
type TicketAdmin struct {
	Repo      db.Repository
	Gateway   gateway.Gateway
	Scheduler *Scheduler
	Sessions  *SessionService
	Articles  ArticleSource
	Logger    zerolog.Logger
	Now       func() time.Time
}

type TicketDetail struct {
	Ticket       models.Ticket        `json:"ticket"`
	Interactions []models.Interaction `json:"interactions"`
}

type GenerateResult struct {
	SessionID      string          `json:"session_id"`
	RequestedCount int             `json:"requested_count"`
	CreatedCount   int             `json:"created_count"`
	Tickets        []models.Ticket `json:"tickets"`
}

type CloseResult struct {
	TicketID      string `json:"ticket_id"`
	Closed        bool   `json:"closed"`
	BackendClosed bool   `json:"backend_closed"`
}

type DeleteResult struct {
	TicketID        string `json:"ticket_id"`
	Deleted         bool   `json:"deleted"`
	BackendTicketID *int64 `json:"backend_ticket_id"`
	BackendDeleted  bool   `json:"backend_deleted"`
	ClosedFallback  bool   `json:"backend_closed_fallback"`
}

type BulkDeleteResult struct {
	SessionID           string `json:"session_id"`
	DeletedCount        int    `json:"deleted_count"`
	BackendAttempted    int    `json:"backend_attempted"`
	BackendDeletedCount int    `json:"backend_deleted_count"`
	ClosedFallbackCount int    `json:"backend_closed_fallback_count"`
}

type KnowledgeDraft struct {
	TicketID string `json:"ticket_id"`
	Ready    bool   `json:"ready"`
	Markdown string `json:"markdown"`
}

func (a *TicketAdmin) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a *TicketAdmin) Get(ctx context.Context, id string) (TicketDetail, error) {
	ticket, err := a.Repo.GetTicket(ctx, id)
	if err != nil {
		return TicketDetail{}, err
	}
	interactions, err := a.Repo.ListInteractions(ctx, id)
	if err != nil {
		return TicketDetail{}, err
	}
	return TicketDetail{Ticket: ticket, Interactions: interactions}, nil
}

// Generate creates count tickets in sessionID, or in the latest active session when empty.
func (a *TicketAdmin) Generate(ctx context.Context, sessionID string, count int, c TicketConstraints) (GenerateResult, error) {
	if count < 1 || count > MaxManualTickets {
		return GenerateResult{}, fmt.Errorf("%w: count must be within 1..%d", models.ErrInvalidConfig, MaxManualTickets)
	}
	if sessionID == "" {
		latest, err := a.Sessions.LatestActive(ctx)
		if err != nil {
			return GenerateResult{}, err
		}
		sessionID = latest.ID
	}
	res := GenerateResult{SessionID: sessionID, RequestedCount: count, Tickets: []models.Ticket{}}
	for i := 0; i < count; i++ {
		ticket, err := a.Scheduler.CreateManualTicket(ctx, sessionID, c)
		if err != nil {
			return res, err
		}
		res.Tickets = append(res.Tickets, ticket)
		res.CreatedCount++
	}
	return res, nil
}

func manualScore(reason string) models.ScoreResult {
	return models.ScoreResult{MissedChecks: []string{}, ManualClose: true, Reason: reason}
}

// Close marks one ticket closed with a zeroed manual score. The backend ticket is closed best
// effort.
func (a *TicketAdmin) Close(ctx context.Context, id string) (CloseResult, error) {
	ticket, err := a.Repo.GetTicket(ctx, id)
	if err != nil {
		return CloseResult{}, err
	}
	res := CloseResult{TicketID: id}
	if ticket.Status == models.TicketClosed {
		return res, nil
	}
	res.BackendClosed = a.closeBackend(ctx, ticket)
	res.Closed, err = a.Repo.CloseTicket(ctx, id, manualScore(manualCloseReason), a.now())
	if err != nil {
		return CloseResult{}, err
	}
	return res, nil
}

// CloseAll closes every open ticket of a session and returns how many were closed.
func (a *TicketAdmin) CloseAll(ctx context.Context, sessionID string) (int, error) {
	if _, err := a.Repo.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	tickets, err := a.Repo.ListTicketsForSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, t := range tickets {
		if t.Status == models.TicketClosed {
			continue
		}
		a.closeBackend(ctx, t)
		ok, err := a.Repo.CloseTicket(ctx, t.ID, manualScore(bulkCloseReason), a.now())
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (a *TicketAdmin) closeBackend(ctx context.Context, t models.Ticket) bool {
	if t.BackendTicketID == nil {
		return false
	}
	ok, err := a.Gateway.CloseTicket(ctx, *t.BackendTicketID)
	if err != nil {
		a.Logger.Error().Err(err).Str("ticket_id", t.ID).Int64("backend_ticket_id", *t.BackendTicketID).Msg("backend close failed")
		return false
	}
	return ok
}

// removeBackend deletes the backend copy of t, closing it instead when fallbackClose is set and
// the delete fails.
func (a *TicketAdmin) removeBackend(ctx context.Context, t models.Ticket, fallbackClose bool) (deleted, closed bool, err error) {
	backendID := *t.BackendTicketID
	deleted, delErr := a.Gateway.DeleteTicket(ctx, backendID)
	if delErr == nil {
		return deleted, false, nil
	}
	if !fallbackClose {
		return false, false, fmt.Errorf("%w: delete backend ticket %d: %v", models.ErrUpstreamUnavailable, backendID, delErr)
	}
	closed, closeErr := a.Gateway.CloseTicket(ctx, backendID)
	if closeErr != nil {
		return false, false, fmt.Errorf("%w: delete backend ticket %d: %v; fallback close: %v", models.ErrUpstreamUnavailable, backendID, delErr, closeErr)
	}
	if !closed {
		return false, false, fmt.Errorf("%w: delete backend ticket %d: %v; fallback close returned false", models.ErrUpstreamUnavailable, backendID, delErr)
	}
	return false, true, nil
}

// Delete removes one ticket. The backend copy goes first; a backend failure leaves local data untouched.
func (a *TicketAdmin) Delete(ctx context.Context, id string, fallbackClose bool) (DeleteResult, error) {
	ticket, err := a.Repo.GetTicket(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{TicketID: id, BackendTicketID: ticket.BackendTicketID}
	if ticket.BackendTicketID != nil {
		res.BackendDeleted, res.ClosedFallback, err = a.removeBackend(ctx, ticket, fallbackClose)
		if err != nil {
			return DeleteResult{}, err
		}
	}
	if err := a.Repo.DeleteTicket(ctx, id); err != nil {
		return DeleteResult{}, err
	}
	res.Deleted = true
	a.Logger.Info().Str("ticket_id", id).Bool("backend_deleted", res.BackendDeleted).Msg("ticket deleted")
	return res, nil
}

// DeleteAll removes every ticket of a session once all backend copies are gone or closed.
func (a *TicketAdmin) DeleteAll(ctx context.Context, sessionID string, fallbackClose bool) (BulkDeleteResult, error) {
	if _, err := a.Repo.GetSession(ctx, sessionID); err != nil {
		return BulkDeleteResult{}, err
	}
	tickets, err := a.Repo.ListTicketsForSession(ctx, sessionID)
	if err != nil {
		return BulkDeleteResult{}, err
	}
	res := BulkDeleteResult{SessionID: sessionID}
	var failures []string
	for _, t := range tickets {
		if t.BackendTicketID == nil {
			continue
		}
		res.BackendAttempted++
		deleted, closed, err := a.removeBackend(ctx, t, fallbackClose)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if deleted {
			res.BackendDeletedCount++
		}
		if closed {
			res.ClosedFallbackCount++
		}
	}
	if len(failures) > 0 {
		if len(failures) > 6 {
			failures = failures[:6]
		}
		return res, fmt.Errorf("%w: backend cleanup failed before local delete: %s", models.ErrUpstreamUnavailable, strings.Join(failures, "; "))
	}
	res.DeletedCount, err = a.Repo.DeleteTicketsForSession(ctx, sessionID)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (a *TicketAdmin) KnowledgeArticles(ctx context.Context, id string) ([]models.KnowledgeArticle, error) {
	ticket, err := a.Repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	articles := a.Articles.KnowledgeArticles(ticket.HiddenTruth.KnowledgeArticleIDs)
	if articles == nil {
		articles = []models.KnowledgeArticle{}
	}
	return articles, nil
}

// KnowledgeDraft renders a knowledge-base article from a closed ticket. Open tickets return
// Ready=false and no markdown.
func (a *TicketAdmin) KnowledgeDraft(ctx context.Context, id string) (KnowledgeDraft, error) {
	detail, err := a.Get(ctx, id)
	if err != nil {
		return KnowledgeDraft{}, err
	}
	if detail.Ticket.Status != models.TicketClosed {
		return KnowledgeDraft{TicketID: id}, nil
	}
	return KnowledgeDraft{TicketID: id, Ready: true, Markdown: buildKnowledgeMarkdown(detail.Ticket, detail.Interactions)}, nil
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return "- " + empty
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func buildKnowledgeMarkdown(t models.Ticket, transcript []models.Interaction) string {
	truth := t.HiddenTruth
	var agentNotes, customerMsgs []string
	for _, in := range transcript {
		body := strings.TrimSpace(in.Body)
		if body == "" {
			continue
		}
		switch in.Actor {
		case models.ActorAgent:
			agentNotes = append(agentNotes, body)
		case models.ActorCustomer:
			customerMsgs = append(customerMsgs, body)
		}
	}
	if len(agentNotes) > 5 {
		agentNotes = agentNotes[len(agentNotes)-5:]
	}
	symptom := t.Subject
	if len(customerMsgs) > 0 {
		symptom = customerMsgs[0]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Subject)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Ticket Type: %s\n", firstNonEmpty(strings.TrimSpace(truth.TicketType), "general"))
	fmt.Fprintf(&b, "- Tier: %s\n", t.Tier)
	fmt.Fprintf(&b, "- Priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "- Scenario ID: %s\n", firstNonEmpty(truth.ScenarioID, t.ScenarioID))
	fmt.Fprintf(&b, "- Related Persona Department: %s\n\n", firstNonEmpty(truth.Persona.Role, "-"))
	fmt.Fprintf(&b, "## Symptoms\n- %s\n\n", symptom)
	fmt.Fprintf(&b, "## Root Cause\n- %s\n\n", firstNonEmpty(strings.TrimSpace(truth.RootCause), "Root cause not documented."))
	fmt.Fprintf(&b, "## Troubleshooting Checklist\n%s\n\n", bulletList(truth.ExpectedAgentChecks, "Not specified."))
	fmt.Fprintf(&b, "## Resolution Steps\n%s\n\n", bulletList(truth.ResolutionSteps, "Not specified."))
	fmt.Fprintf(&b, "## Analyst Notes (From Ticket)\n%s\n\n", bulletList(agentNotes, "No agent notes captured."))
	b.WriteString("## Validation\n")
	b.WriteString("- Confirm user can complete the original action without error.\n")
	b.WriteString("- Confirm no policy/security exceptions were introduced.\n")
	b.WriteString("- Capture timestamp and impacted user details in final documentation.\n")
	return b.String()
}
