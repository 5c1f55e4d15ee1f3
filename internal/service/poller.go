package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/gateway"
	"github.com/helpdesk_sim/backend/internal/models"
)

// recentHistoryLimit bounds the conversation context handed to the response engine.
const recentHistoryLimit = 6

type PollerResult struct {
	TicketsChecked int `json:"tickets_checked"`
	RepliesSent    int `json:"replies_sent"`
	TicketsClosed  int `json:"tickets_closed"`
}

// Poller owns ticket conversation and closure state. It mirrors backend articles into the
// transcript, answers agent messages in character, and grades tickets once the backend closes them.
type Poller struct {
	Repo    db.Repository
	Gateway gateway.Gateway
	Engine  ResponseEngine
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Tick polls every open ticket that has a backend id. Failures are isolated to the ticket.
func (p *Poller) Tick(ctx context.Context) (PollerResult, error) {
	var res PollerResult
	tickets, err := p.Repo.ListOpenTickets(ctx)
	if err != nil {
		return res, fmt.Errorf("list open tickets: %w", err)
	}
	for _, ticket := range tickets {
		if ticket.BackendTicketID == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.TicketsChecked++
		replies, closed := p.pollTicket(context.WithoutCancel(ctx), ticket)
		res.RepliesSent += replies
		if closed {
			res.TicketsClosed++
		}
	}
	if res.RepliesSent > 0 || res.TicketsClosed > 0 {
		p.Logger.Info().
			Int("tickets_checked", res.TicketsChecked).
			Int("replies_sent", res.RepliesSent).
			Int("tickets_closed", res.TicketsClosed).
			Msg("poller tick")
	}
	return res, nil
}

func (p *Poller) pollTicket(ctx context.Context, ticket models.Ticket) (int, bool) {
	backendID := *ticket.BackendTicketID
	log := p.Logger.With().Str("ticket_id", ticket.ID).Int64("backend_ticket_id", backendID).Logger()

	articles, err := p.Gateway.FetchNewArticles(ctx, backendID, ticket.LastSeenArticleID)
	if err != nil {
		log.Error().Err(err).Msg("fetch articles failed")
		return 0, false
	}

	mark := ticket.LastSeenArticleID
	replies := 0
	persistFailed := false
	for _, article := range articles {
		if article.ID <= mark {
			continue
		}
		if !article.ShouldTriggerReply() {
			mark = article.ID
			continue
		}

		_, err := p.Repo.AddInteraction(ctx, models.Interaction{
			TicketID:  ticket.ID,
			Actor:     models.ActorAgent,
			Body:      article.Body,
			Metadata:  map[string]any{"article_id": article.ID},
			CreatedAt: p.now(),
		})
		if err != nil {
			// the mark stays below this article so the next tick retries it
			log.Error().Err(err).Int64("article_id", article.ID).Msg("store agent message failed")
			persistFailed = true
			break
		}
		mark = article.ID

		if p.reply(ctx, log, ticket, article) {
			replies++
		}
	}

	if mark > ticket.LastSeenArticleID {
		if err := p.Repo.UpdateLastSeenArticleID(ctx, ticket.ID, mark); err != nil {
			log.Error().Err(err).Int64("article_id", mark).Msg("update article mark failed")
		}
	}

	// a closed ticket is only graded once every fetched agent message is stored
	if persistFailed {
		return replies, false
	}
	closed, err := p.Gateway.IsTicketClosed(ctx, backendID)
	if err != nil {
		log.Error().Err(err).Msg("read backend state failed")
		return replies, false
	}
	if !closed {
		return replies, false
	}
	finalized, err := p.finalize(ctx, ticket.ID)
	if err != nil {
		log.Error().Err(err).Msg("finalize ticket failed")
		return replies, false
	}
	return replies, finalized
}

// reply generates and posts the simulated customer answer to one agent article.
func (p *Poller) reply(ctx context.Context, log zerolog.Logger, ticket models.Ticket, article gateway.Article) bool {
	transcript, err := p.Repo.ListInteractions(ctx, ticket.ID)
	if err != nil {
		log.Error().Err(err).Msg("load transcript failed")
		return false
	}
	if len(transcript) > recentHistoryLimit {
		transcript = transcript[len(transcript)-recentHistoryLimit:]
	}

	text, err := p.Engine.GenerateReply(ctx, article.Body, ticket.HiddenTruth, transcript)
	if err != nil {
		log.Error().Err(err).Int64("article_id", article.ID).Msg("generate reply failed")
		return false
	}
	if err := p.Gateway.PostCustomerReply(ctx, *ticket.BackendTicketID, text, "Re: "+ticket.Subject); err != nil {
		log.Error().Err(err).Int64("article_id", article.ID).Msg("post customer reply failed")
		return false
	}

	_, err = p.Repo.AddInteraction(ctx, models.Interaction{
		TicketID:  ticket.ID,
		Actor:     models.ActorCustomer,
		Body:      text,
		Metadata:  map[string]any{"event": "simulated_reply", "article_id": article.ID},
		CreatedAt: p.now(),
	})
	if err != nil {
		log.Error().Err(err).Int64("article_id", article.ID).Msg("store customer reply failed")
	}
	return true
}

// finalize grades a ticket the backend reports closed. It reports false when the ticket was
// already closed locally.
func (p *Poller) finalize(ctx context.Context, ticketID string) (bool, error) {
	ticket, err := p.Repo.GetTicket(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if ticket.Status == models.TicketClosed {
		return false, nil
	}
	transcript, err := p.Repo.ListInteractions(ctx, ticketID)
	if err != nil {
		return false, fmt.Errorf("load transcript: %w", err)
	}
	session, err := p.Repo.GetSession(ctx, ticket.SessionID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}

	closedAt := p.now()
	ticket.ClosedAt = &closedAt
	result := Grade(ticket, transcript, session.Profile)
	ok, err := p.Repo.CloseTicket(ctx, ticketID, result, closedAt)
	if err != nil {
		return false, fmt.Errorf("close ticket: %w", err)
	}
	if ok {
		p.Logger.Info().Str("ticket_id", ticketID).Int("total", result.Score.Total).Msg("ticket closed and graded")
	}
	return ok, nil
}
