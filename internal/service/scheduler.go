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

type SchedulerResult struct {
	SessionsChecked  int `json:"sessions_checked"`
	TicketsGenerated int `json:"tickets_generated"`
}

// Scheduler owns session windows: it advances them and turns each window into tickets.
type Scheduler struct {
	Repo      db.Repository
	Gateway   gateway.Gateway
	Generator *Generator
	Logger    zerolog.Logger
	Now       func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Tick runs one scheduling pass at the current time.
func (s *Scheduler) Tick(ctx context.Context) (SchedulerResult, error) {
	return s.TickAt(ctx, s.now())
}

// TickAt processes every active session in start order. Cancellation is honoured between
// sessions; a session already in progress is finished first.
func (s *Scheduler) TickAt(ctx context.Context, now time.Time) (SchedulerResult, error) {
	var res SchedulerResult
	sessions, err := s.Repo.ListActiveSessions(ctx)
	if err != nil {
		return res, fmt.Errorf("list active sessions: %w", err)
	}
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.SessionsChecked++
		generated, err := s.processSession(context.WithoutCancel(ctx), session, now)
		res.TicketsGenerated += generated
		if err != nil {
			s.Logger.Error().Err(err).Str("session_id", session.ID).Msg("scheduler session failed")
		}
	}
	if res.TicketsGenerated > 0 {
		s.Logger.Info().Int("sessions_checked", res.SessionsChecked).Int("tickets_generated", res.TicketsGenerated).Msg("scheduler tick")
	}
	return res, nil
}

func (s *Scheduler) processSession(ctx context.Context, session models.Session, now time.Time) (int, error) {
	if !now.Before(session.EndsAt) {
		if err := s.Repo.CompleteSession(ctx, session.ID); err != nil {
			return 0, fmt.Errorf("complete session: %w", err)
		}
		s.Logger.Info().Str("session_id", session.ID).Msg("session completed")
		return 0, nil
	}

	profile := session.Profile
	cadence := profile.Cadence()
	if cadence <= 0 {
		return 0, fmt.Errorf("%w: session %s has no cadence", models.ErrInvalidConfig, session.ID)
	}

	queue := append([]models.PendingBatch(nil), session.PendingBatches...)
	next := session.NextWindowAt
	index := session.WindowIndex
	generated := 0

	for !now.Before(next) && next.Before(session.EndsAt) {
		if !profile.BusinessHoursOnly || isBusinessHour(next) {
			if profile.TrickleMode {
				queue = s.queueWindow(session.ID, queue, profile, index)
			} else {
				generated += s.generateWindow(ctx, session.ID, profile, index)
			}
		}
		next = next.Add(cadence)
		index++
	}

	if profile.TrickleMode {
		var n int
		queue, n = s.drainTrickle(ctx, session.ID, profile, queue)
		generated += n
	} else {
		queue = nil
	}

	err := s.Repo.AdvanceSession(ctx, session.ID, models.SessionWindow{
		NextWindowAt:   next,
		WindowIndex:    index,
		PendingBatches: queue,
	})
	if err != nil {
		return generated, fmt.Errorf("advance session: %w", err)
	}
	return generated, nil
}

func (s *Scheduler) generateWindow(ctx context.Context, sessionID string, profile models.SessionProfile, window int) int {
	created := 0
	baseline := s.Generator.between(profile.TicketsPerWindowMin, profile.TicketsPerWindowMax)
	for i := 0; i < baseline; i++ {
		if s.createLogged(ctx, sessionID, profile, TicketConstraints{}) {
			created++
		}
	}
	for _, inj := range profile.IncidentInjections {
		if inj.AtWindow != window {
			continue
		}
		for i := 0; i < inj.ExtraTickets; i++ {
			if s.createLogged(ctx, sessionID, profile, TicketConstraints{RequiredTags: inj.ScenarioTags}) {
				created++
			}
		}
		s.Logger.Info().Str("session_id", sessionID).Str("incident", inj.Name).Int("window", window).Msg("incident injection applied")
	}
	return created
}

func (s *Scheduler) queueWindow(sessionID string, queue []models.PendingBatch, profile models.SessionProfile, window int) []models.PendingBatch {
	if baseline := s.Generator.between(profile.TicketsPerWindowMin, profile.TicketsPerWindowMax); baseline > 0 {
		queue = append(queue, models.PendingBatch{Remaining: baseline, RequiredTags: []string{}})
	}
	for _, inj := range profile.IncidentInjections {
		if inj.AtWindow != window {
			continue
		}
		if inj.ExtraTickets > 0 {
			queue = append(queue, models.PendingBatch{
				Remaining:    inj.ExtraTickets,
				RequiredTags: append([]string{}, inj.ScenarioTags...),
			})
		}
		s.Logger.Info().Str("session_id", sessionID).Str("incident", inj.Name).Int("window", window).Msg("incident injection queued")
	}
	return queue
}

// drainTrickle takes up to TrickleMaxPerTick units from the head of the queue. A unit is consumed
// whether or not its ticket could be created; only created tickets are counted.
func (s *Scheduler) drainTrickle(ctx context.Context, sessionID string, profile models.SessionProfile, queue []models.PendingBatch) ([]models.PendingBatch, int) {
	budget := profile.TrickleMaxPerTick
	created := 0
	for budget > 0 && len(queue) > 0 {
		head := &queue[0]
		if head.Remaining <= 0 {
			queue = queue[1:]
			continue
		}
		take := min(head.Remaining, budget)
		for i := 0; i < take; i++ {
			if s.createLogged(ctx, sessionID, profile, TicketConstraints{RequiredTags: head.RequiredTags}) {
				created++
			}
		}
		budget -= take
		head.Remaining -= take
		if head.Remaining <= 0 {
			queue = queue[1:]
		}
	}
	if len(queue) == 0 {
		return []models.PendingBatch{}, created
	}
	return queue, created
}

func (s *Scheduler) createLogged(ctx context.Context, sessionID string, profile models.SessionProfile, c TicketConstraints) bool {
	if _, err := s.createTicket(ctx, sessionID, profile, c); err != nil {
		s.Logger.Error().Err(err).Str("session_id", sessionID).Strs("required_tags", c.RequiredTags).Msg("ticket generation failed")
		return false
	}
	return true
}

// CreateManualTicket builds one ticket for an existing session outside the window logic.
func (s *Scheduler) CreateManualTicket(ctx context.Context, sessionID string, c TicketConstraints) (models.Ticket, error) {
	session, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return models.Ticket{}, err
	}
	return s.createTicket(ctx, sessionID, session.Profile, c)
}

// createTicket pushes a generated ticket to the backend, then stores it with its opening message.
// A backend failure is logged and leaves the ticket without a backend id.
func (s *Scheduler) createTicket(ctx context.Context, sessionID string, profile models.SessionProfile, c TicketConstraints) (models.Ticket, error) {
	generated, err := s.Generator.BuildTicket(ctx, sessionID, profile, c)
	if err != nil {
		return models.Ticket{}, err
	}

	var backendID *int64
	if id, err := s.Gateway.CreateTicket(ctx, generated); err != nil {
		s.Logger.Error().Err(err).Str("session_id", sessionID).Str("scenario_id", generated.ScenarioID).Msg("backend ticket creation failed")
	} else {
		backendID = &id
	}

	now := s.now()
	ticket, err := s.Repo.CreateTicket(ctx, models.Ticket{
		SessionID:       sessionID,
		BackendTicketID: backendID,
		Subject:         generated.Subject,
		Tier:            generated.Tier,
		Priority:        generated.Priority,
		Status:          models.TicketOpen,
		ScenarioID:      generated.ScenarioID,
		HiddenTruth:     generated.HiddenTruth,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return models.Ticket{}, fmt.Errorf("store ticket: %w", err)
	}

	meta := map[string]any{"source": "generated", "backend_ticket_id": nil}
	if backendID != nil {
		meta["backend_ticket_id"] = *backendID
	}
	_, err = s.Repo.AddInteraction(ctx, models.Interaction{
		TicketID:  ticket.ID,
		Actor:     models.ActorCustomer,
		Body:      generated.Body,
		Metadata:  meta,
		CreatedAt: now,
	})
	if err != nil {
		return ticket, fmt.Errorf("store opening message: %w", err)
	}
	return ticket, nil
}

// isBusinessHour is Monday to Friday, 09:00 to 17:00 UTC.
func isBusinessHour(t time.Time) bool {
	t = t.UTC()
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 17
}
