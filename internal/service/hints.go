package service

import (
	"context"
	"fmt"
	"time"

	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/models"
)

const noHintText = "No hint available."

type HintResult struct {
	TicketID       string           `json:"ticket_id"`
	Level          models.HintLevel `json:"level"`
	Hint           string           `json:"hint"`
	PenaltyApplied int              `json:"penalty_applied"`
}

type HintService struct {
	Repo db.Repository
	Now  func() time.Time
}

// RequestHint returns the hint for level and charges its penalty to the ticket.
func (s *HintService) RequestHint(ctx context.Context, ticketID string, level models.HintLevel) (HintResult, error) {
	if !level.Valid() {
		return HintResult{}, fmt.Errorf("%w: unknown hint level %q", models.ErrInvalidConfig, level)
	}
	ticket, err := s.Repo.GetTicket(ctx, ticketID)
	if err != nil {
		return HintResult{}, err
	}
	if ticket.Status == models.TicketClosed {
		return HintResult{}, fmt.Errorf("hint for ticket %s: %w", ticketID, models.ErrAlreadyClosed)
	}
	session, err := s.Repo.GetSession(ctx, ticket.SessionID)
	if err != nil {
		return HintResult{}, err
	}
	policy := session.Profile.HintPolicy
	if !policy.Enabled {
		return HintResult{}, models.ErrHintsDisabled
	}

	penalty := policy.Penalties[level]
	truth := ticket.HiddenTruth
	truth.HintPenaltyTotal += penalty
	if err := s.Repo.UpdateHiddenTruth(ctx, ticketID, truth); err != nil {
		return HintResult{}, fmt.Errorf("update hint penalty: %w", err)
	}

	in := models.Interaction{
		TicketID: ticketID,
		Actor:    models.ActorSystem,
		Body:     "Hint requested: " + string(level),
		Metadata: map[string]any{"event": "hint", "level": string(level), "penalty": penalty},
	}
	if s.Now != nil {
		in.CreatedAt = s.Now().UTC()
	}
	if _, err := s.Repo.AddInteraction(ctx, in); err != nil {
		return HintResult{}, fmt.Errorf("record hint: %w", err)
	}

	text := truth.HintBank[level]
	if text == "" {
		text = noHintText
	}
	return HintResult{TicketID: ticketID, Level: level, Hint: text, PenaltyApplied: penalty}, nil
}
