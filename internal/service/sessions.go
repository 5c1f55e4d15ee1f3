package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/models"
)

type ProfileSource interface {
	Profile(name string) (models.SessionProfile, error)
}

// SessionService clocks analysts in and out of training shifts.
type SessionService struct {
	Repo     db.Repository
	Profiles ProfileSource
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ClockIn starts a session whose first window opens immediately.
func (s *SessionService) ClockIn(ctx context.Context, profileName string) (models.Session, error) {
	profile, err := s.Profiles.Profile(profileName)
	if err != nil {
		return models.Session{}, err
	}
	started := s.now()
	session, err := s.Repo.CreateSession(ctx, models.Session{
		ProfileName:    profile.Name,
		Status:         models.SessionActive,
		StartedAt:      started,
		EndsAt:         started.Add(profile.Duration()),
		NextWindowAt:   started,
		WindowIndex:    0,
		Profile:        profile,
		PendingBatches: []models.PendingBatch{},
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.Logger.Info().Str("session_id", session.ID).Str("profile", profile.Name).Time("ends_at", session.EndsAt).Msg("clocked in")
	return session, nil
}

func (s *SessionService) ClockOut(ctx context.Context, id string) (models.Session, error) {
	if _, err := s.Repo.GetSession(ctx, id); err != nil {
		return models.Session{}, err
	}
	if err := s.Repo.CompleteSession(ctx, id); err != nil {
		return models.Session{}, err
	}
	s.Logger.Info().Str("session_id", id).Msg("clocked out")
	return s.Repo.GetSession(ctx, id)
}

func (s *SessionService) ClockOutAll(ctx context.Context) ([]models.Session, error) {
	active, err := s.Repo.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(active))
	for _, session := range active {
		if err := s.Repo.CompleteSession(ctx, session.ID); err != nil {
			return out, err
		}
		updated, err := s.Repo.GetSession(ctx, session.ID)
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (models.Session, error) {
	return s.Repo.GetSession(ctx, id)
}

func (s *SessionService) List(ctx context.Context) ([]models.Session, error) {
	return s.Repo.ListSessions(ctx)
}

// LatestActive returns the most recently started active session.
func (s *SessionService) LatestActive(ctx context.Context) (models.Session, error) {
	active, err := s.Repo.ListActiveSessions(ctx)
	if err != nil {
		return models.Session{}, err
	}
	if len(active) == 0 {
		return models.Session{}, fmt.Errorf("no active session: %w", models.ErrNotFound)
	}
	return active[len(active)-1], nil
}
