package db

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helpdesk_sim/backend/internal/models"
)

// MemoryStore keeps all state in process. It backs the simulator when no DATABASE_URL is set
// and is the repository used by service tests. Restarting the process drops everything.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]models.Session
	tickets      map[string]models.Ticket
	interactions map[string][]models.Interaction
	reports      []models.Report
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     map[string]models.Session{},
		tickets:      map[string]models.Ticket{},
		interactions: map[string][]models.Interaction{},
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func cloneSession(s models.Session) models.Session {
	s.PendingBatches = cloneBatches(s.PendingBatches)
	return s
}

func cloneTicket(t models.Ticket) models.Ticket {
	if t.BackendTicketID != nil {
		id := *t.BackendTicketID
		t.BackendTicketID = &id
	}
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		t.ClosedAt = &at
	}
	if t.Score != nil {
		score := *t.Score
		score.MissedChecks = cloneStrings(score.MissedChecks)
		t.Score = &score
	}
	h := &t.HiddenTruth
	h.ExpectedAgentChecks = cloneStrings(h.ExpectedAgentChecks)
	h.ResolutionSteps = cloneStrings(h.ResolutionSteps)
	h.AcceptableResolutionKeywords = cloneStrings(h.AcceptableResolutionKeywords)
	h.KnowledgeArticleIDs = cloneStrings(h.KnowledgeArticleIDs)
	if h.ClueMap != nil {
		h.ClueMap = append(models.ClueMap{}, h.ClueMap...)
	}
	h.HintBank = maps.Clone(h.HintBank)
	return t
}

func cloneInteraction(in models.Interaction) models.Interaction {
	in.Metadata = maps.Clone(in.Metadata)
	return in
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func cloneBatches(in []models.PendingBatch) []models.PendingBatch {
	if in == nil {
		return nil
	}
	out := make([]models.PendingBatch, len(in))
	for i, b := range in {
		out[i] = models.PendingBatch{Remaining: b.Remaining, RequiredTags: append([]string(nil), b.RequiredTags...)}
	}
	return out
}

func (m *MemoryStore) CreateSession(_ context.Context, s models.Session) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions[s.ID] = cloneSession(s)
	return cloneSession(s), nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) ListSessions(context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListActiveSessions(context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.Status == models.SessionActive {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AdvanceSession(_ context.Context, id string, w models.SessionWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	s.NextWindowAt = w.NextWindowAt
	s.WindowIndex = w.WindowIndex
	s.PendingBatches = cloneBatches(w.PendingBatches)
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) CompleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	s.Status = models.SessionCompleted
	s.PendingBatches = nil
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) CreateTicket(_ context.Context, t models.Ticket) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TicketOpen
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	m.tickets[t.ID] = cloneTicket(t)
	return cloneTicket(t), nil
}

func (m *MemoryStore) GetTicket(_ context.Context, id string) (models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return models.Ticket{}, fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) filterTickets(keep func(models.Ticket) bool) []models.Ticket {
	var out []models.Ticket
	for _, t := range m.tickets {
		if keep(t) {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ListOpenTickets(context.Context) ([]models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTickets(func(t models.Ticket) bool { return t.Status == models.TicketOpen }), nil
}

func (m *MemoryStore) ListTicketsForSession(_ context.Context, sessionID string) ([]models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTickets(func(t models.Ticket) bool { return t.SessionID == sessionID }), nil
}

func (m *MemoryStore) ListClosedTicketsBetween(_ context.Context, start, end time.Time) ([]models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTickets(func(t models.Ticket) bool {
		if t.Status != models.TicketClosed || t.ClosedAt == nil {
			return false
		}
		return !t.ClosedAt.Before(start) && t.ClosedAt.Before(end)
	}), nil
}

func (m *MemoryStore) UpdateLastSeenArticleID(_ context.Context, id string, articleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	if articleID > t.LastSeenArticleID {
		t.LastSeenArticleID = articleID
		t.UpdatedAt = time.Now().UTC()
	}
	m.tickets[id] = t
	return nil
}

func (m *MemoryStore) UpdateHiddenTruth(_ context.Context, id string, truth models.HiddenTruth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	t.HiddenTruth = truth
	t.UpdatedAt = time.Now().UTC()
	m.tickets[id] = cloneTicket(t)
	return nil
}

func (m *MemoryStore) CloseTicket(_ context.Context, id string, score models.ScoreResult, closedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return false, fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	if t.Status != models.TicketOpen {
		return false, nil
	}
	at := closedAt
	t.Status = models.TicketClosed
	t.Score = &score
	t.ClosedAt = &at
	t.UpdatedAt = closedAt
	m.tickets[id] = cloneTicket(t)
	return true, nil
}

func (m *MemoryStore) DeleteTicket(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[id]; !ok {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	delete(m.tickets, id)
	delete(m.interactions, id)
	return nil
}

func (m *MemoryStore) DeleteTicketsForSession(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tickets {
		if t.SessionID == sessionID {
			delete(m.tickets, id)
			delete(m.interactions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AddInteraction(_ context.Context, in models.Interaction) (models.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[in.TicketID]; !ok {
		return models.Interaction{}, fmt.Errorf("ticket %s: %w", in.TicketID, models.ErrNotFound)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{}
	}
	m.interactions[in.TicketID] = append(m.interactions[in.TicketID], cloneInteraction(in))
	return cloneInteraction(in), nil
}

func (m *MemoryStore) ListInteractions(_ context.Context, ticketID string) ([]models.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.interactions[ticketID]
	out := make([]models.Interaction, len(stored))
	for i, in := range stored {
		out[i] = cloneInteraction(in)
	}
	// stable keeps insertion order for equal timestamps
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SaveReport(_ context.Context, r models.Report) (models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.reports = append(m.reports, r)
	return r, nil
}

func (m *MemoryStore) LatestReport(_ context.Context, reportType models.ReportType) (models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest models.Report
		found  bool
	)
	for _, r := range m.reports {
		if r.ReportType != reportType {
			continue
		}
		if !found || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
			found = true
		}
	}
	if !found {
		return models.Report{}, fmt.Errorf("%s report: %w", reportType, models.ErrNotFound)
	}
	return latest, nil
}
