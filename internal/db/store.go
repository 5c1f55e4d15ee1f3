package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk_sim/backend/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	Pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `id, profile_name, status, started_at, ends_at, next_window_at, window_index, profile, pending_batches`

func scanSession(row scanner) (models.Session, error) {
	var (
		sess    models.Session
		profile []byte
		pending []byte
	)
	if err := row.Scan(&sess.ID, &sess.ProfileName, &sess.Status, &sess.StartedAt, &sess.EndsAt, &sess.NextWindowAt, &sess.WindowIndex, &profile, &pending); err != nil {
		return models.Session{}, err
	}
	if err := json.Unmarshal(profile, &sess.Profile); err != nil {
		return models.Session{}, fmt.Errorf("decode session profile: %w", err)
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &sess.PendingBatches); err != nil {
			return models.Session{}, fmt.Errorf("decode pending batches: %w", err)
		}
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session) (models.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	profile, err := json.Marshal(sess.Profile)
	if err != nil {
		return models.Session{}, err
	}
	pending, err := marshalBatches(sess.PendingBatches)
	if err != nil {
		return models.Session{}, err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sess.ID, sess.ProfileName, sess.Status, sess.StartedAt, sess.EndsAt, sess.NextWindowAt, sess.WindowIndex, profile, pending)
	if err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context) ([]models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id ASC`)
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = $1 ORDER BY started_at ASC, id ASC`, models.SessionActive)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]models.Session, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) AdvanceSession(ctx context.Context, id string, w models.SessionWindow) error {
	pending, err := marshalBatches(w.PendingBatches)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET next_window_at = $1, window_index = $2, pending_batches = $3
		WHERE id = $4
	`, w.NextWindowAt, w.WindowIndex, pending, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) CompleteSession(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE sessions SET status = $1, pending_batches = '[]' WHERE id = $2`, models.SessionCompleted, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func marshalBatches(batches []models.PendingBatch) ([]byte, error) {
	if batches == nil {
		batches = []models.PendingBatch{}
	}
	return json.Marshal(batches)
}

const ticketColumns = `id, session_id, backend_ticket_id, subject, tier, priority, status, scenario_id,
	hidden_truth, score, created_at, updated_at, closed_at, last_seen_article_id`

func scanTicket(row scanner) (models.Ticket, error) {
	var (
		t     models.Ticket
		truth []byte
		score []byte
	)
	if err := row.Scan(&t.ID, &t.SessionID, &t.BackendTicketID, &t.Subject, &t.Tier, &t.Priority, &t.Status, &t.ScenarioID,
		&truth, &score, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt, &t.LastSeenArticleID); err != nil {
		return models.Ticket{}, err
	}
	if err := json.Unmarshal(truth, &t.HiddenTruth); err != nil {
		return models.Ticket{}, fmt.Errorf("decode hidden truth: %w", err)
	}
	if len(score) > 0 {
		var sr models.ScoreResult
		if err := json.Unmarshal(score, &sr); err != nil {
			return models.Ticket{}, fmt.Errorf("decode score: %w", err)
		}
		t.Score = &sr
	}
	return t, nil
}

func (s *Store) CreateTicket(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TicketOpen
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	truth, err := json.Marshal(t.HiddenTruth)
	if err != nil {
		return models.Ticket{}, err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO tickets (id, session_id, backend_ticket_id, subject, tier, priority, status, scenario_id,
			hidden_truth, created_at, updated_at, last_seen_article_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, t.ID, t.SessionID, t.BackendTicketID, t.Subject, t.Tier, t.Priority, t.Status, t.ScenarioID,
		truth, t.CreatedAt, t.UpdatedAt, t.LastSeenArticleID)
	if err != nil {
		return models.Ticket{}, err
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	t, err := scanTicket(s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	return t, err
}

func (s *Store) ListOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status = $1 ORDER BY created_at ASC, id ASC`, models.TicketOpen)
}

func (s *Store) ListTicketsForSession(ctx context.Context, sessionID string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, sessionID)
}

func (s *Store) ListClosedTicketsBetween(ctx context.Context, start, end time.Time) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE status = $1 AND closed_at >= $2 AND closed_at < $3
		ORDER BY closed_at ASC
	`, models.TicketClosed, start, end)
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateLastSeenArticleID never lowers the stored mark.
func (s *Store) UpdateLastSeenArticleID(ctx context.Context, id string, articleID int64) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tickets SET last_seen_article_id = GREATEST(last_seen_article_id, $1), updated_at = NOW()
		WHERE id = $2
	`, articleID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateHiddenTruth(ctx context.Context, id string, truth models.HiddenTruth) error {
	payload, err := json.Marshal(truth)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE tickets SET hidden_truth = $1, updated_at = NOW() WHERE id = $2`, payload, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) CloseTicket(ctx context.Context, id string, score models.ScoreResult, closedAt time.Time) (bool, error) {
	payload, err := json.Marshal(score)
	if err != nil {
		return false, err
	}
	var closed bool
	err = s.WithTx(ctx, func(tx pgx.Tx) error {
		var status models.TicketStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
			}
			return err
		}
		if status != models.TicketOpen {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tickets SET status = $1, score = $2, closed_at = $3, updated_at = $3
			WHERE id = $4
		`, models.TicketClosed, payload, closedAt, id); err != nil {
			return err
		}
		closed = true
		return nil
	})
	return closed, err
}

func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTicketsForSession(ctx context.Context, sessionID string) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tickets WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) AddInteraction(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return models.Interaction{}, err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO interactions (id, ticket_id, actor, body, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.ID, in.TicketID, in.Actor, in.Body, meta, in.CreatedAt)
	if err != nil {
		return models.Interaction{}, err
	}
	return in, nil
}

func (s *Store) ListInteractions(ctx context.Context, ticketID string) ([]models.Interaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, ticket_id, actor, body, metadata, created_at
		FROM interactions WHERE ticket_id = $1
		ORDER BY created_at ASC, seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Interaction
	for rows.Next() {
		var (
			in   models.Interaction
			meta []byte
		)
		if err := rows.Scan(&in.ID, &in.TicketID, &in.Actor, &in.Body, &meta, &in.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &in.Metadata); err != nil {
				return nil, fmt.Errorf("decode interaction metadata: %w", err)
			}
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) SaveReport(ctx context.Context, r models.Report) (models.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return models.Report{}, err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO reports (id, report_type, period_start, period_end, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, r.ID, r.ReportType, r.PeriodStart, r.PeriodEnd, payload, r.CreatedAt)
	if err != nil {
		return models.Report{}, err
	}
	return r, nil
}

func (s *Store) LatestReport(ctx context.Context, reportType models.ReportType) (models.Report, error) {
	var (
		r       models.Report
		payload []byte
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT id, report_type, period_start, period_end, payload, created_at
		FROM reports WHERE report_type = $1
		ORDER BY created_at DESC LIMIT 1
	`, reportType).Scan(&r.ID, &r.ReportType, &r.PeriodStart, &r.PeriodEnd, &payload, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Report{}, fmt.Errorf("%s report: %w", reportType, models.ErrNotFound)
	}
	if err != nil {
		return models.Report{}, err
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return models.Report{}, fmt.Errorf("decode report payload: %w", err)
	}
	return r, nil
}
