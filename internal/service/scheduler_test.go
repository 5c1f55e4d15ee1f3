package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/helpdesk_sim/backend/internal/gateway"
	"github.com/helpdesk_sim/backend/internal/models"
)

func TestSchedulerGeneratesOneTicketPerElapsedWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, testProfile(), monday9am)

	res, err := f.scheduler.TickAt(ctx, monday9am.Add(3*time.Hour-time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.SessionsChecked != 1 || res.TicketsGenerated != 3 {
		t.Fatalf("expected 1 session and 3 tickets, got %+v", res)
	}

	got, _ := f.repo.GetSession(ctx, session.ID)
	if got.WindowIndex != 3 || !got.NextWindowAt.Equal(monday9am.Add(3*time.Hour)) {
		t.Fatalf("unexpected window state index=%d next=%s", got.WindowIndex, got.NextWindowAt)
	}
	if len(got.PendingBatches) != 0 {
		t.Fatalf("expected no pending batches in burst mode, got %+v", got.PendingBatches)
	}

	tickets, _ := f.repo.ListTicketsForSession(ctx, session.ID)
	if len(tickets) != 3 {
		t.Fatalf("expected 3 stored tickets, got %d", len(tickets))
	}
	for _, ticket := range tickets {
		if ticket.BackendTicketID == nil {
			t.Fatalf("expected backend id on %s", ticket.ID)
		}
		transcript, _ := f.repo.ListInteractions(ctx, ticket.ID)
		if len(transcript) != 1 || transcript[0].Actor != models.ActorCustomer {
			t.Fatalf("expected one opening customer message, got %+v", transcript)
		}
		if transcript[0].Metadata["source"] != "generated" {
			t.Fatalf("unexpected opening metadata %+v", transcript[0].Metadata)
		}
	}
}

func TestSchedulerTrickleConservesWindowTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := testProfile()
	profile.TrickleMode = true
	profile.TrickleMaxPerTick = 1
	profile.TicketsPerWindowMin = 2
	profile.TicketsPerWindowMax = 2
	profile.IncidentInjections = []models.IncidentInjection{
		{Name: "mail outage", AtWindow: 0, ExtraTickets: 1, ScenarioTags: []string{"email"}},
	}
	session := f.startSession(t, profile, monday9am)

	res, err := f.scheduler.TickAt(ctx, monday9am)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.TicketsGenerated != 1 {
		t.Fatalf("expected one trickled ticket, got %d", res.TicketsGenerated)
	}
	got, _ := f.repo.GetSession(ctx, session.ID)
	want := []models.PendingBatch{
		{Remaining: 1},
		{Remaining: 1, RequiredTags: []string{"email"}},
	}
	if diff := cmp.Diff(want, got.PendingBatches, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("queue mismatch (-want +got):\n%s", diff)
	}

	total := res.TicketsGenerated
	for i := 1; i <= 4; i++ {
		res, err := f.scheduler.TickAt(ctx, monday9am.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		total += res.TicketsGenerated
	}
	if total != 3 {
		t.Fatalf("expected baseline 2 + incident 1 = 3 tickets, got %d", total)
	}
	got, _ = f.repo.GetSession(ctx, session.ID)
	if len(got.PendingBatches) != 0 {
		t.Fatalf("expected drained queue, got %+v", got.PendingBatches)
	}
	if got.WindowIndex != 1 {
		t.Fatalf("expected a single window, got index %d", got.WindowIndex)
	}
}

func TestSchedulerSkipsWindowsOutsideBusinessHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := testProfile()
	profile.BusinessHoursOnly = true

	saturday := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	weekend := f.startSession(t, profile, saturday)
	res, err := f.scheduler.TickAt(ctx, saturday.Add(150*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.TicketsGenerated != 0 {
		t.Fatalf("expected no weekend tickets, got %d", res.TicketsGenerated)
	}
	got, _ := f.repo.GetSession(ctx, weekend.ID)
	if got.WindowIndex != 3 {
		t.Fatalf("expected weekend windows to advance to 3, got %d", got.WindowIndex)
	}
}

func TestSchedulerBusinessHoursEndAtFive(t *testing.T) {
	f := newFixture(t)
	profile := testProfile()
	profile.BusinessHoursOnly = true
	start := monday9am.Add(7 * time.Hour)
	f.startSession(t, profile, start)

	res, err := f.scheduler.TickAt(context.Background(), start.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.TicketsGenerated != 1 {
		t.Fatalf("expected only the 16:00 window to produce a ticket, got %d", res.TicketsGenerated)
	}
}

func TestSchedulerWindowsStayOnCadenceGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := testProfile()
	profile.CadenceMinutes = 45
	profile.TicketsPerWindowMin = 0
	profile.TicketsPerWindowMax = 2
	session := f.startSession(t, profile, monday9am)

	lastIndex := 0
	for _, offset := range []time.Duration{0, 10 * time.Minute, 100 * time.Minute, 101 * time.Minute, 5 * time.Hour} {
		if _, err := f.scheduler.TickAt(ctx, monday9am.Add(offset)); err != nil {
			t.Fatalf("tick: %v", err)
		}
		got, _ := f.repo.GetSession(ctx, session.ID)
		if got.WindowIndex < lastIndex {
			t.Fatalf("window index went backwards: %d -> %d", lastIndex, got.WindowIndex)
		}
		lastIndex = got.WindowIndex
		want := monday9am.Add(time.Duration(got.WindowIndex) * profile.Cadence())
		if !got.NextWindowAt.Equal(want) {
			t.Fatalf("next window %s is off the grid, want %s", got.NextWindowAt, want)
		}
	}
}

func TestSchedulerCompletesExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startSession(t, testProfile(), monday9am)

	res, err := f.scheduler.TickAt(ctx, monday9am.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.TicketsGenerated != 0 {
		t.Fatalf("expected no tickets for an expired session, got %d", res.TicketsGenerated)
	}
	got, _ := f.repo.GetSession(ctx, session.ID)
	if got.Status != models.SessionCompleted {
		t.Fatalf("expected completed session, got %s", got.Status)
	}
}

type failingCreateGateway struct {
	*gateway.DryRunGateway
}

func (failingCreateGateway) CreateTicket(context.Context, models.GeneratedTicket) (int64, error) {
	return 0, &gateway.HTTPError{Method: "POST", Path: "/tickets", StatusCode: 503}
}

func TestSchedulerKeepsTicketWhenBackendCreateFails(t *testing.T) {
	f := newFixture(t)
	f.scheduler.Gateway = failingCreateGateway{f.gw}
	session := f.startSession(t, testProfile(), monday9am)

	ticket, err := f.scheduler.CreateManualTicket(context.Background(), session.ID, TicketConstraints{})
	if err != nil {
		t.Fatalf("manual ticket: %v", err)
	}
	if ticket.BackendTicketID != nil {
		t.Fatalf("expected no backend id, got %d", *ticket.BackendTicketID)
	}
}

func TestCreateManualTicketUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.CreateManualTicket(context.Background(), "missing", TicketConstraints{})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateManualTicketHonoursOverrides(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t, testProfile(), monday9am)

	ticket, err := f.scheduler.CreateManualTicket(context.Background(), session.ID, TicketConstraints{Tier: models.TierTier2})
	if err != nil {
		t.Fatalf("manual ticket: %v", err)
	}
	if ticket.Tier != models.TierTier2 || ticket.ScenarioID != "mail-queue" {
		t.Fatalf("expected forced tier2 scenario, got %s %s", ticket.Tier, ticket.ScenarioID)
	}
}
