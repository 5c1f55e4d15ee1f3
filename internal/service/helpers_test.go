package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/catalog"
	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/gateway"
	"github.com/helpdesk_sim/backend/internal/models"
)

var monday9am = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testScenarios() []models.Scenario {
	return []models.Scenario{
		{
			ID:                           "pw-expired",
			Title:                        "Cannot log in",
			TicketType:                   "password_reset",
			Tier:                         models.TierTier1,
			Priority:                     models.PriorityNormal,
			Tags:                         []string{"identity", "password"},
			PersonaRoles:                 []string{"Finance"},
			KnowledgeArticleIDs:          []string{"kb-password-reset"},
			CustomerProblem:              "My password keeps getting rejected.",
			RootCause:                    "password expired",
			ExpectedAgentChecks:          []string{"username", "error message"},
			ResolutionSteps:              []string{"Verify identity.", "Reset the password."},
			AcceptableResolutionKeywords: []string{"reset the password"},
			ClueMap:                      models.ClueMap{{Key: "username", Answer: "My username is m.brooks."}},
			HintBank: map[models.HintLevel]string{
				models.HintNudge:      "Ask who is affected.",
				models.HintStrongHint: "The password expired.",
			},
			DefaultFollowUp: "I just need to get back in.",
		},
		{
			ID:              "mail-queue",
			Title:           "Emails are not going out",
			TicketType:      "email_delivery",
			Tier:            models.TierTier2,
			Priority:        models.PriorityHigh,
			Tags:            []string{"email", "outage"},
			CustomerProblem: "Nothing I send leaves my outbox.",
			RootCause:       "transport queue stuck",
			DefaultFollowUp: models.DefaultFollowUp,
		},
		{
			ID:              "disk-full",
			Title:           "File server is read only",
			TicketType:      "storage",
			Tier:            models.TierSysadmin,
			Priority:        models.PriorityCritical,
			Tags:            []string{"storage"},
			CustomerProblem: "I cannot save anything to the shared drive.",
			RootCause:       "volume full",
			DefaultFollowUp: models.DefaultFollowUp,
		},
	}
}

func testPersonas() []models.Persona {
	return []models.Persona{
		{ID: "p-fin", Role: "Finance", FullName: "Morgan Brooks", Email: "m.brooks@example.com", TechnicalLevel: "low", Tone: "polite"},
		{ID: "p-ops", Role: "Operations", FullName: "Sam Ortiz", Email: "s.ortiz@example.com", TechnicalLevel: "medium", Tone: "busy"},
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(nil, testPersonas(), testScenarios(), []models.KnowledgeArticle{
		{ID: "kb-password-reset", Title: "Password reset", URL: "https://kb.example.com/pw"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

// testProfile returns a tier1-only, non-trickle profile with one ticket per hourly window.
func testProfile() models.SessionProfile {
	p := models.DefaultProfile()
	p.Name = "test"
	p.CadenceMinutes = 60
	p.TicketsPerWindowMin = 1
	p.TicketsPerWindowMax = 1
	p.TrickleMode = false
	p.TierWeights = map[models.Tier]int{models.TierTier1: 100}
	p.SLAPolicy = models.SLAPolicy{
		FirstResponseMinutes: map[models.Priority]int{models.PriorityNormal: 15},
		ResolutionMinutes:    map[models.Priority]int{models.PriorityNormal: 60},
	}
	return p
}

type fixture struct {
	repo      *db.MemoryStore
	gw        *gateway.DryRunGateway
	gen       *Generator
	scheduler *Scheduler
	poller    *Poller
	clock     *fakeClock
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  db.NewMemoryStore(),
		gw:    gateway.NewDryRunGateway(),
		clock: &fakeClock{now: monday9am},
	}
	f.gen = NewGenerator(testCatalog(t), rand.New(rand.NewSource(7)), zerolog.Nop())
	f.scheduler = &Scheduler{Repo: f.repo, Gateway: f.gw, Generator: f.gen, Logger: zerolog.Nop(), Now: f.clock.Now}
	f.poller = &Poller{Repo: f.repo, Gateway: f.gw, Engine: &RuleBasedEngine{}, Logger: zerolog.Nop(), Now: f.clock.Now}
	return f
}

func (f *fixture) startSession(t *testing.T, profile models.SessionProfile, start time.Time) models.Session {
	t.Helper()
	s, err := f.repo.CreateSession(context.Background(), models.Session{
		ProfileName:  profile.Name,
		Status:       models.SessionActive,
		StartedAt:    start,
		EndsAt:       start.Add(profile.Duration()),
		NextWindowAt: start,
		Profile:      profile,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) manualTicket(t *testing.T, sessionID string) models.Ticket {
	t.Helper()
	ticket, err := f.scheduler.CreateManualTicket(context.Background(), sessionID, TicketConstraints{ScenarioID: "pw-expired"})
	if err != nil {
		t.Fatalf("manual ticket: %v", err)
	}
	return ticket
}
