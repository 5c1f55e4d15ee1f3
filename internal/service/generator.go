package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/ai"
	"github.com/helpdesk_sim/backend/internal/catalog"
	"github.com/helpdesk_sim/backend/internal/models"
)

// Catalog is the read-only template source the generator draws from.
type Catalog interface {
	Scenarios(f catalog.ScenarioFilter) ([]models.Scenario, error)
	Personas(f catalog.PersonaFilter) []models.Persona
}

// TicketConstraints narrows ticket generation. Zero values leave the choice to the generator.
type TicketConstraints struct {
	RequiredTags []string    `json:"required_tags,omitempty"`
	Tier         models.Tier `json:"tier,omitempty"`
	TicketType   string      `json:"ticket_type,omitempty"`
	Department   string      `json:"department,omitempty"`
	PersonaID    string      `json:"persona_id,omitempty"`
	ScenarioID   string      `json:"scenario_id,omitempty"`
}

type Generator struct {
	Catalog Catalog
	// Rewriter optionally rewrites the opening message in the persona's voice.
	Rewriter       ai.Generator
	RewriteTimeout time.Duration
	Logger         zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(c Catalog, rng *rand.Rand, logger zerolog.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{Catalog: c, rng: rng, Logger: logger}
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

// between returns a uniform integer in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.intn(hi-lo+1)
}

// pickWeighted returns an index chosen with probability proportional to weights, or -1 when
// every weight is zero.
func (g *Generator) pickWeighted(weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return -1
	}
	r := g.intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

func (g *Generator) pickTier(profile models.SessionProfile) (models.Tier, error) {
	weights := make([]int, len(models.Tiers))
	for i, tier := range models.Tiers {
		weights[i] = profile.TierWeights[tier]
	}
	idx := g.pickWeighted(weights)
	if idx < 0 {
		return "", fmt.Errorf("%w: profile %q has no positive tier weights", models.ErrInvalidConfig, profile.Name)
	}
	return models.Tiers[idx], nil
}

func (g *Generator) pickScenario(tier models.Tier, profile models.SessionProfile, c TicketConstraints) (models.Scenario, error) {
	if c.ScenarioID != "" {
		found, err := g.Catalog.Scenarios(catalog.ScenarioFilter{Tier: tier, ScenarioID: c.ScenarioID})
		if err != nil {
			return models.Scenario{}, err
		}
		return found[0], nil
	}

	attempts := []catalog.ScenarioFilter{
		{Tier: tier, RequiredTags: c.RequiredTags, TicketType: c.TicketType},
		{Tier: tier, RequiredTags: c.RequiredTags},
		{Tier: tier},
	}
	var candidates []models.Scenario
	for _, f := range attempts {
		found, err := g.Catalog.Scenarios(f)
		if err != nil {
			return models.Scenario{}, err
		}
		if len(found) > 0 {
			candidates = found
			break
		}
	}
	if len(candidates) == 0 {
		return models.Scenario{}, fmt.Errorf("no scenarios configured for tier %q: %w", tier, models.ErrNotFound)
	}

	weights := make([]int, len(candidates))
	for i, s := range candidates {
		weights[i] = 1
		if w, ok := profile.ScenarioTypeWeights[s.TicketType]; ok {
			weights[i] = w
		}
	}
	idx := g.pickWeighted(weights)
	if idx < 0 {
		return models.Scenario{}, fmt.Errorf("%w: every candidate scenario for tier %q has zero weight", models.ErrInvalidConfig, tier)
	}
	return candidates[idx], nil
}

func (g *Generator) pickPersona(s models.Scenario, c TicketConstraints) (models.Persona, error) {
	candidates := g.Catalog.Personas(catalog.PersonaFilter{Roles: s.PersonaRoles, Role: c.Department, PersonaID: c.PersonaID})
	if len(candidates) == 0 {
		return models.Persona{}, fmt.Errorf("%w: no persona matches scenario %s", models.ErrInvalidConfig, s.ID)
	}
	return candidates[g.intn(len(candidates))], nil
}

// BuildTicket assembles one synthetic ticket with its hidden truth.
func (g *Generator) BuildTicket(ctx context.Context, sessionID string, profile models.SessionProfile, c TicketConstraints) (models.GeneratedTicket, error) {
	tier := c.Tier
	if tier == "" {
		var err error
		if tier, err = g.pickTier(profile); err != nil {
			return models.GeneratedTicket{}, err
		}
	} else if !tier.Valid() {
		return models.GeneratedTicket{}, fmt.Errorf("%w: unknown tier %q", models.ErrInvalidConfig, tier)
	}

	scenario, err := g.pickScenario(tier, profile, c)
	if err != nil {
		return models.GeneratedTicket{}, err
	}
	persona, err := g.pickPersona(scenario, c)
	if err != nil {
		return models.GeneratedTicket{}, err
	}

	truth := models.HiddenTruth{
		ScenarioID:                   scenario.ID,
		TicketType:                   scenario.TicketType,
		CustomerProblem:              scenario.CustomerProblem,
		RootCause:                    scenario.RootCause,
		ExpectedAgentChecks:          append([]string(nil), scenario.ExpectedAgentChecks...),
		ResolutionSteps:              append([]string(nil), scenario.ResolutionSteps...),
		AcceptableResolutionKeywords: append([]string(nil), scenario.AcceptableResolutionKeywords...),
		KnowledgeArticleIDs:          append([]string(nil), scenario.KnowledgeArticleIDs...),
		ClueMap:                      append(models.ClueMap(nil), scenario.ClueMap...),
		HintBank:                     copyHintBank(scenario.HintBank),
		DefaultFollowUp:              scenario.DefaultFollowUp,
		Persona:                      persona,
	}

	return models.GeneratedTicket{
		ScenarioID:    scenario.ID,
		SessionID:     sessionID,
		Subject:       scenario.Title,
		Body:          g.openingBody(ctx, scenario, persona),
		Tier:          tier,
		Priority:      scenario.Priority,
		CustomerName:  persona.FullName,
		CustomerEmail: persona.Email,
		HiddenTruth:   truth,
	}, nil
}

// openingBody returns the scenario's problem statement, rewritten when a Rewriter is set.
// Any rewrite failure silently keeps the template text.
func (g *Generator) openingBody(ctx context.Context, s models.Scenario, p models.Persona) string {
	body := s.CustomerProblem
	if g.Rewriter == nil {
		return body
	}
	timeout := g.RewriteTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := strings.Join([]string{
		"Rewrite this IT support ticket as the end user would write it.",
		fmt.Sprintf("Persona: %s, department %s, technical level %s, tone %s.", p.FullName, p.Role, p.TechnicalLevel, p.Tone),
		"Keep every factual detail, do not add a diagnosis, and answer with only the ticket text in 2 to 4 sentences.",
		"Ticket: " + body,
	}, "\n")
	rewritten, err := g.Rewriter.Generate(rctx, prompt)
	rewritten = strings.TrimSpace(rewritten)
	if err != nil || rewritten == "" {
		g.Logger.Debug().Err(err).Str("scenario_id", s.ID).Msg("opening rewrite skipped")
		return body
	}
	return rewritten
}

func copyHintBank(in map[models.HintLevel]string) map[models.HintLevel]string {
	if in == nil {
		return nil
	}
	out := make(map[models.HintLevel]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
