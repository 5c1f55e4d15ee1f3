package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/helpdesk_sim/backend/internal/models"
)

// Catalog is the static template data loaded once at process start. It is read-only afterwards.
type Catalog struct {
	profiles  map[string]models.SessionProfile
	personas  []models.Persona
	scenarios []models.Scenario
	articles  map[string]models.KnowledgeArticle
}

// ScenarioFilter narrows scenario candidates. Empty fields do not filter.
type ScenarioFilter struct {
	Tier         models.Tier
	RequiredTags []string
	TicketType   string
	ScenarioID   string
}

type PersonaFilter struct {
	Roles     []string
	Role      string
	PersonaID string
}

type profilesDoc struct {
	Profiles []models.SessionProfile `yaml:"profiles"`
}

type personasDoc struct {
	Personas []models.Persona `yaml:"personas"`
}

type scenariosDoc struct {
	Scenarios []models.Scenario `yaml:"scenarios"`
}

type articlesDoc struct {
	Articles []models.KnowledgeArticle `yaml:"articles"`
}

// Load reads profiles.yaml, personas.yaml, scenarios.yaml and knowledge_articles.yaml from dir.
func Load(dir string) (*Catalog, error) {
	var (
		profiles  profilesDoc
		personas  personasDoc
		scenarios scenariosDoc
		articles  articlesDoc
	)
	if err := loadYAML(filepath.Join(dir, "profiles.yaml"), &profiles); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, "personas.yaml"), &personas); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, "scenarios.yaml"), &scenarios); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, "knowledge_articles.yaml"), &articles); err != nil {
		return nil, err
	}
	return New(profiles.Profiles, personas.Personas, scenarios.Scenarios, articles.Articles)
}

// New builds a catalog from already decoded rows.
func New(profiles []models.SessionProfile, personas []models.Persona, scenarios []models.Scenario, articles []models.KnowledgeArticle) (*Catalog, error) {
	c := &Catalog{
		profiles: map[string]models.SessionProfile{},
		personas: append([]models.Persona(nil), personas...),
		articles: map[string]models.KnowledgeArticle{},
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		c.profiles[p.Name] = p
	}
	for _, s := range scenarios {
		if !s.Tier.Valid() {
			return nil, fmt.Errorf("%w: scenario %q has unknown tier %q", models.ErrInvalidConfig, s.ID, s.Tier)
		}
		if s.DefaultFollowUp == "" {
			s.DefaultFollowUp = models.DefaultFollowUp
		}
		if s.Priority == "" {
			s.Priority = models.PriorityNormal
		}
		c.scenarios = append(c.scenarios, s)
	}
	for _, a := range articles {
		c.articles[a.ID] = a
	}
	return c, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse template file %s: %w", path, err)
	}
	return nil
}

func (c *Catalog) Profile(name string) (models.SessionProfile, error) {
	p, ok := c.profiles[name]
	if !ok {
		return models.SessionProfile{}, fmt.Errorf("%w: unknown profile %q. Available: %s", models.ErrInvalidConfig, name, strings.Join(c.ProfileNames(), ", "))
	}
	return p, nil
}

func (c *Catalog) ProfileNames() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Profiles() []models.SessionProfile {
	out := make([]models.SessionProfile, 0, len(c.profiles))
	for _, name := range c.ProfileNames() {
		out = append(out, c.profiles[name])
	}
	return out
}

// Scenarios returns the scenarios matching f. An explicit ScenarioID must exist and match the tier.
func (c *Catalog) Scenarios(f ScenarioFilter) ([]models.Scenario, error) {
	if f.ScenarioID != "" {
		for _, s := range c.scenarios {
			if s.ID != f.ScenarioID {
				continue
			}
			if f.Tier != "" && s.Tier != f.Tier {
				return nil, fmt.Errorf("%w: scenario %q is tier %q, not %q", models.ErrInvalidConfig, s.ID, s.Tier, f.Tier)
			}
			return []models.Scenario{s}, nil
		}
		return nil, fmt.Errorf("%w: scenario %q", models.ErrNotFound, f.ScenarioID)
	}

	var out []models.Scenario
	for _, s := range c.scenarios {
		if f.Tier != "" && s.Tier != f.Tier {
			continue
		}
		if !s.HasTags(f.RequiredTags) {
			continue
		}
		if f.TicketType != "" && s.TicketType != f.TicketType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Personas returns personas allowed by Roles (unconstrained when empty), then narrowed by Role and PersonaID.
func (c *Catalog) Personas(f PersonaFilter) []models.Persona {
	var out []models.Persona
	for _, p := range c.personas {
		if len(f.Roles) > 0 && !contains(f.Roles, p.Role) {
			continue
		}
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if f.PersonaID != "" && p.ID != f.PersonaID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Catalog) KnowledgeArticles(ids []string) []models.KnowledgeArticle {
	var out []models.KnowledgeArticle
	for _, id := range ids {
		if a, ok := c.articles[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (c *Catalog) AllKnowledgeArticles() []models.KnowledgeArticle {
	out := make([]models.KnowledgeArticle, 0, len(c.articles))
	for _, a := range c.articles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) AllPersonas() []models.Persona {
	out := append([]models.Persona(nil), c.personas...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) AllScenarios() []models.Scenario {
	out := append([]models.Scenario(nil), c.scenarios...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) TicketTypes() []string {
	seen := map[string]struct{}{}
	for _, s := range c.scenarios {
		seen[s.TicketType] = struct{}{}
	}
	return sortedKeys(seen)
}

func (c *Catalog) Departments() []string {
	seen := map[string]struct{}{}
	for _, p := range c.personas {
		seen[p.Role] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
