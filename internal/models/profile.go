package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type SLAPolicy struct {
	FirstResponseMinutes map[Priority]int `json:"first_response_minutes" yaml:"first_response_minutes"`
	ResolutionMinutes    map[Priority]int `json:"resolution_minutes" yaml:"resolution_minutes"`
}

type HintPolicy struct {
	Enabled   bool              `json:"enabled" yaml:"enabled"`
	Penalties map[HintLevel]int `json:"penalties" yaml:"penalties"`
}

type IncidentInjection struct {
	Name         string   `json:"name" yaml:"name"`
	AtWindow     int      `json:"at_window" yaml:"at_window"`
	ExtraTickets int      `json:"extra_tickets" yaml:"extra_tickets"`
	ScenarioTags []string `json:"scenario_tags" yaml:"scenario_tags"`
}

type SessionProfile struct {
	Name                string              `json:"name" yaml:"name"`
	Description         string              `json:"description" yaml:"description"`
	DurationHours       int                 `json:"duration_hours" yaml:"duration_hours"`
	CadenceMinutes      int                 `json:"cadence_minutes" yaml:"cadence_minutes"`
	TicketsPerWindowMin int                 `json:"tickets_per_window_min" yaml:"tickets_per_window_min"`
	TicketsPerWindowMax int                 `json:"tickets_per_window_max" yaml:"tickets_per_window_max"`
	TrickleMode         bool                `json:"trickle_mode" yaml:"trickle_mode"`
	TrickleMaxPerTick   int                 `json:"trickle_max_per_tick" yaml:"trickle_max_per_tick"`
	BusinessHoursOnly   bool                `json:"business_hours_only" yaml:"business_hours_only"`
	TierWeights         map[Tier]int        `json:"tier_weights" yaml:"tier_weights"`
	ScenarioTypeWeights map[string]int      `json:"scenario_type_weights" yaml:"scenario_type_weights"`
	IncidentInjections  []IncidentInjection `json:"incident_injections" yaml:"incident_injections"`
	SLAPolicy           SLAPolicy           `json:"sla_policy" yaml:"sla_policy"`
	HintPolicy          HintPolicy          `json:"hint_policy" yaml:"hint_policy"`
}

// DefaultProfile returns the values a catalog profile starts from before its own keys apply.
func DefaultProfile() SessionProfile {
	return SessionProfile{
		DurationHours:       8,
		CadenceMinutes:      60,
		TicketsPerWindowMin: 1,
		TicketsPerWindowMax: 3,
		TrickleMode:         true,
		TrickleMaxPerTick:   1,
		TierWeights: map[Tier]int{
			TierTier1:    70,
			TierTier2:    20,
			TierSysadmin: 10,
		},
		HintPolicy: HintPolicy{
			Enabled: true,
			Penalties: map[HintLevel]int{
				HintNudge:      2,
				HintGuidedStep: 5,
				HintStrongHint: 10,
			},
		},
	}
}

// UnmarshalYAML layers the document over DefaultProfile and validates the result.
func (p *SessionProfile) UnmarshalYAML(value *yaml.Node) error {
	type plain SessionProfile
	defaults := DefaultProfile()
	out := plain(defaults)
	// maps decode by merging, so defaults only fill them when the document omits them
	out.TierWeights = nil
	out.HintPolicy.Penalties = nil
	if err := value.Decode(&out); err != nil {
		return err
	}
	if out.TierWeights == nil {
		out.TierWeights = defaults.TierWeights
	}
	if out.HintPolicy.Penalties == nil {
		out.HintPolicy.Penalties = defaults.HintPolicy.Penalties
	}
	*p = SessionProfile(out)
	return p.Validate()
}

func (p SessionProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidConfig)
	}
	if p.DurationHours < 1 || p.DurationHours > 24 {
		return fmt.Errorf("%w: profile %q duration_hours must be within 1..24", ErrInvalidConfig, p.Name)
	}
	if p.CadenceMinutes < 5 || p.CadenceMinutes > 480 {
		return fmt.Errorf("%w: profile %q cadence_minutes must be within 5..480", ErrInvalidConfig, p.Name)
	}
	if p.TicketsPerWindowMin < 0 {
		return fmt.Errorf("%w: profile %q tickets_per_window_min must be >= 0", ErrInvalidConfig, p.Name)
	}
	if p.TicketsPerWindowMax < p.TicketsPerWindowMin {
		return fmt.Errorf("%w: profile %q tickets_per_window_max must be >= tickets_per_window_min", ErrInvalidConfig, p.Name)
	}
	if p.TrickleMaxPerTick < 1 || p.TrickleMaxPerTick > 25 {
		return fmt.Errorf("%w: profile %q trickle_max_per_tick must be within 1..25", ErrInvalidConfig, p.Name)
	}
	for tier, w := range p.TierWeights {
		if !tier.Valid() {
			return fmt.Errorf("%w: profile %q has unknown tier %q", ErrInvalidConfig, p.Name, tier)
		}
		if w < 0 {
			return fmt.Errorf("%w: profile %q tier weight for %s is negative", ErrInvalidConfig, p.Name, tier)
		}
	}
	for _, inj := range p.IncidentInjections {
		if inj.AtWindow < 0 || inj.ExtraTickets < 0 {
			return fmt.Errorf("%w: profile %q incident %q has negative window or ticket count", ErrInvalidConfig, p.Name, inj.Name)
		}
	}
	return nil
}

func (p SessionProfile) Cadence() time.Duration {
	return time.Duration(p.CadenceMinutes) * time.Minute
}

func (p SessionProfile) Duration() time.Duration {
	return time.Duration(p.DurationHours) * time.Hour
}
