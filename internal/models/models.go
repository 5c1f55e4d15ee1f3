package models

import (
	"time"
)

type Tier string

const (
	TierTier1    Tier = "tier1"
	TierTier2    Tier = "tier2"
	TierSysadmin Tier = "sysadmin"
)

// Tiers lists every routing tier in a stable order.
var Tiers = []Tier{TierTier1, TierTier2, TierSysadmin}

func (t Tier) Valid() bool {
	switch t {
	case TierTier1, TierTier2, TierSysadmin:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

type HintLevel string

const (
	HintNudge      HintLevel = "nudge"
	HintGuidedStep HintLevel = "guided_step"
	HintStrongHint HintLevel = "strong_hint"
)

func (l HintLevel) Valid() bool {
	switch l {
	case HintNudge, HintGuidedStep, HintStrongHint:
		return true
	}
	return false
}

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAgent    Actor = "agent"
	ActorSystem   Actor = "system"
)

type Persona struct {
	ID             string `json:"id" yaml:"id"`
	Role           string `json:"role" yaml:"role"`
	FullName       string `json:"full_name" yaml:"full_name"`
	Email          string `json:"email" yaml:"email"`
	TechnicalLevel string `json:"technical_level" yaml:"technical_level"`
	Tone           string `json:"tone" yaml:"tone"`
}

type KnowledgeArticle struct {
	ID      string   `json:"id" yaml:"id"`
	Title   string   `json:"title" yaml:"title"`
	URL     string   `json:"url" yaml:"url"`
	Summary string   `json:"summary" yaml:"summary"`
	Tags    []string `json:"tags" yaml:"tags"`
}

const DefaultFollowUp = "I can share more details if you can tell me exactly what you need."

type Scenario struct {
	ID                           string               `json:"id" yaml:"id"`
	Title                        string               `json:"title" yaml:"title"`
	TicketType                   string               `json:"ticket_type" yaml:"ticket_type"`
	Tier                         Tier                 `json:"tier" yaml:"tier"`
	Priority                     Priority             `json:"priority" yaml:"priority"`
	Tags                         []string             `json:"tags" yaml:"tags"`
	PersonaRoles                 []string             `json:"persona_roles" yaml:"persona_roles"`
	KnowledgeArticleIDs          []string             `json:"knowledge_article_ids" yaml:"knowledge_article_ids"`
	CustomerProblem              string               `json:"customer_problem" yaml:"customer_problem"`
	RootCause                    string               `json:"root_cause" yaml:"root_cause"`
	ExpectedAgentChecks          []string             `json:"expected_agent_checks" yaml:"expected_agent_checks"`
	ResolutionSteps              []string             `json:"resolution_steps" yaml:"resolution_steps"`
	AcceptableResolutionKeywords []string             `json:"acceptable_resolution_keywords" yaml:"acceptable_resolution_keywords"`
	ClueMap                      ClueMap              `json:"clue_map" yaml:"clue_map"`
	HintBank                     map[HintLevel]string `json:"hint_bank" yaml:"hint_bank"`
	DefaultFollowUp              string               `json:"default_follow_up" yaml:"default_follow_up"`
}

// HasTags reports whether every tag in required is present on the scenario.
func (s Scenario) HasTags(required []string) bool {
	for _, tag := range required {
		found := false
		for _, have := range s.Tags {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HiddenTruth is the private fact-sheet of a ticket. Only the hint flow mutates it.
type HiddenTruth struct {
	ScenarioID                   string               `json:"scenario_id"`
	TicketType                   string               `json:"ticket_type"`
	CustomerProblem              string               `json:"customer_problem"`
	RootCause                    string               `json:"root_cause"`
	ExpectedAgentChecks          []string             `json:"expected_agent_checks"`
	ResolutionSteps              []string             `json:"resolution_steps"`
	AcceptableResolutionKeywords []string             `json:"acceptable_resolution_keywords"`
	KnowledgeArticleIDs          []string             `json:"knowledge_article_ids"`
	ClueMap                      ClueMap              `json:"clue_map"`
	HintBank                     map[HintLevel]string `json:"hint_bank"`
	DefaultFollowUp              string               `json:"default_follow_up"`
	HintPenaltyTotal             int                  `json:"hint_penalty_total"`
	Persona                      Persona              `json:"persona"`
}

type PendingBatch struct {
	Remaining    int      `json:"remaining"`
	RequiredTags []string `json:"required_tags"`
}

type Session struct {
	ID             string         `json:"id"`
	ProfileName    string         `json:"profile_name"`
	Status         SessionStatus  `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	EndsAt         time.Time      `json:"ends_at"`
	NextWindowAt   time.Time      `json:"next_window_at"`
	WindowIndex    int            `json:"window_index"`
	Profile        SessionProfile `json:"profile"`
	PendingBatches []PendingBatch `json:"pending_batches"`
}

// SessionWindow is the scheduler-owned part of a session persisted after each tick.
type SessionWindow struct {
	NextWindowAt   time.Time
	WindowIndex    int
	PendingBatches []PendingBatch
}

type GeneratedTicket struct {
	ScenarioID    string      `json:"scenario_id"`
	SessionID     string      `json:"session_id"`
	Subject       string      `json:"subject"`
	Body          string      `json:"body"`
	Tier          Tier        `json:"tier"`
	Priority      Priority    `json:"priority"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	HiddenTruth   HiddenTruth `json:"hidden_truth"`
}

type Ticket struct {
	ID                string       `json:"id"`
	SessionID         string       `json:"session_id"`
	BackendTicketID   *int64       `json:"backend_ticket_id"`
	Subject           string       `json:"subject"`
	Tier              Tier         `json:"tier"`
	Priority          Priority     `json:"priority"`
	Status            TicketStatus `json:"status"`
	ScenarioID        string       `json:"scenario_id"`
	HiddenTruth       HiddenTruth  `json:"hidden_truth"`
	Score             *ScoreResult `json:"score,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	ClosedAt          *time.Time   `json:"closed_at,omitempty"`
	LastSeenArticleID int64        `json:"last_seen_article_id"`
}

type Interaction struct {
	ID        string         `json:"id"`
	TicketID  string         `json:"ticket_id"`
	Actor     Actor          `json:"actor"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

type ScoreBreakdown struct {
	Troubleshooting int `json:"troubleshooting"`
	Correctness     int `json:"correctness"`
	Communication   int `json:"communication"`
	Documentation   int `json:"documentation"`
	SLA             int `json:"sla"`
	Escalation      int `json:"escalation"`
	HintPenalty     int `json:"hint_penalty"`
	Total           int `json:"total"`
}

// ComputeTotal sums the components minus the hint penalty, floored at zero.
func (b ScoreBreakdown) ComputeTotal() int {
	total := b.Troubleshooting + b.Correctness + b.Communication + b.Documentation + b.SLA + b.Escalation - b.HintPenalty
	if total < 0 {
		return 0
	}
	return total
}

type TimingMetrics struct {
	FirstResponseMinutes float64 `json:"first_response_minutes"`
	ResolutionMinutes    float64 `json:"resolution_minutes"`
}

type ScoreResult struct {
	Score        ScoreBreakdown `json:"score"`
	Metrics      TimingMetrics  `json:"metrics"`
	MissedChecks []string       `json:"missed_checks"`
	ManualClose  bool           `json:"manual_close,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

type ReportType string

const (
	ReportDaily  ReportType = "daily"
	ReportWeekly ReportType = "weekly"
)

type ReportComparison struct {
	PreviousAverageScore float64 `json:"previous_average_score"`
	ScoreDelta           float64 `json:"score_delta"`
}

type ReportSummary struct {
	GeneratedAt                 time.Time         `json:"generated_at"`
	PeriodStart                 time.Time         `json:"period_start"`
	PeriodEnd                   time.Time         `json:"period_end"`
	TicketsClosed               int               `json:"tickets_closed"`
	AverageScore                float64           `json:"average_score"`
	AverageFirstResponseMinutes float64           `json:"average_first_response_minutes"`
	AverageResolutionMinutes    float64           `json:"average_resolution_minutes"`
	SLAMissRate                 float64           `json:"sla_miss_rate"`
	TopMissedChecks             []string          `json:"top_missed_checks"`
	Comparison                  *ReportComparison `json:"comparison,omitempty"`
}

type Report struct {
	ID          string        `json:"id"`
	ReportType  ReportType    `json:"report_type"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Payload     ReportSummary `json:"payload"`
	CreatedAt   time.Time     `json:"created_at"`
}
