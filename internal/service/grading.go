package service

import (
	"math"
	"strings"
	"time"

	"github.com/helpdesk_sim/backend/internal/models"
)

var (
	politenessTokens      = []string{"please", "thanks", "let me know", "could you"}
	documentationSections = []string{"impact", "troubleshooting", "root cause", "resolution"}
)

// Grade scores a closed ticket against its hidden truth. It only reads its inputs.
//
// The closing time is ticket.ClosedAt; when unset the last transcript entry stands in, so the
// result never depends on the wall clock.
func Grade(ticket models.Ticket, transcript []models.Interaction, profile models.SessionProfile) models.ScoreResult {
	truth := ticket.HiddenTruth

	var agentParts []string
	for _, in := range transcript {
		if in.Actor == models.ActorAgent {
			agentParts = append(agentParts, strings.ToLower(in.Body))
		}
	}
	agentText := strings.Join(agentParts, "\n")

	var score models.ScoreBreakdown
	missed := []string{}

	hits := 0
	for _, check := range truth.ExpectedAgentChecks {
		check = strings.ToLower(check)
		if check != "" && strings.Contains(agentText, check) {
			hits++
			continue
		}
		if check != "" {
			missed = append(missed, check)
		}
	}
	if n := len(truth.ExpectedAgentChecks); n > 0 {
		score.Troubleshooting = int(math.RoundToEven(25 * float64(hits) / float64(n)))
	}

	rootCause := strings.ToLower(strings.TrimSpace(truth.RootCause))
	switch {
	case keywordPresent(agentText, truth.AcceptableResolutionKeywords):
		score.Correctness = 30
	case rootCause != "" && strings.Contains(agentText, rootCause):
		score.Correctness = 20
	default:
		score.Correctness = 8
	}

	politeness := 0
	for _, tok := range politenessTokens {
		if strings.Contains(agentText, tok) {
			politeness++
		}
	}
	score.Communication = min(15, 3*politeness+min(strings.Count(agentText, "?"), 3))

	sections := 0
	for _, s := range documentationSections {
		if strings.Contains(agentText, s) {
			sections++
		}
	}
	score.Documentation = min(15, 4*sections)

	metrics := timingMetrics(ticket, transcript)
	score.SLA = 10
	if target, ok := profile.SLAPolicy.FirstResponseMinutes[ticket.Priority]; ok && metrics.FirstResponseMinutes > float64(target) {
		score.SLA -= 5
	}
	if target, ok := profile.SLAPolicy.ResolutionMinutes[ticket.Priority]; ok && metrics.ResolutionMinutes > float64(target) {
		score.SLA -= 5
	}
	score.SLA = max(score.SLA, 0)

	mentionsEscalation := strings.Contains(agentText, "escalat") || strings.Contains(agentText, "tier 2")
	switch ticket.Tier {
	case models.TierTier2, models.TierSysadmin:
		score.Escalation = 2
		if mentionsEscalation {
			score.Escalation = 5
		}
	default:
		score.Escalation = 5
		if mentionsEscalation {
			score.Escalation = 2
		}
	}

	score.HintPenalty = truth.HintPenaltyTotal
	score.Total = score.ComputeTotal()

	return models.ScoreResult{Score: score, Metrics: metrics, MissedChecks: missed}
}

func keywordPresent(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func timingMetrics(ticket models.Ticket, transcript []models.Interaction) models.TimingMetrics {
	closedAt := ticket.CreatedAt
	switch {
	case ticket.ClosedAt != nil:
		closedAt = *ticket.ClosedAt
	case len(transcript) > 0:
		closedAt = transcript[len(transcript)-1].CreatedAt
	}

	firstResponse := closedAt
	for _, in := range transcript {
		if in.Actor == models.ActorAgent {
			firstResponse = in.CreatedAt
			break
		}
	}
	return models.TimingMetrics{
		FirstResponseMinutes: minutesBetween(ticket.CreatedAt, firstResponse),
		ResolutionMinutes:    minutesBetween(ticket.CreatedAt, closedAt),
	}
}

func minutesBetween(from, to time.Time) float64 {
	return math.Round(to.Sub(from).Minutes()*100) / 100
}
