package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/models"
)

const topMissedChecksLimit = 5

type ReportService struct {
	Repo db.Repository
	Now  func() time.Time
}

// Generate aggregates tickets closed in the trailing day or week and stores the report.
func (s *ReportService) Generate(ctx context.Context, reportType models.ReportType) (models.ReportSummary, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	var start time.Time
	switch reportType {
	case models.ReportDaily:
		start = now.AddDate(0, 0, -1)
	case models.ReportWeekly:
		start = now.AddDate(0, 0, -7)
	default:
		return models.ReportSummary{}, fmt.Errorf("%w: report type must be daily or weekly", models.ErrInvalidConfig)
	}

	tickets, err := s.Repo.ListClosedTicketsBetween(ctx, start, now)
	if err != nil {
		return models.ReportSummary{}, err
	}
	summary := summarize(tickets)
	summary.GeneratedAt = now
	summary.PeriodStart = start
	summary.PeriodEnd = now

	prev, err := s.Repo.LatestReport(ctx, reportType)
	switch {
	case err == nil:
		summary.Comparison = &models.ReportComparison{
			PreviousAverageScore: prev.Payload.AverageScore,
			ScoreDelta:           round2(summary.AverageScore - prev.Payload.AverageScore),
		}
	case !errors.Is(err, models.ErrNotFound):
		return models.ReportSummary{}, fmt.Errorf("load previous report: %w", err)
	}

	_, err = s.Repo.SaveReport(ctx, models.Report{
		ReportType:  reportType,
		PeriodStart: start,
		PeriodEnd:   now,
		Payload:     summary,
		CreatedAt:   now,
	})
	if err != nil {
		return models.ReportSummary{}, fmt.Errorf("save report: %w", err)
	}
	return summary, nil
}

func summarize(tickets []models.Ticket) models.ReportSummary {
	var (
		totals, firsts, resolutions []float64
		slaMisses                   int
		missed                      = map[string]int{}
	)
	for _, t := range tickets {
		if t.Score == nil {
			continue
		}
		totals = append(totals, float64(t.Score.Score.Total))
		firsts = append(firsts, t.Score.Metrics.FirstResponseMinutes)
		resolutions = append(resolutions, t.Score.Metrics.ResolutionMinutes)
		if t.Score.Score.SLA < 10 {
			slaMisses++
		}
		for _, c := range t.Score.MissedChecks {
			missed[c]++
		}
	}

	out := models.ReportSummary{
		TicketsClosed:               len(tickets),
		AverageScore:                average(totals),
		AverageFirstResponseMinutes: average(firsts),
		AverageResolutionMinutes:    average(resolutions),
		TopMissedChecks:             topMissed(missed, topMissedChecksLimit),
	}
	if len(tickets) > 0 {
		out.SLAMissRate = float64(slaMisses) / float64(len(tickets))
	}
	return out
}

// topMissed orders checks by frequency, ties broken alphabetically.
func topMissed(counts map[string]int, limit int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return round2(sum / float64(len(values)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
