package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Health thresholds. The upstream bound is deliberately looser than the
// tracker's staleness threshold; the health check flags sustained outages,
// not ordinary gaps between batches.
const (
	upstreamAgeLimit   = 72 * time.Hour
	oldestProfileLimit = 168 * time.Hour
	staleFractionLimit = 0.30
)

type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
)

// HealthReport is the scheduler's view of pipeline health.
type HealthReport struct {
	Status          HealthStatus `json:"status"`
	Problems        []string     `json:"problems,omitempty"`
	UpstreamAgeHrs  float64      `json:"upstream_age_hours"`
	TotalProfiles   int          `json:"total_profiles"`
	StaleProfiles   int          `json:"stale_profiles"`
	SchedulerActive bool         `json:"scheduler_active"`
	LastRun         *RunResult   `json:"last_run,omitempty"`
}

// HealthCheck inspects upstream freshness and profile staleness and reports
// degraded status with the specific problems found.
func (s *Scheduler) HealthCheck(ctx context.Context) (*HealthReport, error) {
	now := s.now()
	report := &HealthReport{
		Status:          HealthOK,
		SchedulerActive: s.Running(),
		LastRun:         s.LastRun(),
	}

	upstream := s.gate.GetUpstreamFreshness(ctx)
	report.UpstreamAgeHrs = upstream.DataAgeHours
	if upstream.Degraded {
		report.Problems = append(report.Problems, "upstream probe unavailable")
	}
	if upstream.DataAgeHours > upstreamAgeLimit.Hours() {
		report.Problems = append(report.Problems,
			fmt.Sprintf("upstream data is %.1fh old (limit %.0fh)", upstream.DataAgeHours, upstreamAgeLimit.Hours()))
	}

	stats, err := s.profiles.Stats(ctx, now)
	if err != nil {
		return nil, err
	}
	report.TotalProfiles = stats.TotalProfiles
	report.StaleProfiles = stats.StaleProfiles

	if stats.OldestUpdatedAt != nil {
		if age := now.Sub(*stats.OldestUpdatedAt); age > oldestProfileLimit {
			report.Problems = append(report.Problems,
				fmt.Sprintf("oldest profile is %.1fh old (limit %.0fh)", age.Hours(), oldestProfileLimit.Hours()))
		}
	}
	if stats.TotalProfiles > 0 {
		if frac := float64(stats.StaleProfiles) / float64(stats.TotalProfiles); frac > staleFractionLimit {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%.0f%% of profiles are stale (limit %.0f%%)", frac*100, staleFractionLimit*100))
		}
	}

	if len(report.Problems) > 0 {
		report.Status = HealthDegraded
	}
	return report, nil
}
