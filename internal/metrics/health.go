// Package metrics derives read-only analytics from canonical project data.
// Every function takes the reference instant explicitly and never fails:
// degenerate input yields an "unavailable" shape instead of an error.
package metrics

import (
	"math"
	"time"

	"timeline/internal/domain"
)

const day = 24 * time.Hour

// round rounds half up, so -2.5 becomes -2.
func round(x float64) int { return int(math.Floor(x + 0.5)) }

func ceilDays(d time.Duration) int { return int(math.Ceil(float64(d) / float64(day))) }

// span parses a project's dates. end is nil for open-ended projects.
func span(p domain.Project) (start time.Time, end *time.Time, ok bool) {
	start, err := domain.ParseDate(p.StartDate)
	if err != nil {
		return time.Time{}, nil, false
	}
	if p.EndDate == nil || *p.EndDate == "" {
		return start, nil, true
	}
	e, err := domain.ParseDate(*p.EndDate)
	if err != nil {
		return start, nil, true
	}
	return start, &e, true
}

// ExpectedProgress is the share of the start..end interval elapsed at now, 0..100.
func ExpectedProgress(start, end, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	if now.After(end) {
		return 100
	}
	total := end.Sub(start)
	if total <= 0 {
		return 100
	}
	return round(float64(now.Sub(start)) / float64(total) * 100)
}

// ActualProgress is the hours-weighted mean progress of non-milestone tasks.
// When no hours are estimated it falls back to the plain mean.
func ActualProgress(tasks []domain.Task) int {
	var n int
	var hours, progress, weighted float64
	for _, t := range tasks {
		if t.IsMilestone() {
			continue
		}
		n++
		hours += t.EstimatedHours
		progress += t.Progress
		weighted += t.Progress * t.EstimatedHours
	}
	if n == 0 {
		return 0
	}
	if hours == 0 {
		return round(progress / float64(n))
	}
	return round(weighted / hours)
}

type HealthStatus string

const (
	HealthOnTrack  HealthStatus = "on_track"
	HealthAtRisk   HealthStatus = "at_risk"
	HealthOffTrack HealthStatus = "off_track"
)

func (s HealthStatus) Label() string {
	switch s {
	case HealthOnTrack:
		return "On Track"
	case HealthAtRisk:
		return "At Risk"
	case HealthOffTrack:
		return "Off Track"
	default:
		return string(s)
	}
}

type HealthDetails struct {
	ExpectedProgress int     `json:"expectedProgress"`
	ActualProgress   int     `json:"actualProgress"`
	ExpectedHours    int     `json:"expectedHours"`
	ActualHours      float64 `json:"actualHours"`
}

type Health struct {
	Status           HealthStatus  `json:"status"`
	ScheduleVariance int           `json:"scheduleVariance"`
	BudgetVariance   int           `json:"budgetVariance"`
	Details          HealthDetails `json:"details"`
}

// Classify maps the worse of the two variances onto a health status.
// Both thresholds are inclusive: -10 is on track, -25 is at risk.
func Classify(worstVariance int) HealthStatus {
	switch {
	case worstVariance >= -10:
		return HealthOnTrack
	case worstVariance >= -25:
		return HealthAtRisk
	default:
		return HealthOffTrack
	}
}

// ProjectHealth scores schedule and budget variance. Positive variances are
// favourable. Completed projects are always on track.
func ProjectHealth(data domain.ProjectData, now time.Time) Health {
	p := data.Project
	expected := 0
	if start, end, ok := span(p); ok && end != nil {
		expected = ExpectedProgress(start, *end, now)
	}
	actual := ActualProgress(data.Tasks)

	schedule := actual - expected
	expectedHours := float64(actual) / 100 * p.EstimatedHours
	budget := 0
	if expectedHours > 0 {
		budget = round((expectedHours - p.ActualHours) / expectedHours * 100)
	}

	status := Classify(min(schedule, budget))
	if p.Status == domain.ProjectCompleted {
		status = HealthOnTrack
	}
	return Health{
		Status:           status,
		ScheduleVariance: schedule,
		BudgetVariance:   budget,
		Details: HealthDetails{
			ExpectedProgress: expected,
			ActualProgress:   actual,
			ExpectedHours:    round(expectedHours),
			ActualHours:      p.ActualHours,
		},
	}
}
