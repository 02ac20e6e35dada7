package metrics

import (
	"maps"
	"math"
	"slices"
	"time"

	"timeline/internal/domain"
)

type Contribution struct {
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	Hours       float64 `json:"hours"`
}

type MonthSummary struct {
	Month     string         `json:"month"`
	Estimated float64        `json:"estimated"`
	Actual    float64        `json:"actual"`
	Projects  []Contribution `json:"projects"`
}

// MonthsBetween lists every "YYYY-MM" from start's month to end's month inclusive.
// It is empty when end's month precedes start's.
func MonthsBetween(start, end time.Time) []string {
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	var months []string
	for !cur.After(last) {
		months = append(months, domain.MonthKey(cur))
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

// MonthlyHours aggregates planned and spent hours per calendar month.
//
// Planned hours come from the explicit allocation when one is present.
// Otherwise the estimate is spread over the active months with a per-month
// ceiling, so the total can exceed the estimate. Spent hours come from
// completed tasks and land in the month of the task's end date.
func MonthlyHours(projects []domain.ProjectData, now time.Time) []MonthSummary {
	byMonth := make(map[string]*MonthSummary)
	bucket := func(month string) *MonthSummary {
		s, ok := byMonth[month]
		if !ok {
			s = &MonthSummary{Month: month, Projects: []Contribution{}}
			byMonth[month] = s
		}
		return s
	}
	contribute := func(p domain.Project, month string, hours float64) {
		s := bucket(month)
		s.Estimated += hours
		s.Projects = append(s.Projects, Contribution{ProjectID: p.ID, ProjectName: p.Name, Hours: hours})
	}

	for _, data := range projects {
		p := data.Project
		if data.MonthlyAllocation != nil {
			for _, month := range slices.Sorted(maps.Keys(data.MonthlyAllocation)) {
				contribute(p, month, data.MonthlyAllocation[month])
			}
		} else if start, end, ok := span(p); ok {
			last := domain.Today(now)
			if end != nil {
				last = *end
			}
			months := MonthsBetween(start, last)
			if len(months) > 0 {
				perMonth := math.Ceil(p.EstimatedHours / float64(len(months)))
				for _, month := range months {
					contribute(p, month, perMonth)
				}
			}
		}

		for _, t := range data.Tasks {
			if t.Status != domain.TaskCompleted || t.ActualHours == 0 || len(t.EndDate) < 7 {
				continue
			}
			bucket(t.EndDate[:7]).Actual += t.ActualHours
		}
	}

	out := make([]MonthSummary, 0, len(byMonth))
	for _, month := range slices.Sorted(maps.Keys(byMonth)) {
		out = append(out, *byMonth[month])
	}
	return out
}
