package metrics

import (
	"fmt"
	"sort"
	"time"

	"timeline/internal/domain"
)

type Position struct {
	Percentage    int  `json:"percentage"`
	DayNumber     int  `json:"dayNumber"`
	TotalDays     int  `json:"totalDays"`
	IsBeforeStart bool `json:"isBeforeStart"`
	IsPastEnd     bool `json:"isPastEnd"`
}

// TimelinePosition places today on the start..end span. Days are counted on
// UTC calendar days and both ends are inclusive. A nil end yields the zero Position.
func TimelinePosition(start time.Time, end *time.Time, now time.Time) Position {
	if end == nil {
		return Position{}
	}
	start, stop, today := domain.Today(start), domain.Today(*end), domain.Today(now)
	total := stop.Sub(start)
	totalDays := ceilDays(total) + 1
	elapsed := today.Sub(start)

	switch {
	case today.Before(start):
		return Position{TotalDays: totalDays, IsBeforeStart: true}
	case today.After(stop):
		return Position{Percentage: 100, DayNumber: totalDays, TotalDays: totalDays, IsPastEnd: true}
	}
	pct := 100
	if total > 0 {
		pct = round(float64(elapsed) / float64(total) * 100)
	}
	return Position{Percentage: pct, DayNumber: ceilDays(elapsed) + 1, TotalDays: totalDays}
}

// ProjectPosition is TimelinePosition over a project's own dates.
func ProjectPosition(p domain.Project, now time.Time) Position {
	start, end, ok := span(p)
	if !ok {
		return Position{}
	}
	return TimelinePosition(start, end, now)
}

type MilestonePosition struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
	Date       string `json:"date"`
	Completed  bool   `json:"isCompleted"`
}

// MilestonePositions places each milestone's end date on the project span,
// clamped to 0..100. Open-ended projects have no positions.
func MilestonePositions(data domain.ProjectData) []MilestonePosition {
	start, end, ok := span(data.Project)
	if !ok || end == nil {
		return nil
	}
	total := end.Sub(start)
	var out []MilestonePosition
	for _, t := range data.Tasks {
		if !t.IsMilestone() {
			continue
		}
		date, err := domain.ParseDate(t.EndDate)
		if err != nil {
			continue
		}
		elapsed := date.Sub(start)
		var pct int
		switch {
		case total > 0:
			pct = max(0, min(100, round(float64(elapsed)/float64(total)*100)))
		case elapsed >= 0:
			pct = 100
		}
		out = append(out, MilestonePosition{
			ID:         t.ID,
			Name:       t.Name,
			Percentage: pct,
			Date:       t.EndDate,
			Completed:  t.Status == domain.TaskCompleted,
		})
	}
	return out
}

// NextMilestone is the earliest-positioned open milestone dated after now.
func NextMilestone(positions []MilestonePosition, now time.Time) *MilestonePosition {
	var next *MilestonePosition
	for i := range positions {
		m := &positions[i]
		if m.Completed {
			continue
		}
		date, err := domain.ParseDate(m.Date)
		if err != nil || !date.After(now) {
			continue
		}
		if next == nil || m.Percentage < next.Percentage {
			next = m
		}
	}
	return next
}

// DaysRemaining counts whole days from now until end, rounding up.
// It is negative once end has passed.
func DaysRemaining(end, now time.Time) int { return ceilDays(end.Sub(now)) }

// IsOverdue reports an unfinished project or task whose end date has passed.
func IsOverdue(end, now time.Time, finished bool) bool {
	return !finished && DaysRemaining(end, now) < 0
}

// ProjectOverdue applies IsOverdue to a project. Completed and cancelled
// projects are never overdue, nor are open-ended ones.
func ProjectOverdue(p domain.Project, now time.Time) bool {
	_, end, ok := span(p)
	if !ok || end == nil {
		return false
	}
	finished := p.Status == domain.ProjectCompleted || p.Status == domain.ProjectCancelled
	return IsOverdue(*end, now, finished)
}

type Blocking struct {
	IsBlocked bool     `json:"isBlocked"`
	BlockedBy []string `json:"blockedBy"`
}

// IsBlocked reports the unfinished dependencies of a milestone, by name, in
// dependency order. Unknown ids are ignored.
func IsBlocked(milestone domain.Task, tasks []domain.Task) Blocking {
	blockedBy := []string{}
	for _, dep := range milestone.Dependencies {
		for _, t := range tasks {
			if t.ID != dep {
				continue
			}
			if t.Status != domain.TaskCompleted {
				blockedBy = append(blockedBy, t.Name)
			}
			break
		}
	}
	return Blocking{IsBlocked: len(blockedBy) > 0, BlockedBy: blockedBy}
}

type UpcomingMilestone struct {
	Milestone domain.Task `json:"milestone"`
	DaysUntil int         `json:"daysUntil"`
	Label     string      `json:"label"`
	Blocking
}

// DefaultUpcomingLimit is how many milestones UpcomingMilestones returns when limit <= 0.
const DefaultUpcomingLimit = 3

// UpcomingMilestones returns open milestones ordered by days until due,
// overdue ones first. Ties keep task order.
func UpcomingMilestones(tasks []domain.Task, now time.Time, limit int) []UpcomingMilestone {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	out := []UpcomingMilestone{}
	for _, t := range tasks {
		if !t.IsMilestone() || t.Status == domain.TaskCompleted {
			continue
		}
		end, err := domain.ParseDate(t.EndDate)
		if err != nil {
			continue
		}
		until := DaysRemaining(end, now)
		out = append(out, UpcomingMilestone{
			Milestone: t,
			DaysUntil: until,
			Label:     FormatDaysUntil(until),
			Blocking:  IsBlocked(t, tasks),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysUntil < out[j].DaysUntil })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func FormatDaysUntil(n int) string {
	switch {
	case n < 0:
		return days(-n) + " overdue"
	case n == 0:
		return "Today"
	case n == 1:
		return "Tomorrow"
	case n <= 7:
		return fmt.Sprintf("%d days", n)
	case n <= 14:
		return "~1 week"
	case n <= 21:
		return "~2 weeks"
	case n <= 28:
		return "~3 weeks"
	case n <= 45:
		return "~1 month"
	default:
		return fmt.Sprintf("%d months", round(float64(n)/30))
	}
}
