package metrics

import (
	"fmt"
	"time"

	"timeline/internal/domain"
)

type Summary struct {
	TotalEstimated float64                      `json:"totalEstimated"`
	TotalActual    float64                      `json:"totalActual"`
	Remaining      float64                      `json:"remaining"`
	Utilization    int                          `json:"utilization"`
	OverBudget     bool                         `json:"overBudget"`
	ProjectCount   int                          `json:"projectCount"`
	StatusCounts   map[domain.ProjectStatus]int `json:"statusCounts"`
}

// Summarize totals hours across projects. Utilization is actual over
// estimated as a rounded percentage, 0 when nothing is estimated.
func Summarize(projects []domain.ProjectData) Summary {
	s := Summary{ProjectCount: len(projects), StatusCounts: map[domain.ProjectStatus]int{}}
	for _, data := range projects {
		s.TotalEstimated += data.Project.EstimatedHours
		s.TotalActual += data.Project.ActualHours
		s.StatusCounts[data.Project.Status]++
	}
	s.Remaining = s.TotalEstimated - s.TotalActual
	if s.TotalEstimated > 0 {
		s.Utilization = round(s.TotalActual / s.TotalEstimated * 100)
	}
	s.OverBudget = s.Utilization > 100
	return s
}

type TaskStats struct {
	Total         int `json:"total"`
	Completed     int `json:"completed"`
	InProgress    int `json:"inProgress"`
	Blocked       int `json:"blocked"`
	Pending       int `json:"pending"`
	PctCompleted  int `json:"pctCompleted"`
	PctInProgress int `json:"pctInProgress"`
	PctBlocked    int `json:"pctBlocked"`
	PctPending    int `json:"pctPending"`
}

// CountTasks tallies non-milestone tasks by status.
func CountTasks(tasks []domain.Task) TaskStats {
	var s TaskStats
	for _, t := range tasks {
		if t.IsMilestone() {
			continue
		}
		s.Total++
		switch t.Status {
		case domain.TaskCompleted:
			s.Completed++
		case domain.TaskInProgress:
			s.InProgress++
		case domain.TaskBlocked:
			s.Blocked++
		case domain.TaskPending:
			s.Pending++
		}
	}
	if s.Total > 0 {
		pct := func(n int) int { return round(float64(n) / float64(s.Total) * 100) }
		s.PctCompleted = pct(s.Completed)
		s.PctInProgress = pct(s.InProgress)
		s.PctBlocked = pct(s.Blocked)
		s.PctPending = pct(s.Pending)
	}
	return s
}

type ActivityKind string

const (
	ActivityCreated   ActivityKind = "created"
	ActivityStarted   ActivityKind = "started"
	ActivityCompleted ActivityKind = "completed"
)

type Activity struct {
	Kind    ActivityKind `json:"type"`
	Message string       `json:"message"`
	Date    string       `json:"date"`
}

// ActivityLog reconstructs a coarse history from current state: the project
// start, then completed and in-progress tasks. Newest entries come first,
// which here means reverse task order since tasks carry no timestamps.
func ActivityLog(data domain.ProjectData) []Activity {
	log := []Activity{{
		Kind:    ActivityCreated,
		Message: fmt.Sprintf("Project %q was created", data.Project.Name),
		Date:    data.Project.StartDate,
	}}
	for _, t := range data.Tasks {
		switch t.Status {
		case domain.TaskCompleted:
			log = append(log, Activity{ActivityCompleted, fmt.Sprintf("Task %q was completed", t.Name), t.EndDate})
		case domain.TaskInProgress:
			log = append(log, Activity{ActivityStarted, fmt.Sprintf("Task %q is in progress", t.Name), t.StartDate})
		}
	}
	for i, j := 0, len(log)-1; i < j; i, j = i+1, j-1 {
		log[i], log[j] = log[j], log[i]
	}
	return log
}

// Report bundles every per-project metric for one project at one instant.
type Report struct {
	ProjectID  string              `json:"projectId"`
	AsOf       string              `json:"asOf"`
	Health     Health              `json:"health"`
	Forecast   Forecast            `json:"forecast"`
	Tone       Tone                `json:"tone"`
	Position   Position            `json:"position"`
	Milestones []MilestonePosition `json:"milestones"`
	Next       *MilestonePosition  `json:"nextMilestone,omitempty"`
	Upcoming   []UpcomingMilestone `json:"upcoming"`
	Tasks      TaskStats           `json:"tasks"`
	Overdue    bool                `json:"overdue"`
}

func Analyze(data domain.ProjectData, now time.Time) Report {
	f := CompletionForecast(data, now)
	milestones := MilestonePositions(data)
	return Report{
		ProjectID:  data.Project.ID,
		AsOf:       now.UTC().Format(time.RFC3339),
		Health:     ProjectHealth(data, now),
		Forecast:   f,
		Tone:       ForecastTone(f),
		Position:   ProjectPosition(data.Project, now),
		Milestones: milestones,
		Next:       NextMilestone(milestones, now),
		Upcoming:   UpcomingMilestones(data.Tasks, now, DefaultUpcomingLimit),
		Tasks:      CountTasks(data.Tasks),
		Overdue:    ProjectOverdue(data.Project, now),
	}
}
