package metrics

import (
	"fmt"
	"strings"
	"time"

	"timeline/internal/domain"
)

type GanttLevel string

const (
	GanttProjects GanttLevel = "project"
	GanttTasks    GanttLevel = "task"
)

func (l GanttLevel) Valid() bool {
	switch l {
	case GanttProjects, GanttTasks:
		return true
	default:
		return false
	}
}

const milestoneColor = "#a855f7"

// TaskColor is the bar color for a task status.
func TaskColor(s domain.TaskStatus) string {
	switch s {
	case domain.TaskInProgress:
		return "#3b82f6"
	case domain.TaskCompleted:
		return "#22c55e"
	case domain.TaskBlocked:
		return "#ef4444"
	default:
		return "#94a3b8"
	}
}

type GanttMeta struct {
	Assignee       string            `json:"assignee,omitempty"`
	EstimatedHours float64           `json:"estimatedHours"`
	ActualHours    float64           `json:"actualHours"`
	Status         domain.TaskStatus `json:"status"`
	Description    string            `json:"description,omitempty"`
	ProjectName    string            `json:"projectName"`
	Type           domain.TaskType   `json:"type"`
}

type GanttRow struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Start        string     `json:"start"`
	End          string     `json:"end"`
	Progress     int        `json:"progress"`
	Dependencies []string   `json:"dependencies"`
	Color        string     `json:"color,omitempty"`
	CustomClass  string     `json:"customClass"`
	Meta         *GanttMeta `json:"meta,omitempty"`
}

// GanttID scopes a task id to its project so rows from different projects never collide.
func GanttID(projectID, taskID string) string { return projectID + "__" + taskID }

// GanttRows flattens projects into chart bars, one per project or one per task.
func GanttRows(projects []domain.ProjectData, level GanttLevel, now time.Time) []GanttRow {
	rows := []GanttRow{}
	for _, data := range projects {
		if level == GanttTasks && len(data.Tasks) > 0 {
			for _, t := range data.Tasks {
				rows = append(rows, taskRow(data.Project, t))
			}
			continue
		}
		rows = append(rows, projectRow(data, now))
	}
	return rows
}

func projectRow(data domain.ProjectData, now time.Time) GanttRow {
	p := data.Project
	progress := 0
	if len(data.Tasks) > 0 {
		var sum float64
		for _, t := range data.Tasks {
			sum += t.Progress
		}
		progress = round(sum / float64(len(data.Tasks)))
	}
	end := domain.FormatDate(now)
	if p.EndDate != nil && *p.EndDate != "" {
		end = *p.EndDate
	}
	return GanttRow{
		ID:           p.ID,
		Name:         p.Name,
		Start:        p.StartDate,
		End:          end,
		Progress:     progress,
		Dependencies: []string{},
		CustomClass:  "status-" + cssName(string(p.Status)),
	}
}

func taskRow(p domain.Project, t domain.Task) GanttRow {
	deps := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		deps = append(deps, GanttID(p.ID, dep))
	}
	row := GanttRow{
		ID:           GanttID(p.ID, t.ID),
		Name:         t.Name,
		Start:        t.StartDate,
		End:          t.EndDate,
		Progress:     round(t.Progress),
		Dependencies: deps,
		Color:        TaskColor(t.Status),
		CustomClass:  fmt.Sprintf("task-%s", cssName(string(t.Status))),
		Meta: &GanttMeta{
			Assignee:       t.Assignee,
			EstimatedHours: t.EstimatedHours,
			ActualHours:    t.ActualHours,
			Status:         t.Status,
			Description:    t.Description,
			ProjectName:    p.Name,
			Type:           t.Type,
		},
	}
	if t.IsMilestone() {
		row.Color = milestoneColor
		row.CustomClass = "milestone"
		// A zero-length bar does not render; widen it backwards so the
		// end date, where dependency arrows attach, stays put.
		if t.StartDate == t.EndDate {
			if d, err := domain.ParseDate(t.StartDate); err == nil {
				row.Start = domain.FormatDate(d.AddDate(0, 0, -1))
			}
		}
	}
	return row
}

func cssName(s string) string { return strings.ReplaceAll(s, "_", "-") }
