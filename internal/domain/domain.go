package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectPlanning   ProjectStatus = "planning"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectOnHold     ProjectStatus = "on_hold"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// ProjectStatuses lists every project status in display order.
var ProjectStatuses = []ProjectStatus{
	ProjectDraft, ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled,
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectDraft, ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return true
	default:
		return false
	}
}

// Priority ranks a project against the rest of the portfolio.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// TaskStatus is the state of a single task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

var TaskStatuses = []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskBlocked}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskBlocked:
		return true
	default:
		return false
	}
}

// TaskType distinguishes regular work from zero-duration milestones.
type TaskType string

const (
	TaskTypeTask      TaskType = "task"
	TaskTypeMilestone TaskType = "milestone"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeTask, TaskTypeMilestone:
		return true
	default:
		return false
	}
}

type Stakeholder struct {
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
}

type Repository struct {
	URL    string `json:"url" yaml:"url"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Project is the canonical project metadata. Dates are ISO calendar dates (YYYY-MM-DD).
type Project struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Description    string        `json:"description" yaml:"description"`
	Status         ProjectStatus `json:"status" yaml:"status"`
	StartDate      string        `json:"startDate" yaml:"startDate"`
	EndDate        *string       `json:"endDate" yaml:"endDate"`
	EstimatedHours float64       `json:"estimatedHours" yaml:"estimatedHours"`
	ActualHours    float64       `json:"actualHours" yaml:"actualHours"`
	Priority       Priority      `json:"priority" yaml:"priority"`
	PriorityReason string        `json:"priorityReason,omitempty" yaml:"priorityReason,omitempty"`
	Stakeholders   []Stakeholder `json:"stakeholders" yaml:"stakeholders"`
	Repository     Repository    `json:"repository" yaml:"repository"`
	Color          string        `json:"color,omitempty" yaml:"color,omitempty"`
}

// Task is a unit of work inside one project. Its ID is only unique within that project.
type Task struct {
	ID             string     `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name"`
	Description    string     `json:"description,omitempty" yaml:"description,omitempty"`
	StartDate      string     `json:"startDate" yaml:"startDate"`
	EndDate        string     `json:"endDate" yaml:"endDate"`
	EstimatedHours float64    `json:"estimatedHours" yaml:"estimatedHours"`
	ActualHours    float64    `json:"actualHours" yaml:"actualHours"`
	Status         TaskStatus `json:"status" yaml:"status"`
	Progress       float64    `json:"progress" yaml:"progress"`
	Dependencies   []string   `json:"dependencies" yaml:"dependencies"`
	Assignee       string     `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Type           TaskType   `json:"type" yaml:"type"`
}

func (t Task) IsMilestone() bool { return t.Type == TaskTypeMilestone }

// MonthlyAllocation maps "YYYY-MM" to planned hours for that month.
type MonthlyAllocation map[string]float64

// ProjectData is one ingested document: project metadata, its tasks and optional allocation.
type ProjectData struct {
	Project           Project           `json:"project" yaml:"project"`
	Tasks             []Task            `json:"tasks" yaml:"tasks"`
	MonthlyAllocation MonthlyAllocation `json:"monthlyAllocation,omitempty" yaml:"monthlyAllocation,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// MarshalJSON keeps an explicit empty allocation as {} and omits an absent one.
// The two differ: an empty allocation plans no hours, an absent one spreads
// the estimate over the active months.
func (p ProjectData) MarshalJSON() ([]byte, error) {
	type plain ProjectData
	var alloc *MonthlyAllocation
	if p.MonthlyAllocation != nil {
		alloc = &p.MonthlyAllocation
	}
	return json.Marshal(struct {
		plain
		MonthlyAllocation *MonthlyAllocation `json:"monthlyAllocation,omitempty"`
	}{plain(p), alloc})
}

// TaskByID returns the task with the given id inside the project.
func (p ProjectData) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Event is a journal entry written after a store mutation.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

// LocalActor is the actor recorded for unauthenticated local mutations.
const LocalActor = "local-user"

const (
	EventProjectImported = "project.imported"
	EventProjectMerged   = "project.merged"
	EventProjectRemoved  = "project.removed"
	EventSeedsReloaded   = "seeds.reloaded"
	EventFetchCompleted  = "fetch.completed"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate parses a YYYY-MM-DD string into midnight UTC. It rejects
// strings that do not name a real calendar day (2025-02-30).
func ParseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", s)
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}

// MustDate is ParseDate for values already accepted by the validator.
func MustDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func FormatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

// MonthKey returns the "YYYY-MM" bucket of a date.
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// Today truncates an instant to its UTC calendar day.
func Today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
