package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"timeline/internal/domain"
)

// ParseError reports text that could not be decoded into a document at all.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decode parses YAML (or JSON, which is a subset) into an untyped tree.
func Decode(text []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(text, &raw); err != nil {
		return nil, &ParseError{Message: "YAML parse error", Err: err}
	}
	if _, ok := asMap(raw); !ok {
		return nil, &ParseError{Message: "Invalid YAML: Could not parse content"}
	}
	return raw, nil
}

// ValidateAndParse runs the whole ingestion front half: decode, validate, normalize.
func ValidateAndParse(text []byte) (domain.ProjectData, error) {
	raw, err := Decode(text)
	if err != nil {
		return domain.ProjectData{}, err
	}
	if err := Validate(raw); err != nil {
		return domain.ProjectData{}, err
	}
	return Normalize(raw), nil
}

// Normalize maps a document already accepted by Validate onto the canonical
// model, filling defaults. It panics on input Validate would have rejected.
func Normalize(raw any) domain.ProjectData {
	doc, ok := asMap(raw)
	if !ok {
		panic("document: Normalize called with unvalidated input")
	}
	p, _ := asMap(doc["project"])
	repo, _ := asMap(p["repository"])
	data := domain.ProjectData{
		Project: domain.Project{
			ID:             p["id"].(string),
			Name:           p["name"].(string),
			Description:    p["description"].(string),
			Status:         domain.ProjectStatus(p["status"].(string)),
			StartDate:      mustDate(p["startDate"]),
			EstimatedHours: mustNumber(p["estimatedHours"]),
			ActualHours:    numberOr(p["actualHours"], 0),
			Priority:       domain.Priority(p["priority"].(string)),
			PriorityReason: stringOr(p["priorityReason"]),
			Repository: domain.Repository{
				URL:    repo["url"].(string),
				Branch: stringOr(repo["branch"]),
			},
			Color: stringOr(p["color"]),
		},
	}
	if end := p["endDate"]; !isEmpty(end) {
		s := mustDate(end)
		data.Project.EndDate = &s
	}
	for _, item := range p["stakeholders"].([]any) {
		sh, _ := asMap(item)
		data.Project.Stakeholders = append(data.Project.Stakeholders, domain.Stakeholder{
			Name: sh["name"].(string),
			Role: sh["role"].(string),
		})
	}
	tasks := doc["tasks"].([]any)
	data.Tasks = make([]domain.Task, 0, len(tasks))
	for _, item := range tasks {
		data.Tasks = append(data.Tasks, normalizeTask(item))
	}
	if alloc, ok := asMap(doc["monthlyAllocation"]); ok {
		data.MonthlyAllocation = make(domain.MonthlyAllocation, len(alloc))
		for month, hours := range alloc {
			data.MonthlyAllocation[month] = mustNumber(hours)
		}
	}
	if meta, ok := asMap(doc["metadata"]); ok {
		data.Metadata = meta
	}
	return data
}

func normalizeTask(item any) domain.Task {
	t, _ := asMap(item)
	task := domain.Task{
		ID:             t["id"].(string),
		Name:           t["name"].(string),
		Description:    stringOr(t["description"]),
		StartDate:      mustDate(t["startDate"]),
		EndDate:        mustDate(t["endDate"]),
		EstimatedHours: mustNumber(t["estimatedHours"]),
		ActualHours:    numberOr(t["actualHours"], 0),
		Status:         domain.TaskStatus(t["status"].(string)),
		Progress:       mustNumber(t["progress"]),
		Assignee:       stringOr(t["assignee"]),
		Type:           domain.TaskTypeTask,
	}
	if s, ok := t["type"].(string); ok {
		task.Type = domain.TaskType(s)
	}
	deps := t["dependencies"].([]any)
	task.Dependencies = make([]string, 0, len(deps))
	for _, dep := range deps {
		task.Dependencies = append(task.Dependencies, dep.(string))
	}
	return task
}

// ToDocument renders canonical data back into the untyped document shape.
func ToDocument(data domain.ProjectData) (map[string]any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func mustDate(v any) string {
	s, ok := dateValue(v)
	if !ok {
		panic(fmt.Sprintf("document: invalid date %v reached Normalize", v))
	}
	return s
}

func mustNumber(v any) float64 {
	f, ok := number(v)
	if !ok {
		panic(fmt.Sprintf("document: invalid number %v reached Normalize", v))
	}
	return f
}

func numberOr(v any, def float64) float64 {
	if f, ok := number(v); ok {
		return f
	}
	return def
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}
