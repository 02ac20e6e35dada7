package document

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"time"

	"timeline/internal/domain"
)

// ValidationError reports the first schema violation found in a document.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return "Validation error: " + e.Message
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Validate checks an untyped document (as produced by yaml.Unmarshal into any)
// against the project schema. Checks run in a fixed order and stop at the first
// failure, so the returned error always names a single cause.
func Validate(raw any) error {
	doc, ok := asMap(raw)
	if !ok {
		return invalid("", "document must be a mapping with a \"project\" section")
	}
	project, ok := asMap(doc["project"])
	if !ok {
		return invalid("project", `Missing required "project" section`)
	}
	if err := validateProject(project); err != nil {
		return err
	}
	tasks, ok := doc["tasks"].([]any)
	if !ok {
		return invalid("tasks", `Missing or invalid "tasks" array`)
	}
	ids := make(map[string]struct{}, len(tasks))
	for i, item := range tasks {
		if err := validateTask(i, item, ids); err != nil {
			return err
		}
	}
	// Dependencies may point forward in the list, so they are resolved only
	// after every id has been collected.
	for i, item := range tasks {
		task, _ := asMap(item)
		id, _ := task["id"].(string)
		for _, dep := range task["dependencies"].([]any) {
			depID, isString := dep.(string)
			if _, known := ids[depID]; !isString || !known {
				return invalid(fmt.Sprintf("tasks[%d].dependencies", i),
					"Task %q has invalid dependency %s - task not found", id, show(dep))
			}
		}
	}
	if alloc, present := doc["monthlyAllocation"]; present && alloc != nil {
		if err := validateAllocation(alloc); err != nil {
			return err
		}
	}
	return nil
}

func validateProject(p map[string]any) error {
	for _, field := range []string{"id", "name", "description"} {
		if s, ok := p[field].(string); !ok || s == "" {
			return invalid("project."+field, "Missing or invalid project.%s", field)
		}
	}
	if s, _ := p["status"].(string); !domain.ProjectStatus(s).Valid() {
		return invalid("project.status",
			"Invalid project.status: %s. Must be one of: draft, planning, in_progress, on_hold, completed, cancelled", show(p["status"]))
	}
	if _, ok := dateValue(p["startDate"]); !ok {
		return invalid("project.startDate", "Invalid project.startDate: %s. Must be YYYY-MM-DD format", show(p["startDate"]))
	}
	if end := p["endDate"]; !isEmpty(end) {
		if _, ok := dateValue(end); !ok {
			return invalid("project.endDate", "Invalid project.endDate: %s. Must be YYYY-MM-DD format or null", show(end))
		}
	}
	if !nonNegative(p["estimatedHours"]) {
		return invalid("project.estimatedHours", "project.estimatedHours must be a non-negative number")
	}
	if s, _ := p["priority"].(string); !domain.Priority(s).Valid() {
		return invalid("project.priority",
			"Invalid project.priority: %s. Must be one of: critical, high, medium, low", show(p["priority"]))
	}
	stakeholders, ok := p["stakeholders"].([]any)
	if !ok || len(stakeholders) == 0 {
		return invalid("project.stakeholders", "project.stakeholders must be a non-empty array")
	}
	for i, item := range stakeholders {
		sh, ok := asMap(item)
		name, nameOK := sh["name"].(string)
		role, roleOK := sh["role"].(string)
		if !ok || !nameOK || !roleOK || name == "" || role == "" {
			return invalid(fmt.Sprintf("project.stakeholders[%d]", i), "project.stakeholders[%d] must have a name and role", i)
		}
	}
	repo, ok := asMap(p["repository"])
	if url, isString := repo["url"].(string); !ok || !isString || url == "" {
		return invalid("project.repository.url", "Missing required project.repository.url")
	}
	// Optional fields are checked after the required ones.
	if v, present := p["actualHours"]; present && v != nil && !nonNegative(v) {
		return invalid("project.actualHours", "project.actualHours must be a non-negative number")
	}
	for _, field := range []string{"priorityReason", "color"} {
		if !optionalString(p[field]) {
			return invalid("project."+field, "project.%s must be a string", field)
		}
	}
	if !optionalString(repo["branch"]) {
		return invalid("project.repository.branch", "project.repository.branch must be a string")
	}
	return nil
}

func validateTask(i int, item any, seen map[string]struct{}) error {
	prefix := fmt.Sprintf("tasks[%d]", i)
	task, _ := asMap(item)
	id, ok := task["id"].(string)
	if !ok || id == "" {
		return invalid(prefix+".id", "%s: Missing or invalid id", prefix)
	}
	if _, dup := seen[id]; dup {
		return invalid(prefix+".id", "%s: Duplicate task id %q", prefix, id)
	}
	seen[id] = struct{}{}
	if name, ok := task["name"].(string); !ok || name == "" {
		return invalid(prefix+".name", "%s: Missing or invalid name", prefix)
	}
	if _, ok := dateValue(task["startDate"]); !ok {
		return invalid(prefix+".startDate", "%s: Invalid startDate %s", prefix, show(task["startDate"]))
	}
	if _, ok := dateValue(task["endDate"]); !ok {
		return invalid(prefix+".endDate", "%s: Invalid endDate %s", prefix, show(task["endDate"]))
	}
	if !nonNegative(task["estimatedHours"]) {
		return invalid(prefix+".estimatedHours", "%s: estimatedHours must be a non-negative number", prefix)
	}
	if s, _ := task["status"].(string); !domain.TaskStatus(s).Valid() {
		return invalid(prefix+".status", "%s: Invalid status %s", prefix, show(task["status"]))
	}
	if progress, ok := number(task["progress"]); !ok || progress < 0 || progress > 100 {
		return invalid(prefix+".progress", "%s: progress must be a number between 0 and 100", prefix)
	}
	if _, ok := task["dependencies"].([]any); !ok {
		return invalid(prefix+".dependencies", "%s: dependencies must be an array", prefix)
	}
	if v, present := task["actualHours"]; present && v != nil && !nonNegative(v) {
		return invalid(prefix+".actualHours", "%s: actualHours must be a non-negative number", prefix)
	}
	if t, present := task["type"]; present && t != nil {
		if s, _ := t.(string); !domain.TaskType(s).Valid() {
			return invalid(prefix+".type", "%s: Invalid type %s. Must be one of: task, milestone", prefix, show(t))
		}
	}
	for _, field := range []string{"description", "assignee"} {
		if !optionalString(task[field]) {
			return invalid(prefix+"."+field, "%s: %s must be a string", prefix, field)
		}
	}
	return nil
}

func validateAllocation(raw any) error {
	alloc, ok := asMap(raw)
	if !ok {
		return invalid("monthlyAllocation", "monthlyAllocation must be a mapping of YYYY-MM to hours")
	}
	for _, month := range slices.Sorted(maps.Keys(alloc)) {
		hours := alloc[month]
		if !monthPattern.MatchString(month) {
			return invalid("monthlyAllocation", "Invalid monthlyAllocation month %q. Must be YYYY-MM format", month)
		}
		if !nonNegative(hours) {
			return invalid("monthlyAllocation."+month, "monthlyAllocation.%s must be a non-negative number", month)
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNegative(v any) bool {
	f, ok := number(v)
	return ok && f >= 0
}

// dateValue accepts a YYYY-MM-DD string. Decoders that turn bare dates into
// time.Time are tolerated as long as the value is a whole UTC day.
func dateValue(v any) (string, bool) {
	switch d := v.(type) {
	case string:
		if _, err := domain.ParseDate(d); err != nil {
			return "", false
		}
		return d, true
	case time.Time:
		if !d.Equal(domain.Today(d)) {
			return "", false
		}
		return domain.FormatDate(d), true
	default:
		return "", false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func optionalString(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(string)
	return ok
}

func show(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprint(val)
	}
}
