package server

import (
	"encoding/json"

	"timeline/internal/domain"
	"timeline/internal/store"
)

// Request payloads

type ImportRequest struct {
	Document string `json:"document" minLength:"1" doc:"YAML or JSON project document"`
	Mode     string `json:"mode,omitempty" enum:"insert,merge" doc:"insert fails on an existing id; merge replaces or shadows it"`
}

type ValidateRequest struct {
	Document string `json:"document" minLength:"1"`
}

// Responses

type ProjectResponse struct {
	Project           domain.Project            `json:"project"`
	Tasks             []domain.Task             `json:"tasks"`
	MonthlyAllocation *domain.MonthlyAllocation `json:"monthlyAllocation,omitempty"`
	ReadOnly          bool                      `json:"readOnly"`
	Imported          bool                      `json:"imported"`
}

type ValidateResponse struct {
	Valid   bool                `json:"valid"`
	Error   string              `json:"error,omitempty"`
	Path    string              `json:"path,omitempty"`
	Project *domain.ProjectData `json:"project,omitempty"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

type paginatedProjects struct {
	Items []ProjectResponse `json:"items"`
	Total int               `json:"total"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(st *store.Store, data domain.ProjectData) ProjectResponse {
	resp := ProjectResponse{
		Project:  data.Project,
		Tasks:    nonNilSlice(data.Tasks),
		ReadOnly: st.IsReadOnly(data.Project.ID),
		Imported: st.IsImported(data.Project.ID),
	}
	if data.MonthlyAllocation != nil {
		resp.MonthlyAllocation = &data.MonthlyAllocation
	}
	return resp
}

func mapProjects(st *store.Store, items []domain.ProjectData) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(st, p))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		ProjectID: e.ProjectID,
		ActorID:   e.ActorID,
		Payload:   decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
