package server

import (
	"encoding/json"

	"gigline/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Role        string `json:"role" enum:"client,freelancer"`
	DisplayName string `json:"display_name,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Deadline    string  `json:"deadline" format:"date-time"`
	Budget      int64   `json:"budget"`
}

type EditTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
	Budget      *int64  `json:"budget,omitempty"`
}

type ApplyRequest struct {
	ID             *string `json:"id,omitempty"`
	Message        *string `json:"message,omitempty"`
	ProposedBudget *int64  `json:"proposed_budget,omitempty"`
}

type SubmitWorkRequest struct {
	Deliverable map[string]any `json:"deliverable"`
}

type RequestRevisionRequest struct {
	Note *string `json:"note,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type PrincipalResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role" enum:"client,freelancer"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID                   string         `json:"id"`
	OwnerID              string         `json:"owner_id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	Deadline             string         `json:"deadline" format:"date-time"`
	Budget               int64          `json:"budget"`
	Status               string         `json:"status" enum:"draft,open,assigned,in_progress,submitted,completed,cancelled"`
	AssignedFreelancerID *string        `json:"assigned_freelancer_id,omitempty"`
	Deliverable          map[string]any `json:"deliverable,omitempty"`
	Version              int64          `json:"version"`
	CreatedAt            string         `json:"created_at" format:"date-time"`
	UpdatedAt            string         `json:"updated_at" format:"date-time"`
}

type ApplicationResponse struct {
	ID             string `json:"id"`
	TaskID         string `json:"task_id"`
	FreelancerID   string `json:"freelancer_id"`
	Message        string `json:"message,omitempty"`
	ProposedBudget *int64 `json:"proposed_budget,omitempty"`
	Status         string `json:"status" enum:"pending,accepted,rejected,withdrawn"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	// Key is only returned once, on creation.
	Key string `json:"key,omitempty"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedApplications struct {
	Items      []ApplicationResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func principalResponse(p domain.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:          p.ID,
		Role:        string(p.Role),
		DisplayName: p.DisplayName,
		CreatedAt:   p.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                   t.ID,
		OwnerID:              t.OwnerID,
		Title:                t.Title,
		Description:          t.Description,
		Deadline:             t.Deadline,
		Budget:               t.Budget,
		Status:               string(t.Status),
		AssignedFreelancerID: t.AssignedFreelancerID,
		Deliverable:          decodeJSONMap(t.DeliverableJSON),
		Version:              t.Version,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func applicationResponse(a domain.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:             a.ID,
		TaskID:         a.TaskID,
		FreelancerID:   a.FreelancerID,
		Message:        a.Message,
		ProposedBudget: a.ProposedBudget,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		PrincipalID: k.PrincipalID,
		Name:        k.Name,
		CreatedAt:   k.CreatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapApplications(items []domain.Application) []ApplicationResponse {
	res := make([]ApplicationResponse, 0, len(items))
	for _, a := range items {
		res = append(res, applicationResponse(a))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func strPtr(in string) *string {
	return &in
}
