package server

import (
	"encoding/json"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Title   string `json:"title" minLength:"1"`
	OwnerID string `json:"owner_id,omitempty" doc:"Defaults to the authenticated actor"`
}

type CreateRequirementRequest struct {
	RoleID     string   `json:"role_id" minLength:"1"`
	Seniority  string   `json:"seniority" enum:"junior,intermediate,senior,expert"`
	Languages  []string `json:"languages,omitempty"`
	Expertises []string `json:"expertises,omitempty"`
}

type ClaimRequest struct {
	WorkerID string `json:"worker_id" minLength:"1"`
}

type DeclineRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RegisterWorkerRequest struct {
	ID           string   `json:"id,omitempty"`
	RoleID       string   `json:"role_id" minLength:"1"`
	DisplayName  string   `json:"display_name,omitempty"`
	Seniority    string   `json:"seniority" enum:"junior,intermediate,senior,expert"`
	Languages    []string `json:"languages,omitempty"`
	Expertises   []string `json:"expertises,omitempty"`
	Availability string   `json:"availability,omitempty" enum:"available,unavailable"`
}

type UpdateWorkerRequest struct {
	DisplayName  *string   `json:"display_name,omitempty"`
	Seniority    *string   `json:"seniority,omitempty" enum:"junior,intermediate,senior,expert"`
	Languages    *[]string `json:"languages,omitempty"`
	Expertises   *[]string `json:"expertises,omitempty"`
	Availability *string   `json:"availability,omitempty" enum:"available,unavailable"`
}

type SweepRequest struct {
	Now string `json:"now,omitempty" format:"date-time" doc:"Evaluate deadlines at this instant instead of the server clock"`
}

// Response payloads

type ProjectResponse = domain.Project

type RequirementResponse = domain.Requirement

type WorkerResponse = domain.Worker

type OpenProjectResponse struct {
	Project      domain.Project       `json:"project"`
	Requirements []domain.Requirement `json:"requirements"`
}

type ClaimResponse struct {
	Status      string             `json:"status" enum:"accepted,already_claimed,not_eligible"`
	Requirement domain.Requirement `json:"requirement"`
}

type MissionStatusResponse struct {
	RequirementID string `json:"requirement_id"`
	WorkerID      string `json:"worker_id"`
	Status        string `json:"status" enum:"open,held,taken,closed"`
}

type SweepResponse struct {
	Expired int    `json:"expired"`
	At      string `json:"at" format:"date-time"`
}

type RoleResponse = config.Role

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	FromState  string         `json:"from_state,omitempty"`
	ToState    string         `json:"to_state,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// Conversion helpers

func claimResponse(res domain.ClaimResult) ClaimResponse {
	return ClaimResponse{Status: string(res.Outcome), Requirement: res.Requirement}
}

func missionsResponse(items []engine.Mission) listResponse[engine.Mission] {
	if items == nil {
		items = []engine.Mission{}
	}
	return listResponse[engine.Mission]{Items: items}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		WorkerID:   e.WorkerID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		FromState:  e.FromState,
		ToState:    e.ToState,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
