package server

import (
	"encoding/json"

	"inspectline/internal/document"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/geofence"
)

// Request payloads

type DecideCaseRequest struct {
	Decision string `json:"decision" enum:"approved,declined"`
	Comment  string `json:"comment,omitempty" maxLength:"2000"`
}

type StartMissionOrderRequest struct {
	Title string `json:"title,omitempty" maxLength:"200"`
}

type UpdateBodyRequest struct {
	Title *string         `json:"title,omitempty" maxLength:"200"`
	Edits []document.Edit `json:"edits,omitempty"`
}

type RejectMissionOrderRequest struct {
	Comment string `json:"comment,omitempty" maxLength:"2000"`
}

type StartIntakeRequest struct {
	BusinessID      string   `json:"business_id,omitempty"`
	BusinessName    string   `json:"business_name,omitempty"`
	BusinessAddress string   `json:"business_address,omitempty"`
	ReporterLat     *float64 `json:"reporter_lat,omitempty" minimum:"-90" maximum:"90"`
	ReporterLng     *float64 `json:"reporter_lng,omitempty" minimum:"-180" maximum:"180"`
}

func (r StartIntakeRequest) options() engine.StartIntakeOptions {
	return engine.StartIntakeOptions{
		BusinessID:      r.BusinessID,
		BusinessName:    r.BusinessName,
		BusinessAddress: r.BusinessAddress,
		ReporterLat:     r.ReporterLat,
		ReporterLng:     r.ReporterLng,
	}
}

type SubmitIntakeRequest struct {
	ReporterEmail string `json:"reporter_email,omitempty"`
	Description   string `json:"description,omitempty"`
}

func (r SubmitIntakeRequest) options() engine.SubmitIntakeOptions {
	return engine.SubmitIntakeOptions{ReporterEmail: r.ReporterEmail, Description: r.Description}
}

type SubmitComplaintRequest struct {
	StartIntakeRequest
	SubmitIntakeRequest
}

// AddEvidenceRequest carries either the object itself (base64 in JSON) or
// the URI of an object the client already stored.
type AddEvidenceRequest struct {
	Source  string `json:"source" enum:"camera,upload"`
	Name    string `json:"name,omitempty"`
	Content []byte `json:"content,omitempty"`
	URI     string `json:"uri,omitempty"`
}

type RegisterActorRequest struct {
	ID          string `json:"id,omitempty"`
	Role        string `json:"role" enum:"director,head_inspector,inspector,reporter,admin"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

// MissionOrderResponse adds the editor's view of the body: its plain text and
// the rune ranges of the locked fields within it.
type MissionOrderResponse struct {
	domain.MissionOrder
	Text  string          `json:"text"`
	Spans []document.Span `json:"spans"`
}

func missionOrderResponse(mo domain.MissionOrder) MissionOrderResponse {
	if mo.Inspectors == nil {
		mo.Inspectors = []domain.Assignment{}
	}
	spans := document.Spans(mo.Body)
	if spans == nil {
		spans = []document.Span{}
	}
	return MissionOrderResponse{MissionOrder: mo, Text: document.Plain(mo.Body), Spans: spans}
}

func mapMissionOrders(items []domain.MissionOrder) []MissionOrderResponse {
	out := make([]MissionOrderResponse, 0, len(items))
	for _, mo := range items {
		out = append(out, missionOrderResponse(mo))
	}
	return out
}

type IntakeResponse struct {
	Session        domain.IntakeSession  `json:"session"`
	Evidence       []domain.EvidenceItem `json:"evidence"`
	AllowedSources []geofence.Source     `json:"allowed_sources"`
	Tag            string                `json:"tag"`
}

func intakeResponse(v engine.IntakeView) IntakeResponse {
	if v.Evidence == nil {
		v.Evidence = []domain.EvidenceItem{}
	}
	return IntakeResponse{
		Session:        v.Session,
		Evidence:       v.Evidence,
		AllowedSources: v.AllowedSources,
		Tag:            v.Tag,
	}
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	DisplayName string   `json:"display_name,omitempty"`
	Source      string   `json:"source"`
	Permissions []string `json:"permissions"`
}

type DashboardResponse struct {
	View          string                 `json:"view"`
	Status        string                 `json:"status,omitempty"`
	Cases         []domain.Case          `json:"cases,omitempty"`
	MissionOrders []MissionOrderResponse `json:"mission_orders,omitempty"`
	Events        []EventResponse        `json:"events,omitempty"`
}

type APIKeyResponse struct {
	Key domain.APIKey `json:"key"`
	// Secret is only returned when the key is created.
	Secret string `json:"secret,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
