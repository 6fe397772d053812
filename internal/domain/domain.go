package domain

import (
	"inspectline/internal/document"
)

type Role string

const (
	RoleDirector      Role = "director"
	RoleHeadInspector Role = "head_inspector"
	RoleInspector     Role = "inspector"
	RoleReporter      Role = "reporter"
	RoleAdmin         Role = "admin"
)

// Actor is the identity an operation runs as.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type ActorProfile struct {
	ID          string `json:"id" db:"id"`
	Role        Role   `json:"role" db:"role" enum:"director,head_inspector,inspector,reporter,admin"`
	DisplayName string `json:"display_name" db:"display_name"`
	Email       string `json:"email,omitempty" db:"email"`
	CreatedAt   string `json:"created_at" db:"created_at" format:"date-time"`
}

func (p ActorProfile) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role}
}

type Business struct {
	ID      string   `json:"id" bson:"_id"`
	Name    string   `json:"name" bson:"name"`
	Address string   `json:"address" bson:"address"`
	Lat     *float64 `json:"lat,omitempty" bson:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty" bson:"lng,omitempty"`
}

type Case struct {
	ID              string     `json:"id"`
	BusinessID      *string    `json:"business_id,omitempty"`
	BusinessName    string     `json:"business_name"`
	BusinessAddress string     `json:"business_address"`
	ReporterEmail   string     `json:"reporter_email,omitempty"`
	Description     string     `json:"description,omitempty"`
	EvidenceURLs    []string   `json:"evidence_urls"`
	Tags            []string   `json:"tags"`
	ReporterLat     *float64   `json:"reporter_lat,omitempty"`
	ReporterLng     *float64   `json:"reporter_lng,omitempty"`
	Status          CaseStatus `json:"status" enum:"submitted,approved,declined"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ApprovedAt      *string    `json:"approved_at,omitempty" format:"date-time"`
	DeclinedBy      *string    `json:"declined_by,omitempty"`
	DeclinedAt      *string    `json:"declined_at,omitempty" format:"date-time"`
	DeclineComment  *string    `json:"decline_comment,omitempty"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
}

type MissionOrder struct {
	ID              string             `json:"id"`
	CaseID          string             `json:"case_id"`
	Title           string             `json:"title"`
	Body            document.Document  `json:"body"`
	Status          MissionOrderStatus `json:"status" enum:"draft,issued,for inspection,cancelled"`
	DirectorComment *string            `json:"director_comment,omitempty"`
	CreatedBy       string             `json:"created_by"`
	CreatedAt       string             `json:"created_at" format:"date-time"`
	SubmittedBy     *string            `json:"submitted_by,omitempty"`
	SubmittedAt     *string            `json:"submitted_at,omitempty" format:"date-time"`
	ReviewedBy      *string            `json:"reviewed_by,omitempty"`
	ReviewedAt      *string            `json:"reviewed_at,omitempty" format:"date-time"`
	UpdatedAt       string             `json:"updated_at" format:"date-time"`
	Inspectors      []Assignment       `json:"inspectors,omitempty"`
}

type Assignment struct {
	MissionOrderID string `json:"mission_order_id" db:"mission_order_id"`
	InspectorID    string `json:"inspector_id" db:"inspector_id"`
	DisplayName    string `json:"display_name" db:"display_name"`
	AssignedBy     string `json:"assigned_by" db:"assigned_by"`
	AssignedAt     string `json:"assigned_at" db:"assigned_at" format:"date-time"`
}

type IntakeStatus string

const (
	IntakeOpen      IntakeStatus = "open"
	IntakeSubmitted IntakeStatus = "submitted"
)

type IntakeSession struct {
	ID              string       `json:"id"`
	BusinessID      *string      `json:"business_id,omitempty"`
	BusinessName    string       `json:"business_name"`
	BusinessAddress string       `json:"business_address"`
	ReporterLat     *float64     `json:"reporter_lat,omitempty"`
	ReporterLng     *float64     `json:"reporter_lng,omitempty"`
	Classification  string       `json:"classification" enum:"verified,failed,unavailable"`
	DistanceMeters  *float64     `json:"distance_meters,omitempty"`
	Status          IntakeStatus `json:"status" enum:"open,submitted"`
	CaseID          *string      `json:"case_id,omitempty"`
	CreatedAt       string       `json:"created_at" format:"date-time"`
}

type EvidenceItem struct {
	SessionID string `json:"session_id" db:"session_id"`
	Seq       int    `json:"seq" db:"seq"`
	URI       string `json:"uri" db:"uri"`
	Source    string `json:"source" db:"source" enum:"camera,upload"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	// Payload is a JSON object string.
	Payload string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	ActorID   string `json:"actor_id" db:"actor_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"-" db:"key_hash"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}
