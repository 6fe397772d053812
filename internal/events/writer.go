package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types appended by the engine.
const (
	CaseSubmitted           = "case.submitted"
	CaseApproved            = "case.approved"
	CaseDeclined            = "case.declined"
	MissionOrderCreated     = "mission_order.created"
	MissionOrderSubmitted   = "mission_order.submitted"
	MissionOrderApproved    = "mission_order.approved"
	MissionOrderCancelled   = "mission_order.cancelled"
	MissionOrderBodyUpdated = "mission_order.body_updated"
	AssignmentAdded         = "assignment.added"
	AssignmentRemoved       = "assignment.removed"
	IntakeStarted           = "intake.started"
	IntakeEvidenceAdded     = "intake.evidence_added"
	ActorRegistered         = "actor.registered"
	APIKeyCreated           = "api_key.created"
	APIKeyRevoked           = "api_key.revoked"
	ConfigUpdated           = "config.updated"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event row inside tx so it commits or rolls back with the
// change it describes.
func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, entityKind, entityID, actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}
