package engine

import (
	"context"
	"errors"

	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/repo"
)

func (e Engine) requireInspector(ctx context.Context, inspectorID string) (domain.ActorProfile, error) {
	if inspectorID == "" {
		return domain.ActorProfile{}, invalid("inspector_id", "inspector_id is required", nil)
	}
	p, err := e.Repo.GetActor(ctx, inspectorID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, invalid("inspector_id", "unknown inspector", nil)
	}
	if err != nil {
		return p, err
	}
	if p.Role != domain.RoleInspector {
		return p, invalid("inspector_id", "actor "+inspectorID+" is not an inspector", nil)
	}
	return p, nil
}

// Assign links an inspector to an editable order. Assigning twice is a no-op.
func (e Engine) Assign(ctx context.Context, moID, inspectorID string, actor domain.Actor) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermAssignmentEdit); err != nil {
		return domain.MissionOrder{}, err
	}
	inspector, err := e.requireInspector(ctx, inspectorID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	defer tx.Rollback()

	if err := e.lockMissionOrder(ctx, tx, moID, at); err != nil {
		return domain.MissionOrder{}, err
	}
	exists, err := e.Repo.AssignmentExistsTx(ctx, tx, moID, inspectorID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	changed := !exists
	if changed {
		if err := e.Repo.InsertAssignmentTx(ctx, tx, domain.Assignment{
			MissionOrderID: moID,
			InspectorID:    inspectorID,
			AssignedBy:     actor.ID,
			AssignedAt:     at,
		}); err != nil {
			return domain.MissionOrder{}, err
		}
		if err := e.resyncTx(ctx, tx, moID, at); err != nil {
			return domain.MissionOrder{}, err
		}
		if err := e.appendEvent(ctx, tx, events.AssignmentAdded, "mission_order", moID, actor.ID, events.EventPayload{
			"inspector_id": inspectorID,
			"display_name": inspector.DisplayName,
		}); err != nil {
			return domain.MissionOrder{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.MissionOrder{}, err
	}
	if changed {
		e.publish(ctx, "mission_order", moID, events.AssignmentAdded)
	}
	mo, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	return e.withInspectors(ctx, mo)
}

// Unassign removes an inspector from an editable order.
func (e Engine) Unassign(ctx context.Context, moID, inspectorID string, actor domain.Actor) (domain.MissionOrder, error) {
	if err := e.require(actor, auth.PermAssignmentEdit); err != nil {
		return domain.MissionOrder{}, err
	}
	at := e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	defer tx.Rollback()

	if err := e.lockMissionOrder(ctx, tx, moID, at); err != nil {
		return domain.MissionOrder{}, err
	}
	if err := e.Repo.DeleteAssignmentTx(ctx, tx, moID, inspectorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.MissionOrder{}, ErrAssignmentNotFound
		}
		return domain.MissionOrder{}, err
	}
	if err := e.resyncTx(ctx, tx, moID, at); err != nil {
		return domain.MissionOrder{}, err
	}
	if err := e.appendEvent(ctx, tx, events.AssignmentRemoved, "mission_order", moID, actor.ID, events.EventPayload{
		"inspector_id": inspectorID,
	}); err != nil {
		return domain.MissionOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MissionOrder{}, err
	}
	e.publish(ctx, "mission_order", moID, events.AssignmentRemoved)
	mo, err := e.Repo.GetMissionOrder(ctx, moID)
	if err != nil {
		return domain.MissionOrder{}, err
	}
	return e.withInspectors(ctx, mo)
}

// ListAssigned returns the order's current inspectors.
func (e Engine) ListAssigned(ctx context.Context, moID string, actor domain.Actor) ([]domain.Assignment, error) {
	mo, err := e.GetMissionOrder(ctx, moID, actor)
	if err != nil {
		return nil, err
	}
	return mo.Inspectors, nil
}

// InspectorDashboard lists the orders an inspector should act on: assigned
// to them and approved for inspection. Inspectors may only open their own.
func (e Engine) InspectorDashboard(ctx context.Context, inspectorID string, actor domain.Actor) ([]domain.MissionOrder, error) {
	if err := e.requireConfig(); err != nil {
		return nil, err
	}
	if actor.ID != inspectorID || !e.Auth.Can(actor, auth.PermMissionOrderReadAssigned) {
		if err := e.Auth.Require(actor, auth.PermMissionOrderRead); err != nil {
			return nil, err
		}
	}
	status := domain.MissionOrderForInspection
	list, err := e.Repo.ListMissionOrders(ctx, repo.MissionOrderFilter{InspectorID: inspectorID, Status: &status})
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i], err = e.withInspectors(ctx, list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ListInspectors returns actors that can be assigned.
func (e Engine) ListInspectors(ctx context.Context, actor domain.Actor) ([]domain.ActorProfile, error) {
	if err := e.require(actor, auth.PermActorRead); err != nil {
		return nil, err
	}
	return e.Repo.ListActors(ctx, domain.RoleInspector)
}
