package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/domain"
)

const assignmentQuery = `SELECT a.mission_order_id, a.inspector_id, COALESCE(ac.display_name, a.inspector_id) AS display_name,
a.assigned_by, a.assigned_at
FROM mission_order_assignments a LEFT JOIN actors ac ON ac.id=a.inspector_id
WHERE a.mission_order_id=? ORDER BY a.assigned_at, a.inspector_id`

func (r Repo) ListAssignments(ctx context.Context, moID string) ([]domain.Assignment, error) {
	res := []domain.Assignment{}
	if err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(assignmentQuery), moID); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) ListAssignmentsTx(ctx context.Context, tx *sqlx.Tx, moID string) ([]domain.Assignment, error) {
	res := []domain.Assignment{}
	if err := tx.SelectContext(ctx, &res, tx.Rebind(assignmentQuery), moID); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) AssignmentExistsTx(ctx context.Context, tx *sqlx.Tx, moID, inspectorID string) (bool, error) {
	var n int
	err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM mission_order_assignments WHERE mission_order_id=? AND inspector_id=?`), moID, inspectorID)
	return n > 0, err
}

func (r Repo) CountAssignmentsTx(ctx context.Context, tx *sqlx.Tx, moID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM mission_order_assignments WHERE mission_order_id=?`), moID)
	return n, err
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sqlx.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO mission_order_assignments(mission_order_id, inspector_id, assigned_by, assigned_at) VALUES (?,?,?,?)`),
		a.MissionOrderID, a.InspectorID, a.AssignedBy, a.AssignedAt)
	return err
}

// DeleteAssignmentTx removes one link; ErrNotFound when nothing was deleted.
func (r Repo) DeleteAssignmentTx(ctx context.Context, tx *sqlx.Tx, moID, inspectorID string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mission_order_assignments WHERE mission_order_id=? AND inspector_id=?`), moID, inspectorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
