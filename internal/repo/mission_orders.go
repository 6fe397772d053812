package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/document"
	"inspectline/internal/domain"
)

const missionOrderColumns = `mo.id,mo.case_id,mo.title,mo.body_json,mo.status,mo.director_comment,mo.created_by,mo.created_at,
mo.submitted_by,mo.submitted_at,mo.reviewed_by,mo.reviewed_at,mo.updated_at`

func scanMissionOrder(row rowScanner) (domain.MissionOrder, error) {
	var (
		mo                       domain.MissionOrder
		body, status             string
		comment                  sql.NullString
		submittedBy, submittedAt sql.NullString
		reviewedBy, reviewedAt   sql.NullString
	)
	err := row.Scan(&mo.ID, &mo.CaseID, &mo.Title, &body, &status, &comment, &mo.CreatedBy, &mo.CreatedAt,
		&submittedBy, &submittedAt, &reviewedBy, &reviewedAt, &mo.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MissionOrder{}, ErrNotFound
	}
	if err != nil {
		return domain.MissionOrder{}, err
	}
	if mo.Status, err = domain.ParseMissionOrderStatus(status); err != nil {
		return domain.MissionOrder{}, err
	}
	if mo.Body, err = document.Unmarshal(body); err != nil {
		return domain.MissionOrder{}, fmt.Errorf("mission order %s body: %w", mo.ID, err)
	}
	mo.DirectorComment = stringPtr(comment)
	mo.SubmittedBy = stringPtr(submittedBy)
	mo.SubmittedAt = stringPtr(submittedAt)
	mo.ReviewedBy = stringPtr(reviewedBy)
	mo.ReviewedAt = stringPtr(reviewedAt)
	return mo, nil
}

func (r Repo) InsertMissionOrderTx(ctx context.Context, tx *sqlx.Tx, mo domain.MissionOrder) error {
	body, err := document.Marshal(mo.Body)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO mission_orders(id,case_id,title,body_json,status,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`),
		mo.ID, mo.CaseID, mo.Title, body, string(mo.Status), mo.CreatedBy, mo.CreatedAt, mo.UpdatedAt)
	return err
}

func (r Repo) GetMissionOrder(ctx context.Context, id string) (domain.MissionOrder, error) {
	return scanMissionOrder(r.DB.QueryRowxContext(ctx, r.DB.Rebind(`SELECT `+missionOrderColumns+` FROM mission_orders mo WHERE mo.id=?`), id))
}

func (r Repo) GetMissionOrderTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.MissionOrder, error) {
	return scanMissionOrder(tx.QueryRowxContext(ctx, tx.Rebind(`SELECT `+missionOrderColumns+` FROM mission_orders mo WHERE mo.id=?`), id))
}

// ActiveMissionOrderForCaseTx returns the case's non-cancelled order, if any.
func (r Repo) ActiveMissionOrderForCaseTx(ctx context.Context, tx *sqlx.Tx, caseID string) (domain.MissionOrder, error) {
	return scanMissionOrder(tx.QueryRowxContext(ctx, tx.Rebind(`SELECT `+missionOrderColumns+` FROM mission_orders mo
WHERE mo.case_id=? AND mo.status<>? ORDER BY mo.created_at DESC, mo.id DESC LIMIT 1`), caseID, string(domain.MissionOrderCancelled)))
}

type MissionOrderFilter struct {
	CaseID string
	Status *domain.MissionOrderStatus
	// InspectorID keeps only orders the inspector is assigned to.
	InspectorID string
	Limit       int
}

func (r Repo) ListMissionOrders(ctx context.Context, f MissionOrderFilter) ([]domain.MissionOrder, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "mo.case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Status != nil {
		clauses = append(clauses, "mo.status=?")
		args = append(args, string(*f.Status))
	}
	if f.InspectorID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM mission_order_assignments a WHERE a.mission_order_id=mo.id AND a.inspector_id=?)")
		args = append(args, f.InspectorID)
	}
	query := `SELECT ` + missionOrderColumns + ` FROM mission_orders mo WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY mo.updated_at DESC, mo.id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryxContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MissionOrder
	for rows.Next() {
		mo, err := scanMissionOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, mo)
	}
	return res, rows.Err()
}

// LockMissionOrderTx takes the order's row lock while it is still editable.
// Every staffing and body change starts with it, so changes to one order are
// serialized and none can land after the order leaves Draft/Issued.
func (r Repo) LockMissionOrderTx(ctx context.Context, tx *sqlx.Tx, id, at string) error {
	return guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE mission_orders SET updated_at=? WHERE id=? AND status IN (?,?)`),
		at, id, string(domain.MissionOrderDraft), string(domain.MissionOrderIssued)))
}

// MissionOrderTransition is a guarded status change.
type MissionOrderTransition struct {
	ID      string
	From    domain.MissionOrderStatus
	To      domain.MissionOrderStatus
	ActorID string
	At      string
	Comment string
	// RequireStaff adds the assignment-exists guard to the UPDATE.
	RequireStaff bool
}

func (r Repo) TransitionMissionOrderTx(ctx context.Context, tx *sqlx.Tx, t MissionOrderTransition) error {
	var query string
	var args []any
	if t.To == domain.MissionOrderIssued {
		query = `UPDATE mission_orders SET status=?, submitted_by=?, submitted_at=?, updated_at=? WHERE id=? AND status=?`
		args = []any{string(t.To), t.ActorID, t.At, t.At, t.ID, string(t.From)}
	} else {
		query = `UPDATE mission_orders SET status=?, reviewed_by=?, reviewed_at=?, director_comment=?, updated_at=? WHERE id=? AND status=?`
		args = []any{string(t.To), t.ActorID, t.At, nullable(t.Comment), t.At, t.ID, string(t.From)}
	}
	if t.RequireStaff {
		query += ` AND EXISTS (SELECT 1 FROM mission_order_assignments a WHERE a.mission_order_id=mission_orders.id)`
	}
	return guarded(tx.ExecContext(ctx, tx.Rebind(query), args...))
}

func (r Repo) UpdateMissionOrderBodyTx(ctx context.Context, tx *sqlx.Tx, id, title string, body document.Document, at string) error {
	raw, err := document.Marshal(body)
	if err != nil {
		return err
	}
	return guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE mission_orders SET title=?, body_json=?, updated_at=? WHERE id=? AND status IN (?,?)`),
		title, raw, at, id, string(domain.MissionOrderDraft), string(domain.MissionOrderIssued)))
}
