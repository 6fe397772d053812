package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/domain"
)

const caseColumns = `id,business_id,business_name,business_address,reporter_email,description,evidence_urls,tags,
reporter_lat,reporter_lng,status,approved_by,approved_at,declined_by,declined_at,decline_comment,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var (
		c                                  domain.Case
		businessID                         sql.NullString
		evidence, tags, status             string
		lat, lng                           sql.NullFloat64
		approvedBy, approvedAt             sql.NullString
		declinedBy, declinedAt, declineMsg sql.NullString
	)
	err := row.Scan(&c.ID, &businessID, &c.BusinessName, &c.BusinessAddress, &c.ReporterEmail, &c.Description,
		&evidence, &tags, &lat, &lng, &status, &approvedBy, &approvedAt, &declinedBy, &declinedAt, &declineMsg,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Case{}, ErrNotFound
	}
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status, err = domain.ParseCaseStatus(status); err != nil {
		return domain.Case{}, err
	}
	if c.EvidenceURLs, err = unmarshalStrings(evidence); err != nil {
		return domain.Case{}, fmt.Errorf("case %s evidence_urls: %w", c.ID, err)
	}
	if c.Tags, err = unmarshalStrings(tags); err != nil {
		return domain.Case{}, fmt.Errorf("case %s tags: %w", c.ID, err)
	}
	c.BusinessID = stringPtr(businessID)
	c.ReporterLat = floatPtr(lat)
	c.ReporterLng = floatPtr(lng)
	c.ApprovedBy = stringPtr(approvedBy)
	c.ApprovedAt = stringPtr(approvedAt)
	c.DeclinedBy = stringPtr(declinedBy)
	c.DeclinedAt = stringPtr(declinedAt)
	c.DeclineComment = stringPtr(declineMsg)
	return c, nil
}

func (r Repo) InsertCaseTx(ctx context.Context, tx *sqlx.Tx, c domain.Case) error {
	evidence, err := marshalStrings(c.EvidenceURLs)
	if err != nil {
		return err
	}
	tags, err := marshalStrings(c.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO cases(id,business_id,business_name,business_address,reporter_email,description,
evidence_urls,tags,reporter_lat,reporter_lng,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		c.ID, nullableStringPtr(c.BusinessID), c.BusinessName, c.BusinessAddress, c.ReporterEmail, c.Description,
		evidence, tags, nullableFloatPtr(c.ReporterLat), nullableFloatPtr(c.ReporterLng), string(c.Status), c.CreatedAt, c.UpdatedAt)
	return err
}

func getCase(ctx context.Context, q sqlx.QueryerContext, query, id string) (domain.Case, error) {
	return scanCase(q.QueryRowxContext(ctx, query, id))
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return getCase(ctx, r.DB, r.DB.Rebind(`SELECT `+caseColumns+` FROM cases WHERE id=?`), id)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Case, error) {
	return getCase(ctx, tx, tx.Rebind(`SELECT `+caseColumns+` FROM cases WHERE id=?`), id)
}

type CaseFilter struct {
	Status *domain.CaseStatus
	Limit  int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilter) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != nil {
		clauses = append(clauses, "status=?")
		args = append(args, string(*f.Status))
	}
	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryxContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// DecideCaseTx moves a Submitted case to decision in one guarded UPDATE. The
// chosen audit branch is written and the other cleared. Returns ErrConflict
// when the case is no longer Submitted.
func (r Repo) DecideCaseTx(ctx context.Context, tx *sqlx.Tx, id string, decision domain.CaseStatus, actorID, at, comment string) error {
	var query string
	var args []any
	switch decision {
	case domain.CaseApproved:
		query = `UPDATE cases SET status=?, approved_by=?, approved_at=?, declined_by=NULL, declined_at=NULL, decline_comment=NULL, updated_at=?
WHERE id=? AND status=?`
		args = []any{string(decision), actorID, at, at, id, string(domain.CaseSubmitted)}
	case domain.CaseDeclined:
		query = `UPDATE cases SET status=?, declined_by=?, declined_at=?, decline_comment=?, approved_by=NULL, approved_at=NULL, updated_at=?
WHERE id=? AND status=?`
		args = []any{string(decision), actorID, at, comment, at, id, string(domain.CaseSubmitted)}
	default:
		return fmt.Errorf("unsupported decision %q", decision)
	}
	return guarded(tx.ExecContext(ctx, tx.Rebind(query), args...))
}

// LockApprovedCaseTx takes the case row's write lock and confirms it is
// still Approved; mission order creation for a case is serialized on it.
func (r Repo) LockApprovedCaseTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	return guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE cases SET status=status WHERE id=? AND status=?`), id, string(domain.CaseApproved)))
}
