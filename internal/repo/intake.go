package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/domain"
)

const intakeColumns = `id, business_id, business_name, business_address, reporter_lat, reporter_lng, classification,
distance_meters, status, case_id, created_at`

func scanIntake(row rowScanner) (domain.IntakeSession, error) {
	var (
		s                  domain.IntakeSession
		businessID, caseID sql.NullString
		lat, lng, distance sql.NullFloat64
		status             string
	)
	err := row.Scan(&s.ID, &businessID, &s.BusinessName, &s.BusinessAddress, &lat, &lng, &s.Classification,
		&distance, &status, &caseID, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IntakeSession{}, ErrNotFound
	}
	if err != nil {
		return domain.IntakeSession{}, err
	}
	s.Status = domain.IntakeStatus(status)
	s.BusinessID = stringPtr(businessID)
	s.CaseID = stringPtr(caseID)
	s.ReporterLat = floatPtr(lat)
	s.ReporterLng = floatPtr(lng)
	s.DistanceMeters = floatPtr(distance)
	return s, nil
}

func (r Repo) InsertIntakeSessionTx(ctx context.Context, tx *sqlx.Tx, s domain.IntakeSession) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO intake_sessions(id, business_id, business_name, business_address, reporter_lat,
reporter_lng, classification, distance_meters, status, created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		s.ID, nullableStringPtr(s.BusinessID), s.BusinessName, s.BusinessAddress, nullableFloatPtr(s.ReporterLat),
		nullableFloatPtr(s.ReporterLng), s.Classification, nullableFloatPtr(s.DistanceMeters), string(s.Status), s.CreatedAt)
	return err
}

func (r Repo) GetIntakeSession(ctx context.Context, id string) (domain.IntakeSession, error) {
	return scanIntake(r.DB.QueryRowxContext(ctx, r.DB.Rebind(`SELECT `+intakeColumns+` FROM intake_sessions WHERE id=?`), id))
}

func (r Repo) GetIntakeSessionTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.IntakeSession, error) {
	return scanIntake(tx.QueryRowxContext(ctx, tx.Rebind(`SELECT `+intakeColumns+` FROM intake_sessions WHERE id=?`), id))
}

// LockOpenIntakeTx takes the session row lock while it is still open.
func (r Repo) LockOpenIntakeTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	return guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE intake_sessions SET status=status WHERE id=? AND status=?`), id, string(domain.IntakeOpen)))
}

func (r Repo) CloseIntakeTx(ctx context.Context, tx *sqlx.Tx, id, caseID string) error {
	return guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE intake_sessions SET status=?, case_id=? WHERE id=? AND status=?`),
		string(domain.IntakeSubmitted), caseID, id, string(domain.IntakeOpen)))
}

const evidenceQuery = `SELECT session_id, seq, uri, source, created_at FROM intake_evidence WHERE session_id=? ORDER BY seq`

func (r Repo) ListEvidence(ctx context.Context, sessionID string) ([]domain.EvidenceItem, error) {
	res := []domain.EvidenceItem{}
	if err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(evidenceQuery), sessionID); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) ListEvidenceTx(ctx context.Context, tx *sqlx.Tx, sessionID string) ([]domain.EvidenceItem, error) {
	res := []domain.EvidenceItem{}
	if err := tx.SelectContext(ctx, &res, tx.Rebind(evidenceQuery), sessionID); err != nil {
		return nil, err
	}
	return res, nil
}

// AppendEvidenceTx assigns the next sequence number and stores the item.
// Callers hold the session lock from LockOpenIntakeTx.
func (r Repo) AppendEvidenceTx(ctx context.Context, tx *sqlx.Tx, item domain.EvidenceItem) (domain.EvidenceItem, error) {
	if err := tx.GetContext(ctx, &item.Seq, tx.Rebind(`SELECT COALESCE(MAX(seq),0)+1 FROM intake_evidence WHERE session_id=?`), item.SessionID); err != nil {
		return domain.EvidenceItem{}, err
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO intake_evidence(session_id, seq, uri, source, created_at) VALUES (?,?,?,?,?)`),
		item.SessionID, item.Seq, item.URI, item.Source, item.CreatedAt)
	if err != nil {
		return domain.EvidenceItem{}, err
	}
	return item, nil
}

// EvidenceURIInUse reports whether any session references uri.
func (r Repo) EvidenceURIInUse(ctx context.Context, uri string) (bool, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, r.DB.Rebind(`SELECT COUNT(*) FROM intake_evidence WHERE uri=?`), uri)
	return n > 0, err
}
