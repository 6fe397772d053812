package repo

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/config"
	"inspectline/internal/domain"
)

func newMockRepo(t *testing.T) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Repo{DB: sqlx.NewDb(conn, "sqlmock")}, mock
}

func TestDecideCaseTxZeroRowsIsConflict(t *testing.T) {
	r, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cases SET status=?, approved_by=?, approved_at=?, declined_by=NULL`)).
		WithArgs("approved", "dir-1", "2026-01-02T00:00:00Z", "2026-01-02T00:00:00Z", "c1", "submitted").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := r.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	err = r.DecideCaseTx(ctx, tx, "c1", domain.CaseApproved, "dir-1", "2026-01-02T00:00:00Z", "")
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideCaseTxDeclineWritesRationale(t *testing.T) {
	r, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cases SET status=?, declined_by=?, declined_at=?, decline_comment=?, approved_by=NULL, approved_at=NULL`)).
		WithArgs("declined", "dir-1", "t1", "duplicate", "t1", "c1", "submitted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := r.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.DecideCaseTx(ctx, tx, "c1", domain.CaseDeclined, "dir-1", "t1", "duplicate"))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRequiresStaff(t *testing.T) {
	r, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE mission_orders SET status=\?, reviewed_by=\?.* AND EXISTS \(SELECT 1 FROM mission_order_assignments`).
		WithArgs("for inspection", "dir-1", "t1", nil, "t1", "mo-1", "issued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := r.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	err = r.TransitionMissionOrderTx(ctx, tx, MissionOrderTransition{
		ID: "mo-1", From: domain.MissionOrderIssued, To: domain.MissionOrderForInspection,
		ActorID: "dir-1", At: "t1", RequireStaff: true,
	})
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockMissionOrderTxGuardsStatus(t *testing.T) {
	r, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE mission_orders SET updated_at=? WHERE id=? AND status IN (?,?)`)).
		WithArgs("t1", "mo-1", "draft", "issued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := r.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.LockMissionOrderTx(ctx, tx, "mo-1", "t1"), ErrConflict)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAssignmentTxZeroRows(t *testing.T) {
	r, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM mission_order_assignments WHERE mission_order_id=? AND inspector_id=?`)).
		WithArgs("mo-1", "insp-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := r.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.DeleteAssignmentTx(ctx, tx, "mo-1", "insp-9"), ErrNotFound)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfigInsertsWhenMissing(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE settings SET config_json=?`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "workflow").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO settings(id,config_json,updated_at)`)).
		WithArgs("workflow", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, r.UpsertConfig(context.Background(), config.Default("qc")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCaseNotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT id,business_id`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.GetCase(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashAPIKeyTrims(t *testing.T) {
	assert.Equal(t, HashAPIKey("abc"), HashAPIKey("  abc\n"))
	assert.Len(t, HashAPIKey("abc"), 64)
}
