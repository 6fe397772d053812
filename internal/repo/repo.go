package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/config"
	"inspectline/internal/domain"
)

// Repo wraps hand-written SQL. Statements use ? placeholders and are rebound
// for the connection's dialect. Methods ending in Tx run inside a caller's
// transaction; the others use the pool.
type Repo struct {
	DB *sqlx.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a guarded UPDATE matched no row: the row is gone or
	// its status moved since it was read.
	ErrConflict = errors.New("guarded update matched no rows")
)

const settingsID = "workflow"

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// guarded turns a zero-row result into ErrConflict.
func guarded(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertConfigTx(ctx, tx, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertConfigTx stores the workflow config. Update-then-insert keeps the
// statement portable across the supported dialects.
func (r Repo) UpsertConfigTx(ctx context.Context, tx *sqlx.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	err = guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE settings SET config_json=?, updated_at=? WHERE id=?`), string(payload), now, settingsID))
	if !errors.Is(err, ErrConflict) {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO settings(id,config_json,updated_at) VALUES (?,?,?)`), settingsID, string(payload), now)
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.GetContext(ctx, &payload, r.DB.Rebind(`SELECT config_json FROM settings WHERE id=?`), settingsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Before pages backwards from an event id.
	Before int64
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT %d`,
		strings.Join(clauses, " AND "), limit)
	return r.queryEvents(ctx, r.DB.Rebind(query), args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT %d`, limit)
	return r.queryEvents(ctx, r.DB.Rebind(query), cursor)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.GetContext(ctx, &id, `SELECT COALESCE(MAX(id),0) FROM events`); err != nil {
		return 0, err
	}
	return id, nil
}
