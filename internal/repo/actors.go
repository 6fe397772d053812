package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"inspectline/internal/domain"
)

const actorColumns = `id, role, display_name, email, created_at`

// UpsertActor registers an actor or updates its role and profile.
func (r Repo) UpsertActor(ctx context.Context, p domain.ActorProfile) (domain.ActorProfile, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	defer tx.Rollback()
	out, err := r.UpsertActorTx(ctx, tx, p)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActorProfile{}, err
	}
	return out, nil
}

func (r Repo) UpsertActorTx(ctx context.Context, tx *sqlx.Tx, p domain.ActorProfile) (domain.ActorProfile, error) {
	err := guarded(tx.ExecContext(ctx, tx.Rebind(`UPDATE actors SET role=?, display_name=?, email=? WHERE id=?`),
		string(p.Role), p.DisplayName, p.Email, p.ID))
	if errors.Is(err, ErrConflict) {
		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO actors(id, role, display_name, email, created_at) VALUES (?,?,?,?,?)`),
			p.ID, string(p.Role), p.DisplayName, p.Email, p.CreatedAt)
	}
	if err != nil {
		return domain.ActorProfile{}, err
	}
	return r.GetActorTx(ctx, tx, p.ID)
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.ActorProfile, error) {
	var p domain.ActorProfile
	err := r.DB.GetContext(ctx, &p, r.DB.Rebind(`SELECT `+actorColumns+` FROM actors WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetActorTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.ActorProfile, error) {
	var p domain.ActorProfile
	err := tx.GetContext(ctx, &p, tx.Rebind(`SELECT `+actorColumns+` FROM actors WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// ListActors returns actors ordered by display name, optionally by role.
func (r Repo) ListActors(ctx context.Context, role domain.Role) ([]domain.ActorProfile, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY display_name, id`
	var res []domain.ActorProfile
	if err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return res, nil
}
