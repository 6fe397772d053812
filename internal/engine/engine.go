package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"inspectline/internal/config"
	"inspectline/internal/directory"
	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
	"inspectline/internal/storage"
)

type Engine struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config

	Directory directory.Directory
	Proximity directory.ProximityChecker
	Store     storage.ObjectStore
	Bus       notify.Bus
	Notifier  notify.Notifier
	Log       *zap.SugaredLogger

	Now func() time.Time
}

// New wires an engine over db with local collaborators: the SQL business
// directory, in-process proximity checks, an in-memory change bus and no
// e-mail. Callers replace them before use as needed. Store stays nil until
// configured; evidence uploads fail with ErrUpstreamUnavailable without one.
func New(db *sqlx.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	dir := directory.SQL{Repo: r}
	return Engine{
		DB:        db,
		Repo:      r,
		Auth:      auth.Service{Config: cfg},
		Config:    cfg,
		Directory: dir,
		Proximity: directory.LocalProximity{Dir: dir},
		Bus:       notify.NewMemoryBus(),
		Notifier:  notify.Nop{},
		Log:       zap.NewNop().Sugar(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.NewNop().Sugar()
	}
	return e.Log
}

func (e Engine) appendEvent(ctx context.Context, tx *sqlx.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// publish tells live views an entity changed. The change is committed by
// then, so a bus failure is only logged.
func (e Engine) publish(ctx context.Context, entityKind, entityID, evtType string) {
	if e.Bus == nil {
		return
	}
	err := e.Bus.Publish(ctx, notify.Change{EntityKind: entityKind, EntityID: entityID, Type: evtType, TS: e.now().UTC()})
	if err != nil {
		e.log().Warnw("publish change failed", "entity_kind", entityKind, "entity_id", entityID, "type", evtType, "error", err)
	}
}

func (e Engine) notify(ctx context.Context, evt notify.Event) {
	if e.Notifier == nil || len(evt.To) == 0 {
		return
	}
	if err := e.Notifier.Notify(ctx, evt); err != nil {
		e.log().Warnw("notification failed", "type", evt.Type, "entity_id", evt.EntityID, "error", err)
	}
}

func (e Engine) requireConfig() error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	return nil
}

func (e Engine) require(actor domain.Actor, perm string) error {
	if err := e.requireConfig(); err != nil {
		return err
	}
	return e.Auth.Require(actor, perm)
}

// GetActor resolves an actor profile.
func (e Engine) GetActor(ctx context.Context, id string) (domain.ActorProfile, error) {
	return e.Repo.GetActor(ctx, id)
}
