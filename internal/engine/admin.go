package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/repo"
)

const apiKeyPrefix = "il_"

// RegisterActor creates or updates an actor profile.
func (e Engine) RegisterActor(ctx context.Context, actor domain.Actor, p domain.ActorProfile) (domain.ActorProfile, error) {
	if err := e.require(actor, auth.PermActorManage); err != nil {
		return domain.ActorProfile{}, err
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return domain.ActorProfile{}, invalid("id", "actor id is required", nil)
	}
	role, err := domain.ParseRole(string(p.Role))
	if err != nil {
		return domain.ActorProfile{}, invalid("role", err.Error(), nil)
	}
	p.Role = role
	if p.DisplayName = strings.TrimSpace(p.DisplayName); p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	if p.Email != "" {
		if err := validatorInstance().Var(p.Email, "email"); err != nil {
			return domain.ActorProfile{}, invalid("email", "invalid e-mail address", nil)
		}
	}
	staffed, err := e.renamedStaff(ctx, p)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	p.CreatedAt = e.timestamp()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	defer tx.Rollback()
	out, err := e.Repo.UpsertActorTx(ctx, tx, p)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	var resynced []string
	for _, moID := range staffed {
		if err := e.Repo.LockMissionOrderTx(ctx, tx, moID, p.CreatedAt); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				continue
			}
			return domain.ActorProfile{}, err
		}
		if err := e.resyncTx(ctx, tx, moID, p.CreatedAt); err != nil {
			return domain.ActorProfile{}, err
		}
		resynced = append(resynced, moID)
	}
	if err := e.appendEvent(ctx, tx, events.ActorRegistered, "actor", p.ID, actor.ID, events.EventPayload{
		"role": string(p.Role),
	}); err != nil {
		return domain.ActorProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActorProfile{}, err
	}
	for _, moID := range resynced {
		e.publish(ctx, "mission_order", moID, events.MissionOrderBodyUpdated)
	}
	return out, nil
}

// renamedStaff returns the editable orders whose inspectors field shows p
// under an outdated display name.
func (e Engine) renamedStaff(ctx context.Context, p domain.ActorProfile) ([]string, error) {
	prev, err := e.Repo.GetActor(ctx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.DisplayName == p.DisplayName {
		return nil, nil
	}
	var ids []string
	for _, st := range []domain.MissionOrderStatus{domain.MissionOrderDraft, domain.MissionOrderIssued} {
		list, err := e.Repo.ListMissionOrders(ctx, repo.MissionOrderFilter{InspectorID: p.ID, Status: &st})
		if err != nil {
			return nil, err
		}
		for _, mo := range list {
			ids = append(ids, mo.ID)
		}
	}
	return ids, nil
}

// ListActors lists actor profiles, optionally limited to one role.
func (e Engine) ListActors(ctx context.Context, actor domain.Actor, role domain.Role) ([]domain.ActorProfile, error) {
	if err := e.require(actor, auth.PermActorRead); err != nil {
		return nil, err
	}
	return e.Repo.ListActors(ctx, role)
}

// CreateAPIKey issues a key for a service actor. The plain key is returned
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, actorID, name string) (domain.APIKey, string, error) {
	if err := e.require(actor, auth.PermActorManage); err != nil {
		return domain.APIKey{}, "", err
	}
	if _, err := e.Repo.GetActor(ctx, actorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.APIKey{}, "", invalid("actor_id", "unknown actor", nil)
		}
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyCreated, "actor", actorID, actor.ID, events.EventPayload{
		"key_id": key.ID,
		"name":   key.Name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor domain.Actor, actorID string) ([]domain.APIKey, error) {
	if err := e.require(actor, auth.PermActorManage); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, actor domain.Actor, keyID string) error {
	if err := e.require(actor, auth.PermActorManage); err != nil {
		return err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, keyID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyRevoked, "api_key", keyID, actor.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEvents pages the audit log newest first.
func (e Engine) ListEvents(ctx context.Context, actor domain.Actor, f repo.EventFilter) ([]domain.Event, error) {
	if err := e.require(actor, auth.PermEventsRead); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}

// ImportConfig validates and stores a workflow config, returning an engine
// that uses it.
func (e Engine) ImportConfig(ctx context.Context, actor domain.Actor, cfg *config.Config) (Engine, error) {
	if err := e.require(actor, auth.PermConfigManage); err != nil {
		return e, err
	}
	if cfg == nil {
		return e, invalid("config", "config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return e, invalid("config", err.Error(), nil)
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return e, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfigTx(ctx, tx, cfg); err != nil {
		return e, err
	}
	if err := e.appendEvent(ctx, tx, events.ConfigUpdated, "config", cfg.Office.ID, actor.ID, nil); err != nil {
		return e, err
	}
	if err := tx.Commit(); err != nil {
		return e, err
	}
	e.Config = cfg
	e.Auth = auth.Service{Config: cfg}
	return e, nil
}
