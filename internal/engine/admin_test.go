package engine_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/config"
	"inspectline/internal/document"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/repo"
)

var admin = domain.Actor{ID: "a1", Role: domain.RoleAdmin}

func TestRegisterActorValidates(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.RegisterActor(env.Ctx, director, domain.ActorProfile{ID: "x", Role: domain.RoleInspector})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, auth.PermActorManage, fe.Permission)

	_, err = env.Engine.RegisterActor(env.Ctx, admin, domain.ActorProfile{ID: "x", Role: "mayor"})
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)

	_, err = env.Engine.RegisterActor(env.Ctx, admin, domain.ActorProfile{ID: "x", Role: domain.RoleInspector, Email: "not-an-email"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)

	p, err := env.Engine.RegisterActor(env.Ctx, admin, domain.ActorProfile{ID: " i3 ", Role: domain.RoleInspector})
	require.NoError(t, err)
	assert.Equal(t, "i3", p.ID)
	assert.Equal(t, "i3", p.DisplayName)

	inspectors, err := env.Engine.ListActors(env.Ctx, admin, domain.RoleInspector)
	require.NoError(t, err)
	assert.Len(t, inspectors, 3)

	evts, err := env.Engine.ListEvents(env.Ctx, admin, repo.EventFilter{Type: events.ActorRegistered})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "i3", evts[0].EntityID)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.Engine.CreateAPIKey(env.Ctx, admin, "ghost", "")
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "actor_id", verr.Field)

	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, admin, "d1", "reports")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "il_"))
	assert.Equal(t, repo.HashAPIKey(secret), key.KeyHash)

	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	assert.Equal(t, key.ID, stored.ID)
	assert.Equal(t, "d1", stored.ActorID)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, admin, "d1")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, admin, key.ID))
	_, err = env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, admin, key.ID), repo.ErrNotFound)
}

func TestImportConfigSwapsRBAC(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.ImportConfig(env.Ctx, director, config.Default("office-1"))
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	bad := config.Default("")
	_, err = env.Engine.ImportConfig(env.Ctx, admin, bad)
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "config", verr.Field)

	next := config.Default("office-1")
	role := next.RBAC.Roles["director"]
	role.Permissions = append(role.Permissions, auth.PermActorRead, auth.PermActorManage)
	next.RBAC.Roles["director"] = role
	updated, err := env.Engine.ImportConfig(env.Ctx, admin, next)
	require.NoError(t, err)
	assert.True(t, updated.Auth.Can(director, auth.PermActorManage))
	assert.False(t, env.Engine.Auth.Can(director, auth.PermActorManage))

	stored, err := env.Engine.Repo.GetConfig(env.Ctx)
	require.NoError(t, err)
	assert.True(t, stored.HasPermission("director", auth.PermActorManage))
}

func TestRenameInspectorResyncsEditableOrders(t *testing.T) {
	env := newTestEnv(t)
	draft := env.staffedDraft(t, "i1")
	live := env.staffedDraft(t, "i1")
	_, err := env.Engine.Submit(env.Ctx, live.ID, head)
	require.NoError(t, err)
	_, err = env.Engine.Approve(env.Ctx, live.ID, director)
	require.NoError(t, err)

	_, err = env.Engine.RegisterActor(env.Ctx, admin, domain.ActorProfile{ID: "i1", Role: domain.RoleInspector, DisplayName: "Ana Santos"})
	require.NoError(t, err)

	got, err := env.Engine.GetMissionOrder(env.Ctx, draft.ID, head)
	require.NoError(t, err)
	assert.Contains(t, document.Plain(got.Body), "Ana Santos")
	assert.NotContains(t, document.Plain(got.Body), "Ana Reyes")

	// orders out for inspection are frozen
	got, err = env.Engine.GetMissionOrder(env.Ctx, live.ID, head)
	require.NoError(t, err)
	assert.Contains(t, document.Plain(got.Body), "Ana Reyes")
}
