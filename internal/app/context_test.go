package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/migrate"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
	"inspectline/internal/storage"
)

func newRepo(t *testing.T) (repo.Repo, string) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}, dir
}

func TestResolveConfigSeedsDefaults(t *testing.T) {
	r, dir := newRepo(t)
	ctx := context.Background()

	cfg, err := ResolveConfig(ctx, dir, "city-hall", r)
	require.NoError(t, err)
	assert.Equal(t, "city-hall", cfg.Office.ID)

	stored, err := r.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "city-hall", stored.Office.ID)

	_, err = ResolveConfig(ctx, dir, "other-office", r)
	assert.Error(t, err)
	again, err := ResolveConfig(ctx, dir, "", r)
	require.NoError(t, err)
	assert.Equal(t, "city-hall", again.Office.ID)
}

func TestResolveConfigSeedsFromWorkspaceFile(t *testing.T) {
	r, dir := newRepo(t)
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("from-file")), 0o644))

	cfg, err := ResolveConfig(context.Background(), dir, "", r)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Office.ID)
}

func TestNewRuntimeWiresLocalCollaborators(t *testing.T) {
	r, dir := newRepo(t)
	cfg := config.Default("city-hall")

	rt, err := NewRuntime(context.Background(), r.DB, cfg, Options{Workspace: dir}, nil)
	require.NoError(t, err)
	defer rt.Close(context.Background())

	store, ok := rt.Engine.Store.(storage.Local)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "evidence"), store.Dir)
	assert.IsType(t, &notify.MemoryBus{}, rt.Engine.Bus)
	assert.IsType(t, notify.Nop{}, rt.Engine.Notifier)
}

func TestNewRuntimeRedisBus(t *testing.T) {
	r, dir := newRepo(t)
	cfg := config.Default("city-hall")
	cfg.Bus.Driver = "redis"

	_, err := NewRuntime(context.Background(), r.DB, cfg, Options{Workspace: dir}, nil)
	require.Error(t, err)

	rt, err := NewRuntime(context.Background(), r.DB, cfg, Options{Workspace: dir, RedisURL: "redis://127.0.0.1:6379/0"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.RedisBus{}, rt.Engine.Bus)
	assert.NoError(t, rt.Close(context.Background()))
}

func TestNewRuntimeRequiresCredentials(t *testing.T) {
	r, dir := newRepo(t)
	for name, mutate := range map[string]func(*config.Config){
		"cloudinary": func(c *config.Config) { c.Storage.Driver = "cloudinary" },
		"mongo":      func(c *config.Config) { c.Directory.Driver = "mongo" },
	} {
		cfg := config.Default("city-hall")
		mutate(cfg)
		_, err := NewRuntime(context.Background(), r.DB, cfg, Options{Workspace: dir}, nil)
		assert.Error(t, err, name)
	}
}

func TestNewRuntimeSendGrid(t *testing.T) {
	r, dir := newRepo(t)
	cfg := config.Default("city-hall")
	cfg.Notifications.Enabled = true
	cfg.Notifications.FromEmail = "noreply@example.test"

	rt, err := NewRuntime(context.Background(), r.DB, cfg, Options{Workspace: dir, SendGridAPIKey: "SG.test"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.SendGrid{}, rt.Engine.Notifier)

	rt, err = NewRuntime(context.Background(), r.DB, cfg, Options{Workspace: dir}, nil)
	require.NoError(t, err)
	assert.IsType(t, notify.Nop{}, rt.Engine.Notifier)
}
