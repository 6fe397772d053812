package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"inspectline/internal/config"
	"inspectline/internal/directory"
	"inspectline/internal/engine"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
	"inspectline/internal/storage"
)

// Options are the process-level settings that pick concrete collaborators.
// Secrets and connection strings live here, never in the stored workflow config.
type Options struct {
	Workspace      string
	OfficeID       string
	RedisURL       string
	MongoURI       string
	CloudinaryURL  string
	SendGridAPIKey string
}

// ResolveConfig returns the stored workflow config. When none is stored yet
// it seeds one from inspectline.yml in the workspace, or from defaults.
func ResolveConfig(ctx context.Context, workspace, officeID string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		if officeID != "" && cfg.Office.ID != officeID {
			return nil, fmt.Errorf("workspace belongs to office %q, not %q", cfg.Office.ID, officeID)
		}
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		if officeID == "" {
			officeID = "default-office"
		}
		seed = config.Default(officeID)
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}

// Runtime is an engine plus the collaborators that need closing.
type Runtime struct {
	Engine  engine.Engine
	closers []func(context.Context) error
}

func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// NewRuntime wires an engine from the workflow config and process options.
func NewRuntime(ctx context.Context, conn *sqlx.DB, cfg *config.Config, opts Options, log *zap.SugaredLogger) (*Runtime, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	rt := &Runtime{Engine: engine.New(conn, cfg)}
	rt.Engine.Log = log
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close(ctx)
		return nil, err
	}

	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "local":
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = filepath.Join(opts.Workspace, ".inspectline", "evidence")
		} else if !filepath.IsAbs(dir) {
			dir = filepath.Join(opts.Workspace, dir)
		}
		rt.Engine.Store = storage.Local{Dir: dir}
	case "cloudinary":
		if opts.CloudinaryURL == "" {
			return fail(errors.New("storage driver cloudinary needs --cloudinary-url"))
		}
		store, err := storage.NewCloudinary(opts.CloudinaryURL, cfg.Storage.Folder)
		if err != nil {
			return fail(fmt.Errorf("cloudinary: %w", err))
		}
		rt.Engine.Store = store
	default:
		return fail(fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver))
	}

	switch strings.ToLower(cfg.Directory.Driver) {
	case "", "sql":
	case "mongo":
		if opts.MongoURI == "" {
			return fail(errors.New("directory driver mongo needs --mongo-uri"))
		}
		dir, err := directory.NewMongo(ctx, opts.MongoURI, cfg.Directory.Database, cfg.Directory.Collection)
		if err != nil {
			return fail(fmt.Errorf("mongo: %w", err))
		}
		rt.closers = append(rt.closers, dir.Close)
		rt.Engine.Directory = dir
		rt.Engine.Proximity = directory.LocalProximity{Dir: dir}
	default:
		return fail(fmt.Errorf("unsupported directory driver %q", cfg.Directory.Driver))
	}

	switch strings.ToLower(cfg.Bus.Driver) {
	case "", "memory":
	case "redis":
		if opts.RedisURL == "" {
			return fail(errors.New("bus driver redis needs --redis-url"))
		}
		bus, err := notify.NewRedisBus(opts.RedisURL, cfg.Bus.Channel, log)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })
		rt.Engine.Bus = bus
	default:
		return fail(fmt.Errorf("unsupported bus driver %q", cfg.Bus.Driver))
	}

	if cfg.Notifications.Enabled {
		if opts.SendGridAPIKey == "" {
			log.Warnw("notifications enabled without a sendgrid api key; e-mail disabled")
		} else {
			rt.Engine.Notifier = notify.NewSendGrid(opts.SendGridAPIKey, cfg.Notifications.FromName, cfg.Notifications.FromEmail, log)
		}
	}
	return rt, nil
}
