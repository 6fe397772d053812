package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/repo"
	"inspectline/internal/server"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and import the workflow config",
		Long:  "The workflow config (office, geofence threshold, mission order template, notifications, drivers, RBAC, webhooks) is stored in the database. It is seeded from inspectline.yml on first use and replaced with 'il config import'.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configUseOfficeCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var officeID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default inspectline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(officeID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&officeID, "office-id", "default-office", "office id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate the stored config, or a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if len(args) == 1 {
				_, err = config.FromFile(args[0])
			} else {
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.Config.Validate()
				})
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored config with a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				updated, err := e.ImportConfig(ctx, actor, cfg)
				if err != nil {
					return err
				}
				fmt.Printf("imported config for office %s\n", updated.Config.Office.ID)
				return nil
			})
		},
	}
}

func configUseOfficeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-office <office-id>",
		Short: "Pin the workspace to an office id (.env INSPECTLINE_OFFICE)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setEnvValue(viper.GetString("workspace"), "INSPECTLINE_OFFICE", args[0]); err != nil {
				return err
			}
			fmt.Println("office set to", args[0])
			return nil
		},
	}
}

func actorCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
		Long:  "Actors are the people and services that act on cases: directors, head inspectors, inspectors, reporters and admins.",
	}
	c.AddCommand(actorBootstrapCmd())
	c.AddCommand(actorAddCmd())
	c.AddCommand(actorListCmd())
	return c
}

func actorBootstrapCmd() *cobra.Command {
	var p domain.ActorProfile
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Register the first admin of an empty workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				existing, err := e.Repo.ListActors(ctx, "")
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					return errors.New("workspace already has actors; use 'il actor add'")
				}
				p.Role = domain.RoleAdmin
				out, err := e.RegisterActor(ctx, domain.Actor{ID: "bootstrap", Role: domain.RoleAdmin}, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "admin actor id")
	cmd.Flags().StringVar(&p.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&p.Email, "email", "", "e-mail")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actorAddCmd() *cobra.Command {
	var p domain.ActorProfile
	var role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Role = domain.Role(role)
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				out, err := e.RegisterActor(ctx, actor, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "director, head_inspector, inspector, reporter or admin")
	cmd.Flags().StringVar(&p.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&p.Email, "email", "", "e-mail")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r domain.Role
			if role != "" {
				parsed, err := domain.ParseRole(role)
				if err != nil {
					return err
				}
				r = parsed
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListActors(ctx, actor, r)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Role, p.DisplayName, p.Email})
				}
				return printTable(items, table.Row{"ID", "Role", "Name", "E-mail"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only this role")
	return cmd
}

func businessCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "business",
		Short: "Business directory",
	}
	c.AddCommand(businessAddCmd())
	c.AddCommand(businessSearchCmd())
	return c
}

func businessAddCmd() *cobra.Command {
	var b domain.Business
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a business to the sql directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(b.Name) == "" {
				return errors.New("--name required")
			}
			if b.ID == "" {
				b.ID = uuid.NewString()
			}
			if cmd.Flags().Changed("lat") != cmd.Flags().Changed("lng") {
				return errors.New("--lat and --lng go together")
			}
			if cmd.Flags().Changed("lat") {
				b.Lat, b.Lng = &lat, &lng
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertBusiness(ctx, b); err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&b.ID, "id", "", "business id (generated when empty)")
	cmd.Flags().StringVar(&b.Name, "name", "", "business name")
	cmd.Flags().StringVar(&b.Address, "address", "", "business address")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	return cmd
}

func businessSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the configured directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.SearchBusinesses(ctx, actor, args[0], limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, b := range items {
					loc := ""
					if b.Lat != nil && b.Lng != nil {
						loc = fmt.Sprintf("%.5f, %.5f", *b.Lat, *b.Lng)
					}
					rows = append(rows, table.Row{b.ID, b.Name, b.Address, loc})
				}
				return printTable(items, table.Row{"ID", "Name", "Address", "Location"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "api-key",
		Short: "Manage API keys for service actors",
	}
	var name string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Issue a key; the secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"key": key, "secret": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	c.AddCommand(create)
	c.AddCommand(&cobra.Command{
		Use:   "list [actor-id]",
		Short: "List keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var actorID string
			if len(args) == 1 {
				actorID = args[0]
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListAPIKeys(ctx, actor, actorID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Actor", "Name", "Created"}, rows)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if err := e.RevokeAPIKey(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return c
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Mint a bearer token for a registered actor (needs INSPECTLINE_JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("INSPECTLINE_JWT_SECRET is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				tok, err := server.SignToken(secret, p.ID, p.Role, ttl)
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every state change, assignment, evidence upload and admin action, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, evt := range items {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				return printTable(items, table.Row{"ID", "TS", "Type", "Entity", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
