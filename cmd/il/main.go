package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"inspectline/internal/app"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/logging"
	"inspectline/internal/migrate"
	"inspectline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "il",
	Short: "Inspectline CLI",
	Long: `Inspectline runs the business-complaint workflow of a permits office.
Core concepts:
- Intake: a reporter files a complaint about a business; the reporter's location is checked against the business once, when the intake starts.
- Case: the filed complaint. A director approves or declines it (declines need a comment).
- Mission order: the inspection order drafted for an approved case. Draft -> Issued -> For Inspection, or Cancelled by the director with a comment.
- Assignments: the inspectors on a mission order. Their names, the business name and address are locked fields of the order body.
- Event log: every change, view with 'il log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv(viper.GetString("workspace"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("INSPECTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "registered actor the command runs as")
	flags.String("office", "", "office id (must match the stored config)")
	flags.String("db-driver", db.DriverSQLite, "database driver: sqlite, postgres or mysql")
	flags.String("db-dsn", "", "database DSN for postgres and mysql")
	flags.String("redis-url", "", "redis URL for the change bus")
	flags.String("mongo-uri", "", "mongodb URI for the business directory")
	flags.String("cloudinary-url", "", "cloudinary URL for evidence storage")
	flags.String("sendgrid-api-key", "", "sendgrid API key for e-mail notifications")
	flags.String("log-env", "production", "logger preset: dev or production")
	for _, name := range []string{
		"workspace", "json", "actor-id", "office", "db-driver", "db-dsn",
		"redis-url", "mongo-uri", "cloudinary-url", "sendgrid-api-key", "log-env",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(businessCmd())
	rootCmd.AddCommand(complaintCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(missionOrderCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadDotEnv reads <workspace>/.env without overriding variables that are
// already set.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setEnvValue sets key in <workspace>/.env, keeping the other entries.
func setEnvValue(workspace, key, value string) error {
	path := filepath.Join(workspace, ".env")
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Println("database up to date")
				return nil
			})
		},
	}
}

// --- helpers ---

func newLogger() *zap.SugaredLogger {
	return logging.New(viper.GetString("log-env"))
}

func dbConfig() db.Config {
	return db.Config{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
	}
}

func runtimeOptions() app.Options {
	return app.Options{
		Workspace:      viper.GetString("workspace"),
		OfficeID:       viper.GetString("office"),
		RedisURL:       viper.GetString("redis-url"),
		MongoURI:       viper.GetString("mongo-uri"),
		CloudinaryURL:  viper.GetString("cloudinary-url"),
		SendGridAPIKey: viper.GetString("sendgrid-api-key"),
	}
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(dbConfig())
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withRuntime(ctx context.Context, log *zap.SugaredLogger, fn func(context.Context, *app.Runtime) error) error {
	conn, err := db.Open(dbConfig())
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	opts := runtimeOptions()
	cfg, err := app.ResolveConfig(ctx, opts.Workspace, opts.OfficeID, repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	rt, err := app.NewRuntime(ctx, conn, cfg, opts, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Warnw("close runtime", "error", err)
		}
	}()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log := newLogger()
	defer log.Sync()
	return withRuntime(ctx, log, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

// currentActor resolves --actor-id to a registered actor.
func currentActor(ctx context.Context, e engine.Engine) (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return domain.Actor{}, errors.New("--actor-id (or INSPECTLINE_ACTOR_ID) is required")
	}
	p, err := e.GetActor(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, fmt.Errorf("actor %s is not registered (see 'il actor bootstrap')", id)
		}
		return domain.Actor{}, err
	}
	return p.Actor(), nil
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor, err := currentActor(ctx, e)
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows with go-pretty unless --json is set, in which case
// raw is printed instead.
func printTable(raw any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
