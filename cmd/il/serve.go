package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/app"
	"inspectline/internal/notify"
	"inspectline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath, relaySchedule string
	var devLogin bool
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), DevLogin: devLogin}
			if authCfg.JWTSecret == "" {
				return errors.New("INSPECTLINE_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := newLogger()
			defer log.Sync()
			return withRuntime(ctx, log, func(ctx context.Context, rt *app.Runtime) error {
				relay := notify.NewWebhookRelay(rt.Engine.Repo, rt.Engine.Config, log)
				if err := relay.Start(relaySchedule); err != nil {
					return err
				}
				defer relay.Stop()

				handler, err := server.New(server.Config{
					Engine:         rt.Engine,
					BasePath:       basePath,
					Auth:           authCfg,
					Log:            log,
					AllowedOrigins: origins,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Infow("serving inspectline api",
					"addr", addr,
					"base_path", basePath,
					"office", rt.Engine.Config.Office.ID,
					"dev_login", devLogin,
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (development only)")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "CORS allowed origin (repeatable)")
	cmd.Flags().StringVar(&relaySchedule, "webhook-schedule", notify.DefaultRelaySchedule, "cron schedule of the webhook relay")
	return cmd
}
