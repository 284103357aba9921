package cli

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-sentinel/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scanning service",
		Long: `Serve POST /predict (multipart "file", optional "purpose"), GET /health and,
when the audit database is enabled, GET /history.`,
		Example: `  piisentinel serve --listen :8080
  SENTINEL_ANALYZER__ENABLED=true piisentinel serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					slog.Warn("cli: close audit store", "err", err)
				}
			}()

			opts := api.Options{
				Scanner:        app.Scanner,
				Authorizer:     app.Authorizer,
				Quota:          app.Quota,
				MaxUploadBytes: app.Config.MaxUploadBytes,
				RequestTimeout: app.Config.RequestTimeout,
			}
			if app.Audit != nil {
				opts.History = app.Audit
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("cli: starting scanner service",
				"addr", app.Config.ListenAddr,
				"output_dir", app.Config.OutputDir,
				"auth", app.Config.Auth.URL != "",
				"audit", app.Audit != nil,
			)
			return api.Serve(ctx, app.Config.ListenAddr, api.New(opts).Routes())
		},
	}

	cmd.Flags().String("listen", "", "listen address (default :8080)")
	cmd.Flags().String("out", "", "directory for redacted files")
	cmd.Flags().String("auth-url", "", "account service URL (empty disables authentication)")
	cmd.Flags().Bool("analyzer", false, "enable the entity analyzer sidecar")
	cmd.Flags().Int("workers", 0, "goroutines per column during redaction")
	return cmd
}
