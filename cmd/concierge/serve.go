package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/concierge"
	"github.com/hupe1980/concierge/channel"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/logging"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway with a console channel until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, os.Stderr)

			app, err := concierge.New(func(o *concierge.Options) {
				o.Config = cfg
				o.Logger = logger
			})
			if err != nil {
				return err
			}

			console := channel.NewConsoleAdapter(cmd.InOrStdin(), cmd.OutOrStdout())
			if err := app.Attach(console); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return err
			}
			logger.Info("serving", "storage", cfg.Storage.Path, "provider", cfg.Model.Provider)

			<-ctx.Done()
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return app.Shutdown(shutdownCtx)
		},
	}
}
