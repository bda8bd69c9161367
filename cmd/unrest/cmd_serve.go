package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/unrest/internal/api"
	"github.com/talgya/unrest/internal/engine"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation in real time behind the HTTP API",
		Long: `Run the simulation at api.interval per tick (scaled by the speed
multiplier) and serve its state over HTTP until interrupted. The API stays
up after the model reaches its iteration bound.

Examples:
  unrest serve --port 8080
  UNREST_ADMIN_KEY=secret unrest serve --config city.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port, _ = cmd.Flags().GetInt("port")
			}
			if cfg.API.AdminKey == "" {
				slog.Warn("UNREST_ADMIN_KEY not set, admin POST endpoints will be disabled")
			}

			s, err := openSession(cfg, "serve")
			if err != nil {
				return err
			}

			eng := engine.NewEngine(s.Model)
			eng.Interval = cfg.API.Interval
			eng.ReportEvery = cfg.Logging.ReportEvery
			eng.OnReport = engine.LogReport
			eng.SetSpeed(cfg.API.Speed)

			srv := &api.Server{
				Model:    s.Model,
				Eng:      eng,
				DB:       s.DB,
				Port:     cfg.API.Port,
				AdminKey: cfg.API.AdminKey,
			}
			if s.Recorder != nil {
				srv.RunID = s.Recorder.ID
			}
			srv.Start()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			done := make(chan error, 1)
			go func() { done <- eng.Run(ctx) }()

			var runErr error
			select {
			case runErr = <-done:
				if runErr == nil {
					slog.Info("model finished, still serving", "tick", s.Model.Tick())
					<-ctx.Done()
				}
			case <-ctx.Done():
				runErr = <-done
			}

			slog.Info("shutting down", "tick", s.Model.Tick())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP shutdown failed", "error", err)
			}

			if errors.Is(runErr, context.Canceled) {
				runErr = nil
			}
			if err := s.finish(runErr); err != nil {
				slog.Error("closing outputs failed", "error", err)
			}
			if runErr != nil {
				return fmt.Errorf("simulation failed at tick %d: %w", s.Model.Tick(), runErr)
			}
			printSummary(cmd.OutOrStdout(), s.Model)
			return nil
		},
	}

	cmd.Flags().Int("port", 8080, "HTTP port")

	return cmd
}
