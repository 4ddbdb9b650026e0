package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thoscut/tiffpress/internal/api"
	"github.com/thoscut/tiffpress/internal/batch"
	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/output"
	"github.com/thoscut/tiffpress/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("watch", false, "Also run the Aeon batch job at the configured poll interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting tiffpress server", "version", version.Version)

	profiles := loadProfiles()
	proc, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	outputs, err := output.NewManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create outputs: %w", err)
	}

	var runner *batch.Runner
	if cfg.Aeon.BaseURL != "" {
		if runner, err = newRunner(cfg, profiles, proc, outputs); err != nil {
			return err
		}
	} else {
		slog.Info("aeon not configured, batch endpoints disabled")
	}

	srv := api.NewServer(cfg, jobs.NewQueue(), profiles, proc, outputs, runner)

	if watch, _ := cmd.Flags().GetBool("watch"); watch && runner != nil {
		go runner.Watch(ctx, cfg.Aeon.PollInterval.Duration())
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	return srv.Start()
}
