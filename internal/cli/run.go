package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thoscut/tiffpress/internal/aeon"
	"github.com/thoscut/tiffpress/internal/batch"
	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/lock"
	"github.com/thoscut/tiffpress/internal/output"
	"github.com/thoscut/tiffpress/internal/processor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Convert every transaction waiting in Aeon",
	Long: "Fetch the transactions in the configured source status, convert each one " +
		"and route it to the destination status.",
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().Bool("watch", false, "Keep running and poll Aeon at the configured interval")
	runCmd.Flags().Bool("json", false, "Output the run summary as JSON")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	outputs, err := output.NewManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create outputs: %w", err)
	}
	runner, err := newRunner(cfg, loadProfiles(), proc, outputs)
	if err != nil {
		return err
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		err := runner.Watch(ctx, cfg.Aeon.PollInterval.Duration())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		printSummary(cmd, summary)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d transaction(s) failed", summary.Failed)
	}
	return nil
}

// newRunner builds the batch runner. It fails when the Aeon settings are
// incomplete.
func newRunner(cfg *config.Config, profiles *config.ProfileStore, proc *processor.Pipeline, outputs *output.Manager) (*batch.Runner, error) {
	if err := cfg.ValidateBatch(); err != nil {
		return nil, err
	}
	client, err := aeon.New(aeon.Config{
		BaseURL:           cfg.Aeon.BaseURL,
		APIKey:            cfg.Aeon.APIKey,
		RequestsPerSecond: cfg.Aeon.RequestsPerSecond,
		Timeout:           cfg.Aeon.Timeout.Duration(),
	})
	if err != nil {
		return nil, err
	}
	locks, err := lock.New(cfg.Processing.InProcessingDir)
	if err != nil {
		return nil, err
	}
	_, profile, err := lookupProfile(profiles, "")
	if err != nil {
		return nil, err
	}

	return batch.NewRunner(batch.Options{
		RootDir:           cfg.Source.RootDir,
		SourceStatus:      cfg.Aeon.SourceStatus,
		DestinationStatus: cfg.Aeon.DestinationStatus,
		MaxConcurrent:     cfg.Processing.MaxConcurrentJobs,
		Profile:           profile,
	}, client, locks, proc, outputs), nil
}

func printSummary(cmd *cobra.Command, s *batch.Summary) {
	w := cmd.OutOrStdout()
	for _, item := range s.Items {
		switch item.Outcome {
		case batch.OutcomeProcessed:
			fmt.Fprintf(w, "%s %d  %d pages  %s\n", color.GreenString("✓"), item.Transaction, item.Pages, item.Path)
		case batch.OutcomeSkipped:
			fmt.Fprintf(w, "%s %d  already processing\n", color.YellowString("-"), item.Transaction)
		case batch.OutcomeFailed:
			fmt.Fprintf(w, "%s %d  %s\n", color.RedString("✗"), item.Transaction, item.Error)
		}
	}
	fmt.Fprintf(w, "\nProcessed: %d  Skipped: %d  Failed: %d  (%s)\n",
		s.Processed, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}

