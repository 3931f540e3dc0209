package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"landscraper/pkg/checkpoint"
	"landscraper/pkg/config"
	errs "landscraper/pkg/errors"
	"landscraper/pkg/guard"
	"landscraper/pkg/logger"
	"landscraper/pkg/ui"
	"landscraper/pkg/watchdog"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show extraction progress and what the watchdog would do",
	Long: `Print the checkpoint summary, the run marker and the watchdog's decision.

Nothing is modified: corrupt checkpoints are reported, not backed up, and
stale markers are left in place.`,
	Args: cobra.NoArgs,
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintStatus(collectStatus(cmd.Context(), cfg, time.Now()))
}

func collectStatus(ctx context.Context, cfg *config.Config, now time.Time) ui.Status {
	if ctx == nil {
		ctx = context.Background()
	}

	state, err := checkpoint.ReadState(cfg.State.CheckpointFile)
	if err != nil {
		if !os.IsNotExist(err) {
			ui.PrintWarning("Checkpoint unreadable", err)
		}
		state = checkpoint.NewState()
	}

	status := ui.Status{
		CheckpointPath: cfg.State.CheckpointFile,
		Summary:        checkpoint.Summarize(state),
		MarkerPath:     cfg.State.LockFile,
		Now:            now,
	}

	status.Marker, status.MarkerErr = guard.ReadMarker(cfg.State.LockFile)
	if status.Marker != nil {
		status.OwnerAlive = watchdog.ProcessAlive(status.Marker.PID)
	} else if errors.Is(status.MarkerErr, errs.ErrNoMarker) {
		status.MarkerErr = nil
	}

	status.Decision = watchdog.New(cfg, watchdog.Options{}, logger.NewNopLogger()).Evaluate(ctx)
	return status
}
