package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"landscraper/pkg/checkpoint"
	"landscraper/pkg/config"
	"landscraper/pkg/extractor"
	"landscraper/pkg/guard"
	"landscraper/pkg/logger"
	"landscraper/pkg/metrics"
	"landscraper/pkg/models"
	"landscraper/pkg/ratelimit"
	"landscraper/pkg/remote"
	"landscraper/pkg/storage"
	"landscraper/pkg/ui"
	"landscraper/pkg/watchdog"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <region-id>",
	Short: "Download a single region",
	Long: `Download the full feature collection of one region without probing.

The download goes through the same transport, artifact writer and checkpoint
as a full run: a region that is already completed is skipped, and a successful
fetch marks it completed so later runs leave it alone.

fetch refuses to start while the run marker names a live orchestrator, whose
checkpoint saves would overwrite the region's record.`,
	Example: `  landscraper fetch 42
  landscraper fetch 42 --output ./regions`,
	Args: cobra.ExactArgs(1),
	Run:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for region artifacts")
	fetchCmd.Flags().StringVar(&stateFile, "state-file", "", "checkpoint file")
}

func runFetch(cmd *cobra.Command, args []string) {
	id, err := models.ParseRegionID(args[0])
	if err != nil {
		ui.PrintError("Invalid region id", err.Error())
		os.Exit(1)
	}

	flags := globalFlags()
	flags["output"] = outputDir
	flags["state-file"] = stateFile
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	cfg.Logging.File = logger.RunLogPath(cfg.Logging.Dir, "fetch", time.Now())
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger().WithField("region", id.Key())

	os.Exit(fetchRegion(cfg, id, log))
}

func fetchRegion(cfg *config.Config, id models.RegionID, log logger.Logger) int {
	if m, err := guard.ReadMarker(cfg.State.LockFile); err == nil && watchdog.ProcessAlive(m.PID) {
		log.WithFields(map[string]interface{}{
			"pid":    m.PID,
			"run_id": m.RunID,
			"marker": cfg.State.LockFile,
		}).Error("Orchestrator is running, refusing to fetch")
		ui.PrintError("An orchestrator run is in progress", fmt.Sprintf("pid %d holds %s; retry once it exits", m.PID, cfg.State.LockFile))
		return 1
	}

	artifacts, err := storage.NewManager(cfg.Download.OutputDir, cfg.Download.FileNamePattern)
	if err != nil {
		ui.PrintError("Invalid storage configuration", err.Error())
		return 1
	}
	if err := artifacts.EnsureDir(); err != nil {
		log.WithError(err).Warn("Output directory unavailable")
	}

	store := checkpoint.Open(checkpoint.NewManager(cfg.State.CheckpointFile, log), log)
	limiter := ratelimit.NewCeiling(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	client := remote.NewClient(cfg.Remote, cfg.Retry, limiter, log)
	ex := extractor.New(client, store, artifacts, metrics.Nop{}, log)

	ctx, stop := guard.WithSignals(context.Background(), log)
	defer stop()

	outcome := ex.Download(ctx, id)
	ui.PrintOutcome(outcome)
	if !outcome.Completed {
		return 1
	}
	return 0
}
