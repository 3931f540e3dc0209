package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"landscraper/pkg/config"
	"landscraper/pkg/logger"
	"landscraper/pkg/ui"
	"landscraper/pkg/watchdog"
)

var watchdogDryRun bool

// watchdogCmd represents the watchdog command
var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Restart the orchestrator if it crashed, stalled or never ran",
	Long: `Run one health check and launch "landscraper run" when needed, then exit.

The checks, in order:
  1. an orchestrator process is running: nothing to do
  2. the run marker's owner is alive: nothing to do
  3. the run marker is older than state.max_runtime and its owner is dead:
     remove it and restart
  4. the newest run log shows a crash, has not been written for
     watchdog.log_stale_after, or there is none: restart
  5. the checkpoint has not been written for watchdog.state_stale_after:
     restart

Schedule it from cron, for example every 30 minutes:

  */30 * * * * cd /srv/landscraper && landscraper watchdog`,
	Args: cobra.NoArgs,
	Run:  runWatchdog,
}

func init() {
	rootCmd.AddCommand(watchdogCmd)

	watchdogCmd.Flags().BoolVar(&watchdogDryRun, "dry-run", false, "report the decision without removing markers or launching")
}

func runWatchdog(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	cfg.Logging.File = logger.DailyLogPath(cfg.Logging.Dir, "watchdog", time.Now())
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()

	launcher, err := newLauncher(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to prepare orchestrator launcher")
		os.Exit(1)
	}

	wd := watchdog.New(cfg, watchdog.Options{Launcher: launcher}, log)

	if watchdogDryRun {
		d := wd.Evaluate(context.Background())
		fmt.Printf("restart=%t step=%s reason=%q\n", d.Restart, d.Step, d.Reason)
		return
	}

	if _, err := wd.Check(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newLauncher starts "<this binary> run" with the same config file. The child
// inherits the working directory, so relative paths resolve the same way.
func newLauncher(cfg *config.Config) (*watchdog.ExecLauncher, error) {
	var args []string
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}

	stdio := filepath.Join(cfg.Logging.Dir, watchdog.StdioLogName)
	return watchdog.NewSelfLauncher(stdio, args...)
}
