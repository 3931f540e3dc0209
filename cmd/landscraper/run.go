package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"landscraper/pkg/config"
	"landscraper/pkg/guard"
	"landscraper/pkg/logger"
	"landscraper/pkg/metrics"
	"landscraper/pkg/scraper"
	"landscraper/pkg/ui"
)

const runLogPrefix = "extraction"

var (
	// Run command flags
	minID       int
	maxID       int
	outputDir   string
	concurrent  int
	stateFile   string
	lockFile    string
	logDir      string
	metricsAddr string
	retryFailed bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate the region range and download every valid region",
	Long: `Run one full extraction pass.

The orchestrator probes every region id in the configured range that the
checkpoint does not know yet, then downloads all valid regions that are not
completed. Every result is checkpointed immediately, so the pass can be
interrupted at any time and resumed by running it again.

A run marker holding this process' pid is written for the watchdog and
removed on exit. SIGINT and SIGTERM stop dispatching new downloads and give
in-flight ones download.shutdown_grace to finish.`,
	Example: `  # Run with defaults or the config file
  landscraper run

  # Scan a narrower range with more workers
  landscraper run --min-id 1 --max-id 200 --concurrent 5

  # Expose Prometheus metrics while running
  landscraper run --metrics-addr :9102`,
	Args: cobra.NoArgs,
	Run:  runExtraction,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&minID, "min-id", 0, "first region id to scan")
	runCmd.Flags().IntVar(&maxID, "max-id", 0, "last region id to scan")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for region artifacts")
	runCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	runCmd.Flags().StringVar(&stateFile, "state-file", "", "checkpoint file")
	runCmd.Flags().StringVar(&lockFile, "lock-file", "", "run marker file")
	runCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for run logs")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "retry failed regions once before finishing the run")
}

func runFlags() map[string]interface{} {
	flags := globalFlags()
	flags["min-id"] = minID
	flags["max-id"] = maxID
	flags["output"] = outputDir
	flags["concurrent"] = concurrent
	flags["state-file"] = stateFile
	flags["lock-file"] = lockFile
	flags["log-dir"] = logDir
	flags["metrics-addr"] = metricsAddr
	flags["retry-failed"] = retryFailed
	return flags
}

func runExtraction(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, runFlags())
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	cfg.Logging.File = logger.RunLogPath(cfg.Logging.Dir, runLogPrefix, time.Now())
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}

	runID := uuid.NewString()
	log := logger.GetLogger().WithField("run_id", runID)
	log.InfoWithFields("Starting orchestrator", map[string]interface{}{
		"version":  version,
		"log_file": cfg.Logging.File,
	})

	os.Exit(orchestrate(cfg, runID, log))
}

// crash is a panic recovered from the orchestrator goroutine
type crash struct {
	value interface{}
	stack []byte
}

// orchestrate owns the process lifecycle of a run and returns the exit code.
// Deferred calls run before the caller exits.
func orchestrate(cfg *config.Config, runID string, log logger.Logger) int {
	g := guard.New(cfg.State.LockFile, runID, log)
	// failure is logged by Acquire; the run continues without exclusion
	_ = g.Acquire()
	defer g.Release()

	ctx, stop := guard.WithSignals(context.Background(), log)
	defer stop()

	m := metrics.New(nil)
	s, err := scraper.New(cfg, m, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize orchestrator")
		ui.PrintError("Failed to initialize orchestrator", err.Error())
		return 1
	}

	var (
		report  *scraper.Report
		crashed *crash
	)
	done := make(chan struct{})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(done)
		var err error
		report, crashed, err = runGuarded(gctx, s)
		return err
	})
	if cfg.Metrics.Addr != "" {
		group.Go(func() error {
			serveMetrics(done, cfg.Metrics.Addr, m, log)
			return nil
		})
	}
	err = group.Wait()

	if crashed != nil {
		// Fatal exits without running deferred calls
		g.Release()
		log.FatalWithFields("Orchestrator crashed", map[string]interface{}{
			"panic": fmt.Sprint(crashed.value),
			"stack": string(crashed.stack),
		})
		return 2
	}

	if report != nil {
		ui.PrintReport(report)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			ui.PrintWarning("Extraction interrupted, progress is saved")
		} else {
			ui.PrintError("Extraction failed", err.Error())
		}
		return 1
	}

	ui.PrintSuccess("[EXTRACTION COMPLETED]")
	return 0
}

func runGuarded(ctx context.Context, s *scraper.Scraper) (report *scraper.Report, crashed *crash, err error) {
	defer func() {
		if r := recover(); r != nil {
			crashed = &crash{value: r, stack: debug.Stack()}
			err = fmt.Errorf("orchestrator panicked: %v", r)
		}
	}()
	report, err = s.Run(ctx)
	return report, nil, err
}

// serveMetrics exposes /metrics until done is closed. A listener failure is
// logged and does not affect the run.
func serveMetrics(done <-chan struct{}, addr string, m *metrics.Metrics, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithField("addr", addr).Info("Serving metrics")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("addr", addr).Warn("Metrics server stopped")
		}
		return
	case <-done:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Failed to stop metrics server")
	}
}
