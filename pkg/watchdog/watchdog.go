// Package watchdog decides whether the orchestrator needs to be (re)started
// and launches it when it does. It is meant to run once per invocation from
// an external scheduler.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"landscraper/pkg/config"
	errs "landscraper/pkg/errors"
	"landscraper/pkg/guard"
	"landscraper/pkg/logger"
)

const (
	// RunLogPattern matches orchestrator run logs
	RunLogPattern = "extraction_*.log"
	// StdioLogName receives the launched orchestrator's stdout and stderr
	StdioLogName = "orchestrator_stdio.log"
)

// Step names the check that produced a decision
type Step string

const (
	StepProcess     Step = "process"
	StepMarker      Step = "marker"
	StepStaleMarker Step = "stale_marker"
	StepLog         Step = "log"
	StepState       Step = "state"
	StepNone        Step = "none"
)

// Decision explains a ShouldRestart verdict
type Decision struct {
	Restart bool
	Step    Step
	Reason  string
	Log     *LogReport
}

// Options carries the collaborators of a Watchdog. Zero fields get the
// host implementations.
type Options struct {
	Processes ProcessTable
	Alive     func(pid int) bool
	Launcher  Launcher
	Now       func() time.Time
}

// Watchdog infers orchestrator health from the process table, the run
// marker, the newest run log and the checkpoint's age
type Watchdog struct {
	cfg       *config.Config
	processes ProcessTable
	alive     func(pid int) bool
	launcher  Launcher
	now       func() time.Time
	logger    logger.Logger
}

// New creates a watchdog
func New(cfg *config.Config, opts Options, log logger.Logger) *Watchdog {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Processes == nil {
		opts.Processes = NewProcessTable()
	}
	if opts.Alive == nil {
		opts.Alive = ProcessAlive
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Watchdog{
		cfg:       cfg,
		processes: opts.Processes,
		alive:     opts.Alive,
		launcher:  opts.Launcher,
		now:       opts.Now,
		logger:    log.WithField("component", "watchdog"),
	}
}

// StdioPath is where launched orchestrators write stdout and stderr
func (w *Watchdog) StdioPath() string {
	return filepath.Join(w.cfg.Logging.Dir, StdioLogName)
}

// ShouldRestart walks the checks in order; the first conclusive one wins.
// A stale marker is removed as a side effect.
func (w *Watchdog) ShouldRestart(ctx context.Context) (bool, Decision) {
	d := w.decide(ctx, false)
	return d.Restart, d
}

// Evaluate is ShouldRestart without side effects
func (w *Watchdog) Evaluate(ctx context.Context) Decision {
	return w.decide(ctx, true)
}

func (w *Watchdog) decide(ctx context.Context, dryRun bool) Decision {
	// 1. process table
	pids, err := w.processes.Find(w.cfg.Watchdog.ProcessPattern)
	if err != nil {
		w.logger.WithError(err).Error("Error checking process status")
	} else if len(pids) > 0 {
		w.logger.InfoWithFields("Orchestrator is running", map[string]interface{}{
			"pids": pids,
		})
		return Decision{Step: StepProcess, Reason: fmt.Sprintf("orchestrator running with pids %v", pids)}
	} else {
		w.logger.Info("Orchestrator is not currently running")
	}

	if ctx.Err() != nil {
		return Decision{Step: StepNone, Reason: "cancelled"}
	}

	// 2 and 3. run marker
	if d, ok := w.checkMarker(dryRun); ok {
		return d
	}

	// 4. newest run log
	if d, ok := w.checkLogs(); ok {
		return d
	}

	// 5. checkpoint age
	if d, ok := w.checkState(); ok {
		return d
	}

	return Decision{Step: StepNone, Reason: "no restart needed"}
}

func (w *Watchdog) checkMarker(dryRun bool) (Decision, bool) {
	path := w.cfg.State.LockFile

	marker, err := guard.ReadMarker(path)
	if errors.Is(err, errs.ErrNoMarker) {
		w.logger.Info("No run marker found")
		return Decision{}, false
	}
	if err != nil {
		w.logger.WithError(err).WithField("path", path).Error("Error reading run marker")
		return Decision{}, false
	}

	fields := map[string]interface{}{
		"pid":       marker.PID,
		"age_hours": fmt.Sprintf("%.1f", marker.Age(w.now()).Hours()),
	}

	if w.alive(marker.PID) {
		w.logger.InfoWithFields(fmt.Sprintf("Run marker exists and process %d is running", marker.PID), fields)
		return Decision{Step: StepMarker, Reason: fmt.Sprintf("marker owner %d is alive", marker.PID)}, true
	}

	if marker.Age(w.now()) <= w.cfg.State.MaxRuntime {
		w.logger.InfoWithFields("Run marker exists but process recently ended", fields)
		return Decision{}, false
	}

	w.logger.WarnWithFields("Found stale run marker", fields)
	if !dryRun {
		if err := guard.RemoveMarker(path); err != nil {
			w.logger.WithError(err).Error("Failed to remove stale run marker")
		} else {
			w.logger.Info("Removed stale run marker")
		}
	}
	return Decision{
		Restart: true,
		Step:    StepStaleMarker,
		Reason:  fmt.Sprintf("marker of dead process %d is older than %s", marker.PID, w.cfg.State.MaxRuntime),
	}, true
}

func (w *Watchdog) checkLogs() (Decision, bool) {
	path, err := NewestLog(w.cfg.Logging.Dir, RunLogPattern)
	if err != nil {
		w.logger.WithError(err).Error("Error listing log files")
		return Decision{Restart: true, Step: StepLog, Reason: "log directory unreadable"}, true
	}
	if path == "" {
		w.logger.Warn("No log files found to check")
		report := &LogReport{Status: LogMissing}
		return Decision{Restart: true, Step: StepLog, Reason: "no run logs", Log: report}, true
	}

	report := InspectLog(path, w.StdioPath(), w.now(), w.cfg.Watchdog.LogStaleAfter)
	fields := map[string]interface{}{
		"path":   report.Path,
		"status": string(report.Status),
	}

	switch report.Status {
	case LogCompleted:
		w.logger.InfoWithFields("Orchestrator completed successfully according to logs", fields)
		return Decision{}, false
	case LogCrashed:
		fields["signature"] = report.Signature
		w.logger.WarnWithFields("Found crash signature in logs", fields)
	case LogStalled:
		fields["last_entry"] = report.LastEntry.Format(time.RFC3339)
		w.logger.WarnWithFields(fmt.Sprintf("Log hasn't been updated for %.1f hours", w.now().Sub(report.LastEntry).Hours()), fields)
	case LogUnreadable:
		w.logger.WithError(report.Err).ErrorWithFields("Error reading log file", fields)
	default:
		w.logger.InfoWithFields("Log analysis inconclusive, assuming still in progress", fields)
		return Decision{}, false
	}

	return Decision{Restart: true, Step: StepLog, Reason: "run log: " + report.String(), Log: &report}, true
}

func (w *Watchdog) checkState() (Decision, bool) {
	info, err := os.Stat(w.cfg.State.CheckpointFile)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.WithError(err).Error("Error checking checkpoint file")
		}
		return Decision{}, false
	}

	age := w.now().Sub(info.ModTime())
	if age <= w.cfg.Watchdog.StateStaleAfter {
		return Decision{}, false
	}

	w.logger.WarnWithFields(fmt.Sprintf("Checkpoint hasn't been updated in %.1f hours", age.Hours()), map[string]interface{}{
		"path": w.cfg.State.CheckpointFile,
	})
	return Decision{
		Restart: true,
		Step:    StepState,
		Reason:  fmt.Sprintf("checkpoint older than %s", w.cfg.Watchdog.StateStaleAfter),
	}, true
}

// Start launches a new orchestrator and returns its pid
func (w *Watchdog) Start() (int, error) {
	if w.launcher == nil {
		return 0, fmt.Errorf("no launcher configured")
	}

	w.logger.Info("Starting orchestrator")
	pid, err := w.launcher.Launch()
	if err != nil {
		w.logger.WithError(err).Error("Failed to start orchestrator")
		return 0, err
	}
	w.logger.Info(fmt.Sprintf("Started orchestrator with PID %d", pid))
	return pid, nil
}

// Check runs one full watchdog pass
func (w *Watchdog) Check(ctx context.Context) (Decision, error) {
	w.logger.Info("Watchdog started")
	defer w.logger.Info("Watchdog completed")

	restart, d := w.ShouldRestart(ctx)
	if !restart {
		w.logger.InfoWithFields("No restart needed", map[string]interface{}{
			"step":   string(d.Step),
			"reason": d.Reason,
		})
		return d, nil
	}

	w.logger.WarnWithFields("Orchestrator needs to be restarted", map[string]interface{}{
		"step":   string(d.Step),
		"reason": d.Reason,
	})
	if _, err := w.Start(); err != nil {
		return d, err
	}
	return d, nil
}
