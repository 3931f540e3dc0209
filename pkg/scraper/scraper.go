package scraper

import (
	"context"
	"fmt"
	"time"

	"landscraper/internal/downloader"
	"landscraper/pkg/checkpoint"
	"landscraper/pkg/config"
	"landscraper/pkg/extractor"
	"landscraper/pkg/logger"
	"landscraper/pkg/metrics"
	"landscraper/pkg/models"
	"landscraper/pkg/prober"
	"landscraper/pkg/ratelimit"
	"landscraper/pkg/remote"
	"landscraper/pkg/storage"
)

// Phase is a state of the orchestrator
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseValidating  Phase = "validating"
	PhaseDownloading Phase = "downloading"
	PhaseReporting   Phase = "reporting"
	PhaseDone        Phase = "done"
)

// Log lines the watchdog looks for
const (
	CompletedMessage = "Data extraction completed"
	ProcessedPrefix  = "Total regions processed:"
)

// Report summarizes one run
type Report struct {
	Probed   int
	Valid    []models.RegionID
	Invalid  []models.RegionID
	Unreach  []models.RegionID
	Pending  []models.RegionID
	Outcomes []models.DownloadOutcome
	// Failed holds ids that failed this run
	Failed []models.RegionID
	// RetryCandidates are failed ids that did not succeed this run
	RetryCandidates []models.RegionID
	Retried         bool
	// TotalCompleted is the size of the completed set after the run
	TotalCompleted int
	Interrupted    bool
	Duration       time.Duration
}

// Succeeded returns the outcomes that completed this run
func (r *Report) Succeeded() []models.DownloadOutcome {
	var out []models.DownloadOutcome
	for _, o := range r.Outcomes {
		if o.Completed {
			out = append(out, o)
		}
	}
	return out
}

// Options carries the collaborators of a Scraper
type Options struct {
	Config          *config.Config
	Store           *checkpoint.Store
	Prober          RegionProber
	Downloader      downloader.RegionDownloader
	ProbePacer      Pauser
	CompletionPacer Pauser
	Metrics         metrics.Recorder
	Logger          logger.Logger
}

// Scraper drives validation and download of the configured region range
type Scraper struct {
	config          *config.Config
	store           *checkpoint.Store
	prober          RegionProber
	downloader      downloader.RegionDownloader
	probePacer      Pauser
	completionPacer Pauser
	metrics         metrics.Recorder
	logger          logger.Logger
	phase           Phase
}

// New wires a Scraper from configuration: checkpoint, transport, storage,
// prober and extractor all share the same store and recorder.
func New(cfg *config.Config, rec metrics.Recorder, log logger.Logger) (*Scraper, error) {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	store := checkpoint.Open(checkpoint.NewManager(cfg.State.CheckpointFile, log), log)

	artifacts, err := storage.NewManager(cfg.Download.OutputDir, cfg.Download.FileNamePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}
	if err := artifacts.EnsureDir(); err != nil {
		log.WithError(err).WithField("path", cfg.Download.OutputDir).Error("Output directory unavailable, downloads will fail until it can be created")
	} else if n, err := artifacts.CleanLeftovers(); err != nil {
		log.WithError(err).Warn("Failed to clean leftover scratch files")
	} else if n > 0 {
		log.WithField("count", n).Info("Removed leftover scratch files")
	}

	limiter := ratelimit.NewCeiling(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	client := remote.NewClient(cfg.Remote, cfg.Retry, limiter, log)
	client.SetObserver(rec)

	return NewWithOptions(Options{
		Config:          cfg,
		Store:           store,
		Prober:          prober.New(client, store, rec, log),
		Downloader:      extractor.New(client, store, artifacts, rec, log),
		ProbePacer:      ratelimit.NewPacer(cfg.RateLimit.ProbeDelayMin, cfg.RateLimit.ProbeDelayMax),
		CompletionPacer: ratelimit.NewPacer(cfg.RateLimit.CompletionDelayMin, cfg.RateLimit.CompletionDelayMax),
		Metrics:         rec,
		Logger:          log,
	}), nil
}

// NewWithOptions builds a Scraper from explicit collaborators
func NewWithOptions(opts Options) *Scraper {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.ProbePacer == nil {
		opts.ProbePacer = ratelimit.NewPacer(0, 0)
	}
	if opts.CompletionPacer == nil {
		opts.CompletionPacer = ratelimit.NewPacer(0, 0)
	}

	return &Scraper{
		config:          opts.Config,
		store:           opts.Store,
		prober:          opts.Prober,
		downloader:      opts.Downloader,
		probePacer:      opts.ProbePacer,
		completionPacer: opts.CompletionPacer,
		metrics:         opts.Metrics,
		logger:          opts.Logger.WithField("component", "orchestrator"),
		phase:           PhaseInit,
	}
}

// Store returns the checkpoint store
func (s *Scraper) Store() *checkpoint.Store {
	return s.store
}

// Phase returns the current phase
func (s *Scraper) Phase() Phase {
	return s.phase
}

func (s *Scraper) transition(to Phase) {
	logger.LogPhase(s.logger, string(s.phase), string(to))
	s.phase = to
	s.metrics.Phase(string(to))
}

// Run executes one full pass: validate the scan range, download pending
// regions, report. When ctx is cancelled the run stops dispatching, lets
// in-flight downloads drain and returns the partial report with ctx's error.
// The completion lines are only logged for runs that were not interrupted.
func (s *Scraper) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	s.metrics.Phase(string(PhaseInit))
	summary := s.store.Summary()
	s.logger.InfoWithFields("Starting region extraction", map[string]interface{}{
		"min_id":    s.config.Scan.MinID,
		"max_id":    s.config.Scan.MaxID,
		"valid":     summary.Valid,
		"completed": summary.Completed,
		"failed":    summary.Failed,
	})

	s.transition(PhaseValidating)
	s.validate(ctx, report)

	s.transition(PhaseDownloading)
	if ctx.Err() == nil {
		report.Pending = s.store.Pending()
		report.Outcomes = s.download(ctx, report.Pending)
	}

	s.transition(PhaseReporting)
	s.report(report)

	if s.config.Download.RetryFailedInRun && len(report.RetryCandidates) > 0 && ctx.Err() == nil {
		s.logger.InfoWithFields("Retrying failed regions", map[string]interface{}{
			"count": len(report.RetryCandidates),
			"ids":   keys(report.RetryCandidates),
		})
		report.Retried = true
		report.Outcomes = mergeOutcomes(report.Outcomes, s.download(ctx, report.RetryCandidates))
		s.report(report)
	} else if len(report.RetryCandidates) > 0 {
		s.logger.InfoWithFields("Failed regions left for the next run", map[string]interface{}{
			"count": len(report.RetryCandidates),
			"ids":   keys(report.RetryCandidates),
		})
	}

	report.TotalCompleted = s.store.Summary().Completed
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		report.Interrupted = true
		s.logger.WarnWithFields("Extraction interrupted", map[string]interface{}{
			"phase":           string(s.phase),
			"total_completed": report.TotalCompleted,
		})
		return report, fmt.Errorf("extraction interrupted: %w", err)
	}

	s.transition(PhaseDone)
	s.logger.Info(CompletedMessage)
	s.logger.InfoWithFields(fmt.Sprintf("%s %d", ProcessedPrefix, report.TotalCompleted), map[string]interface{}{
		"duration": report.Duration.String(),
	})
	return report, nil
}

// validate probes the scan range sequentially in ascending order
func (s *Scraper) validate(ctx context.Context, report *Report) {
	lo, hi := s.config.Scan.MinID, s.config.Scan.MaxID
	total := hi - lo + 1

	for n := lo; n <= hi; n++ {
		if ctx.Err() != nil {
			s.logger.Warn("Validation stopped")
			return
		}
		id := models.RegionID(n)

		if s.prober.Known(id) {
			s.logger.DebugWithFields("Region already known, skipping probe", map[string]interface{}{
				"region": id.Key(),
			})
			report.Valid = append(report.Valid, id)
			continue
		}

		report.Probed++
		switch s.prober.Probe(ctx, id) {
		case models.ProbeValid:
			report.Valid = append(report.Valid, id)
		case models.ProbeInvalid:
			report.Invalid = append(report.Invalid, id)
		default:
			report.Unreach = append(report.Unreach, id)
		}

		if done := n - lo + 1; done%10 == 0 || done == total {
			logger.LogProgress(s.logger, string(PhaseValidating), done, total)
		}

		if n < hi {
			_ = s.probePacer.Pause(ctx)
		}
	}

	s.logger.InfoWithFields(fmt.Sprintf("Found %d valid regions", len(report.Valid)), map[string]interface{}{
		"ids":         keys(report.Valid),
		"probed":      report.Probed,
		"invalid":     len(report.Invalid),
		"unreachable": len(report.Unreach),
	})
}

// download runs ids through a worker pool sized min(cap, len(ids)) and
// drains results as they arrive
func (s *Scraper) download(ctx context.Context, ids []models.RegionID) []models.DownloadOutcome {
	if len(ids) == 0 {
		s.logger.Info("All valid regions have already been processed. Nothing to download.")
		return nil
	}

	workers := s.config.Download.ConcurrentDownloads
	if workers > len(ids) {
		workers = len(ids)
	}
	s.logger.InfoWithFields(fmt.Sprintf("Downloading full data for %d remaining regions", len(ids)), map[string]interface{}{
		"workers": workers,
	})

	pool := downloader.NewWorkerPool(workers, s.downloader, s.store, s.metrics, s.logger)
	pool.Start()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		defer pool.Close()
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			if err := pool.Submit(ctx, id); err != nil {
				s.logger.WithError(err).WithField("region", id.Key()).Warn("Stopped dispatching downloads")
				return
			}
		}
	}()

	drained := make(chan struct{})
	defer close(drained)
	go func() {
		select {
		case <-ctx.Done():
			<-dispatched
			s.logger.WarnWithFields("Waiting for in-flight downloads", map[string]interface{}{
				"grace": s.config.Download.ShutdownGrace.String(),
			})
			pool.Shutdown(s.config.Download.ShutdownGrace)
		case <-drained:
		}
	}()

	var outcomes []models.DownloadOutcome
	for result := range pool.Results() {
		outcome := result.Outcome
		outcomes = append(outcomes, outcome)

		if outcome.Completed {
			s.logger.DebugWithFields("Region finished", map[string]interface{}{
				"region":   outcome.ID.Key(),
				"features": outcome.FeatureCount,
				"skipped":  outcome.Skipped,
				"duration": result.Duration.String(),
			})
		} else {
			fields := map[string]interface{}{
				"region":   outcome.ID.Key(),
				"panicked": result.Panicked,
			}
			if outcome.Err != nil {
				fields["error"] = outcome.Err.Error()
			}
			s.logger.WarnWithFields("Region download failed", fields)
		}
		logger.LogProgress(s.logger, string(PhaseDownloading), len(outcomes), len(ids))

		if ctx.Err() == nil {
			_ = s.completionPacer.Pause(ctx)
		}
	}

	return outcomes
}

// report partitions outcomes, logs the summary and computes retry candidates
func (s *Scraper) report(report *Report) {
	succeeded := make(map[models.RegionID]bool)
	report.Failed = report.Failed[:0]

	var ok []models.DownloadOutcome
	for _, o := range report.Outcomes {
		if o.Completed {
			succeeded[o.ID] = true
			ok = append(ok, o)
		} else {
			report.Failed = append(report.Failed, o.ID)
		}
	}

	s.logger.Info(fmt.Sprintf("Successfully downloaded data for %d out of %d regions", len(ok), len(report.Outcomes)))
	for _, o := range ok {
		if o.Skipped {
			continue
		}
		s.logger.InfoWithFields(fmt.Sprintf("Region %s: %d features", o.ID, o.FeatureCount), map[string]interface{}{
			"region":   o.ID.Key(),
			"features": o.FeatureCount,
		})
	}

	if len(report.Failed) > 0 {
		s.logger.WarnWithFields(fmt.Sprintf("Failed to download data for %d regions", len(report.Failed)), map[string]interface{}{
			"ids": keys(report.Failed),
		})
	}

	report.RetryCandidates = s.store.RetryCandidates(succeeded)
}

// mergeOutcomes replaces earlier outcomes with retried ones for the same id
func mergeOutcomes(first, retried []models.DownloadOutcome) []models.DownloadOutcome {
	index := make(map[models.RegionID]int, len(first))
	for i, o := range first {
		index[o.ID] = i
	}
	for _, o := range retried {
		if i, ok := index[o.ID]; ok {
			first[i] = o
			continue
		}
		first = append(first, o)
	}
	return first
}

func keys(ids []models.RegionID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Key()
	}
	return out
}
