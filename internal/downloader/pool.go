package downloader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	errs "landscraper/pkg/errors"
	"landscraper/pkg/logger"
	"landscraper/pkg/metrics"
	"landscraper/pkg/models"
)

// DownloadResult represents the result of a download job
type DownloadResult struct {
	Outcome  models.DownloadOutcome
	Duration time.Duration
	// Panicked is set when the task crashed and was recovered
	Panicked bool
}

// RegionDownloader downloads one region end to end
type RegionDownloader interface {
	Download(ctx context.Context, id models.RegionID) models.DownloadOutcome
}

// FailureRecorder persists a failure the downloader could not record itself
type FailureRecorder interface {
	MarkFailed(id models.RegionID)
}

// WorkerPool runs region downloads on a fixed number of workers.
// Submit and Close are called from a single dispatching goroutine.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan models.RegionID
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	// ctx is handed to tasks; it outlives the dispatcher's context so
	// in-flight work can finish during the shutdown grace period
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
	// draining is closed by Shutdown; queued jobs are skipped from then on
	drainOnce  sync.Once
	draining   chan struct{}
	downloader RegionDownloader
	failures   FailureRecorder
	metrics    metrics.Recorder
	logger     logger.Logger
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(
	numWorkers int,
	downloader RegionDownloader,
	failures FailureRecorder,
	rec metrics.Recorder,
	log logger.Logger,
) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan models.RegionID, numWorkers*2), // Buffer size = 2x workers
		resultQueue: make(chan DownloadResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		closed:      make(chan struct{}),
		draining:    make(chan struct{}),
		downloader:  downloader,
		failures:    failures,
		metrics:     rec,
		logger:      log.WithField("component", "pool"),
	}
}

// Start initializes and starts all workers. The result channel is closed
// once every worker has exited.
func (wp *WorkerPool) Start() {
	logger.LogComponentStart(wp.logger, "pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"queue_cap":   cap(wp.jobQueue),
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	go func() {
		wp.wg.Wait()
		close(wp.resultQueue)
		reason := "job queue drained"
		if wp.isDraining() {
			reason = "shutdown"
		}
		wp.cancel()
		logger.LogComponentStop(wp.logger, "pool", reason)
	}()
}

// Submit queues id for download. It blocks while the queue is full and
// gives up when ctx is cancelled or the pool has been closed.
func (wp *WorkerPool) Submit(ctx context.Context, id models.RegionID) error {
	select {
	case <-wp.closed:
		return errs.ErrPoolClosed
	default:
	}

	select {
	case wp.jobQueue <- id:
		wp.metrics.QueueDepth(wp.GetQueueSize())
		wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"region": id.Key(),
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.closed)
		close(wp.jobQueue)
	})
}

// Shutdown closes the pool and gives in-flight tasks grace to finish before
// their contexts are cancelled. Jobs still queued are not started and yield
// no result. It returns once all workers have exited; the caller must keep
// draining Results meanwhile.
func (wp *WorkerPool) Shutdown(grace time.Duration) {
	wp.drainOnce.Do(func() { close(wp.draining) })
	wp.Close()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		wp.logger.WarnWithFields("Shutdown grace expired, cancelling in-flight downloads", map[string]interface{}{
			"grace": grace,
		})
		wp.cancel()
		<-done
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for region := range wp.jobQueue {
		wp.metrics.QueueDepth(wp.GetQueueSize())
		if wp.isDraining() || wp.ctx.Err() != nil {
			wp.logger.DebugWithFields("Skipping queued job during shutdown", map[string]interface{}{
				"worker_id": id,
				"region":    region.Key(),
			})
			continue
		}
		wp.resultQueue <- wp.processJob(region, id)
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// processJob runs a single download and turns a panic into a failed outcome
func (wp *WorkerPool) processJob(region models.RegionID, workerID int) (result DownloadResult) {
	start := time.Now()
	wp.metrics.TaskStarted()

	defer func() {
		wp.metrics.TaskFinished()
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			wp.logger.ErrorWithFields("Download task panicked", map[string]interface{}{
				"worker_id": workerID,
				"region":    region.Key(),
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			})
			if wp.failures != nil {
				wp.failures.MarkFailed(region)
			}
			result.Outcome = models.DownloadOutcome{ID: region, Err: fmt.Errorf("download task panicked: %v", r)}
			result.Panicked = true
		}
	}()

	wp.logger.DebugWithFields("Worker processing job", map[string]interface{}{
		"worker_id": workerID,
		"region":    region.Key(),
	})

	result.Outcome = wp.downloader.Download(wp.ctx, region)
	return result
}

func (wp *WorkerPool) isDraining() bool {
	select {
	case <-wp.draining:
		return true
	default:
		return false
	}
}

// GetQueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}
