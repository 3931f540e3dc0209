// Package extractor downloads the full feature set of validated regions.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"landscraper/pkg/logger"
	"landscraper/pkg/metrics"
	"landscraper/pkg/models"
	"landscraper/pkg/remote"
)

// Client issues the full download query
type Client interface {
	Download(ctx context.Context, id models.RegionID) (*remote.Response, error)
}

// StateStore is the part of the checkpoint the extractor needs
type StateStore interface {
	IsCompleted(id models.RegionID) bool
	MarkCompleted(id models.RegionID)
	MarkFailed(id models.RegionID)
}

// ArtifactStore writes region artifacts
type ArtifactStore interface {
	WriteScratch(id models.RegionID, data []byte) error
	PromoteScratch(id models.RegionID) (string, error)
	WritePretty(id models.RegionID, raw []byte) (string, error)
	DiscardScratch(id models.RegionID)
}

// Extractor downloads one region end to end
type Extractor struct {
	client    Client
	store     StateStore
	artifacts ArtifactStore
	metrics   metrics.Recorder
	logger    logger.Logger
}

// New creates an extractor
func New(client Client, store StateStore, artifacts ArtifactStore, rec metrics.Recorder, log logger.Logger) *Extractor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Extractor{
		client:    client,
		store:     store,
		artifacts: artifacts,
		metrics:   rec,
		logger:    log.WithField("component", "extractor"),
	}
}

// Download fetches id and writes its artifact. The checkpoint is updated
// before the outcome is returned.
func (e *Extractor) Download(ctx context.Context, id models.RegionID) models.DownloadOutcome {
	log := e.logger.WithField("region", id.Key())

	if e.store.IsCompleted(id) {
		log.Info("Region already processed")
		return models.DownloadOutcome{ID: id, Completed: true, Skipped: true}
	}

	log.Info("Fetching full region data")
	outcome := e.download(ctx, id, log)

	if outcome.Completed {
		e.store.MarkCompleted(id)
		e.metrics.DownloadOutcome(string(models.StatusCompleted), outcome.FeatureCount)
	} else {
		e.store.MarkFailed(id)
		e.metrics.DownloadOutcome(string(models.StatusFailed), 0)
	}
	return outcome
}

func (e *Extractor) download(ctx context.Context, id models.RegionID, log logger.Logger) models.DownloadOutcome {
	failed := func(err error) models.DownloadOutcome {
		return models.DownloadOutcome{ID: id, Err: err}
	}

	resp, err := e.client.Download(ctx, id)
	if err != nil {
		log.WithError(err).Error("Region download failed")
		return failed(err)
	}

	if err := e.artifacts.WriteScratch(id, resp.Body); err != nil {
		log.WithError(err).Error("Failed to write scratch file")
		return failed(err)
	}

	if !json.Valid(resp.Body) {
		log.Warn("Response is not valid JSON, saving raw content")
		path, err := e.artifacts.PromoteScratch(id)
		if err != nil {
			e.artifacts.DiscardScratch(id)
			log.WithError(err).Error("Failed to save raw response")
			return failed(err)
		}
		log.WithField("path", path).Info("Raw response saved")
		return models.DownloadOutcome{ID: id, Completed: true, Path: path}
	}

	count := countFeatures(resp.Body)

	path, err := e.artifacts.WritePretty(id, resp.Body)
	e.artifacts.DiscardScratch(id)
	if err != nil {
		log.WithError(err).Error("Failed to save region data")
		return failed(fmt.Errorf("save region %s: %w", id, err))
	}

	log.InfoWithFields("Region data saved", map[string]interface{}{
		"features": count,
		"path":     path,
	})
	return models.DownloadOutcome{ID: id, Completed: true, FeatureCount: count, Path: path}
}

// countFeatures returns the length of a top-level "features" array, or 0
func countFeatures(body []byte) int {
	var fc models.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return 0
	}
	return len(fc.Features)
}
