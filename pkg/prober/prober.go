// Package prober decides whether a region identifier exists upstream.
package prober

import (
	"context"
	"encoding/json"

	"landscraper/pkg/logger"
	"landscraper/pkg/metrics"
	"landscraper/pkg/models"
	"landscraper/pkg/remote"
)

// Client issues the minimal probe query
type Client interface {
	Probe(ctx context.Context, id models.RegionID) (*remote.Response, error)
}

// StateStore is the part of the checkpoint the prober needs
type StateStore interface {
	IsValid(id models.RegionID) bool
	IsCompleted(id models.RegionID) bool
	MarkValid(id models.RegionID)
}

// Prober validates regions
type Prober struct {
	client  Client
	store   StateStore
	metrics metrics.Recorder
	logger  logger.Logger
}

// New creates a prober
func New(client Client, store StateStore, rec metrics.Recorder, log logger.Logger) *Prober {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Prober{
		client:  client,
		store:   store,
		metrics: rec,
		logger:  log.WithField("component", "prober"),
	}
}

// Known reports whether id is already known to be valid, without a request
func (p *Prober) Known(id models.RegionID) bool {
	return p.store.IsValid(id) || p.store.IsCompleted(id)
}

// Probe classifies id. Valid regions are persisted before returning; invalid
// and unreachable ones are not, so they are probed again on the next run.
func (p *Prober) Probe(ctx context.Context, id models.RegionID) models.ProbeResult {
	log := p.logger.WithField("region", id.Key())

	if p.Known(id) {
		log.Debug("Region already validated")
		return models.ProbeValid
	}

	result := p.probe(ctx, id, log)
	p.metrics.ProbeResult(string(result))
	return result
}

func (p *Prober) probe(ctx context.Context, id models.RegionID, log logger.Logger) models.ProbeResult {
	resp, err := p.client.Probe(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Region probe failed")
		return models.ProbeUnreachable
	}

	var fc models.FeatureCollection
	if err := json.Unmarshal(resp.Body, &fc); err != nil {
		log.WithError(err).Warn("Region probe returned unparseable body")
		return models.ProbeUnreachable
	}

	if len(fc.Features) == 0 {
		log.Debug("Region has no features")
		return models.ProbeInvalid
	}

	p.store.MarkValid(id)
	log.Info("Region is valid")
	return models.ProbeValid
}
