package scraper

import (
	"context"

	"landscraper/pkg/models"
)

// RegionProber decides whether an identifier maps to a real region
type RegionProber interface {
	Known(id models.RegionID) bool
	Probe(ctx context.Context, id models.RegionID) models.ProbeResult
}

// Pauser inserts randomized pauses between requests
type Pauser interface {
	Pause(ctx context.Context) error
}
