package models

import (
	"fmt"
	"strconv"
)

// RegionID identifies an administrative region upstream
type RegionID int

// Key returns the canonical decimal form used in persisted state
func (id RegionID) Key() string {
	return strconv.Itoa(int(id))
}

func (id RegionID) String() string {
	return id.Key()
}

// ParseRegionID parses a canonical key back into a RegionID
func ParseRegionID(s string) (RegionID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid region id %q: %w", s, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid region id %q: must be positive", s)
	}
	return RegionID(n), nil
}

// RegionStatus is the lifecycle state of a region within a run
type RegionStatus string

const (
	StatusUnvalidated RegionStatus = "unvalidated"
	StatusValid       RegionStatus = "valid"
	StatusInvalid     RegionStatus = "invalid"
	StatusUnreachable RegionStatus = "unreachable"
	StatusCompleted   RegionStatus = "completed"
	StatusFailed      RegionStatus = "failed"
)

// ProbeResult is the outcome of validating one region
type ProbeResult string

const (
	ProbeValid       ProbeResult = "valid"
	ProbeInvalid     ProbeResult = "invalid"
	ProbeUnreachable ProbeResult = "unreachable"
)

// Status maps a probe result onto the region lifecycle
func (r ProbeResult) Status() RegionStatus {
	switch r {
	case ProbeValid:
		return StatusValid
	case ProbeInvalid:
		return StatusInvalid
	default:
		return StatusUnreachable
	}
}

// DownloadOutcome is the result of fetching one region's full feature set
type DownloadOutcome struct {
	ID           RegionID
	Completed    bool
	FeatureCount int
	// Skipped is set when the region was already completed and no request was made
	Skipped bool
	// Path is the artifact location for completed regions
	Path string
	Err  error
}

// Status maps the outcome onto the region lifecycle
func (o DownloadOutcome) Status() RegionStatus {
	if o.Completed {
		return StatusCompleted
	}
	return StatusFailed
}

// FeatureCollection is the part of a GeoJSON response the scraper inspects
type FeatureCollection struct {
	Type     string        `json:"type"`
	Features []interface{} `json:"features"`
}
