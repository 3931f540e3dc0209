package remote

import (
	"strings"
	"time"

	"landscraper/pkg/config"
	"landscraper/pkg/models"
)

// Placeholder is substituted with the region id in URL templates
const Placeholder = "{id}"

// Endpoint is one parameterized upstream query
type Endpoint struct {
	// Name labels log lines and metrics, e.g. "probe" or "download"
	Name        string
	URLTemplate string
	Timeout     time.Duration
}

// URL returns the query URL for id
func (e Endpoint) URL(id models.RegionID) string {
	return strings.ReplaceAll(e.URLTemplate, Placeholder, id.Key())
}

// Endpoints groups the queries the scraper issues
type Endpoints struct {
	Probe    Endpoint
	Download Endpoint
	// RefererTemplate is optional; it uses the same placeholder
	RefererTemplate string
}

// NewEndpoints builds the endpoints from configuration
func NewEndpoints(cfg config.RemoteConfig) Endpoints {
	return Endpoints{
		Probe: Endpoint{
			Name:        "probe",
			URLTemplate: cfg.ProbeURL,
			Timeout:     cfg.ProbeTimeout,
		},
		Download: Endpoint{
			Name:        "download",
			URLTemplate: cfg.DownloadURL,
			Timeout:     cfg.DownloadTimeout,
		},
		RefererTemplate: cfg.RefererURL,
	}
}

// Referer returns the referer header value for id, or ""
func (e Endpoints) Referer(id models.RegionID) string {
	if e.RefererTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(e.RefererTemplate, Placeholder, id.Key())
}
