// Package guard owns the run marker of an orchestrator process and turns
// termination signals into context cancellation.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	errs "landscraper/pkg/errors"
	"landscraper/pkg/logger"
)

// Marker is the content of the run marker file
type Marker struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	RunID      string    `json:"run_id,omitempty"`
	Host       string    `json:"host,omitempty"`
}

// Age returns how long ago the marker was acquired
func (m *Marker) Age(now time.Time) time.Duration {
	return now.Sub(m.AcquiredAt)
}

// Guard writes the marker at startup and removes it exactly once
type Guard struct {
	path   string
	runID  string
	logger logger.Logger

	mu       sync.Mutex
	acquired bool
	release  sync.Once

	// overridable in tests
	now func() time.Time
	pid func() int
}

// New creates a guard for the marker at path
func New(path, runID string, log logger.Logger) *Guard {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Guard{
		path:   path,
		runID:  runID,
		logger: log.WithField("component", "guard"),
		now:    time.Now,
		pid:    os.Getpid,
	}
}

// Path returns the marker location
func (g *Guard) Path() string {
	return g.path
}

// Acquire writes the marker. An existing marker is overwritten: deciding
// whether another run is alive is the watchdog's job. On failure the error
// is logged and returned; the caller may keep running without exclusion.
func (g *Guard) Acquire() error {
	host, _ := os.Hostname()
	marker := Marker{
		PID:        g.pid(),
		AcquiredAt: g.now().UTC(),
		RunID:      g.runID,
		Host:       host,
	}

	if err := writeMarker(g.path, &marker); err != nil {
		g.logger.WithError(err).WithField("path", g.path).Error("Failed to create run marker, continuing without exclusion")
		return err
	}

	g.mu.Lock()
	g.acquired = true
	g.mu.Unlock()

	g.logger.InfoWithFields(fmt.Sprintf("Created run marker with PID %d", marker.PID), map[string]interface{}{
		"path":   g.path,
		"run_id": marker.RunID,
		"host":   marker.Host,
	})
	return nil
}

// Release removes the marker. Only the first call has any effect.
func (g *Guard) Release() {
	g.release.Do(func() {
		g.mu.Lock()
		acquired := g.acquired
		g.mu.Unlock()
		if !acquired {
			return
		}

		if err := RemoveMarker(g.path); err != nil {
			g.logger.WithError(err).WithField("path", g.path).Error("Failed to remove run marker")
			return
		}
		g.logger.Info("Removed run marker on exit")
	})
}

// WithSignals returns a context that is cancelled on SIGINT or SIGTERM. The
// signal is logged. After the first signal the default handling is restored
// so a second one terminates the process immediately.
func WithSignals(parent context.Context, log logger.Logger) (context.Context, context.CancelFunc) {
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.WarnWithFields("Received signal, shutting down gracefully", map[string]interface{}{
				"signal": sig.String(),
			})
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// ReadMarker loads the marker at path. Besides JSON it accepts the older
// "pid,unix_seconds" text form. A missing file yields ErrNoMarker.
func ReadMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNoMarker
		}
		return nil, fmt.Errorf("failed to read run marker: %w", err)
	}

	return parseMarker(data)
}

func parseMarker(data []byte) (*Marker, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("%w: empty file", errs.ErrMalformedMarker)
	}

	if strings.HasPrefix(text, "{") {
		var m Marker
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrMalformedMarker, err)
		}
		if m.PID <= 0 {
			return nil, fmt.Errorf("%w: missing pid", errs.ErrMalformedMarker)
		}
		return &m, nil
	}

	// pid,unix_seconds with fractional seconds
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", errs.ErrMalformedMarker, text)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("%w: bad pid %q", errs.ErrMalformedMarker, parts[0])
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", errs.ErrMalformedMarker, parts[1])
	}

	whole := math.Floor(secs)
	nanos := math.Round((secs - whole) * float64(time.Second))

	return &Marker{
		PID:        pid,
		AcquiredAt: time.Unix(int64(whole), int64(nanos)).UTC(),
	}, nil
}

// RemoveMarker deletes the marker at path. A missing file is not an error.
func RemoveMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeMarker(path string, m *Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create marker directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	return nil
}
