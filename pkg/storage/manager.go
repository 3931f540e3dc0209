package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"landscraper/pkg/models"
)

const (
	// ScratchSuffix marks raw downloads that have not been promoted yet
	ScratchSuffix = ".partial"
	tempSuffix    = ".tmp"
	placeholder   = "{id}"
)

// Manager handles region artifact files. Final paths only ever appear via
// rename, so a reader never observes a partially written artifact.
type Manager struct {
	outputDir string
	pattern   string
}

// NewManager creates a new storage manager. The output directory is not
// touched; see EnsureDir.
func NewManager(outputDir, pattern string) (*Manager, error) {
	if !strings.Contains(pattern, placeholder) {
		return nil, fmt.Errorf("file name pattern %q has no %s placeholder", pattern, placeholder)
	}

	return &Manager{
		outputDir: outputDir,
		pattern:   pattern,
	}, nil
}

// EnsureDir creates the output directory. Writes retry the creation, so a
// failure here only means artifacts cannot be stored yet.
func (m *Manager) EnsureDir() error {
	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// ArtifactPath returns the final location for id
func (m *Manager) ArtifactPath(id models.RegionID) string {
	name := strings.ReplaceAll(m.pattern, placeholder, id.Key())
	return filepath.Join(m.outputDir, name)
}

// ScratchPath returns the raw download location for id
func (m *Manager) ScratchPath(id models.RegionID) string {
	return m.ArtifactPath(id) + ScratchSuffix
}

// Exists reports whether the final artifact for id is present
func (m *Manager) Exists(id models.RegionID) bool {
	_, err := os.Stat(m.ArtifactPath(id))
	return err == nil
}

// WriteScratch stores raw response bytes for id
func (m *Manager) WriteScratch(id models.RegionID, data []byte) error {
	return writeSynced(m.ScratchPath(id), data)
}

// PromoteScratch moves the raw download into the final path unchanged
func (m *Manager) PromoteScratch(id models.RegionID) (string, error) {
	final := m.ArtifactPath(id)
	if err := os.Rename(m.ScratchPath(id), final); err != nil {
		return "", fmt.Errorf("failed to promote scratch file: %w", err)
	}
	return final, nil
}

// WritePretty reindents a JSON document with four spaces and stores it as
// the final artifact for id. Numbers and strings are kept byte for byte.
func (m *Manager) WritePretty(id models.RegionID, raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return "", fmt.Errorf("failed to format artifact: %w", err)
	}
	buf.WriteByte('\n')

	final := m.ArtifactPath(id)
	temp := final + tempSuffix
	if err := writeSynced(temp, buf.Bytes()); err != nil {
		return "", err
	}
	if err := os.Rename(temp, final); err != nil {
		os.Remove(temp)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return final, nil
}

// DiscardScratch removes the raw download for id if present
func (m *Manager) DiscardScratch(id models.RegionID) {
	os.Remove(m.ScratchPath(id))
}

// CleanLeftovers removes scratch and temporary files left by an interrupted
// run and returns how many were removed.
func (m *Manager) CleanLeftovers() (int, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ScratchSuffix) || strings.HasSuffix(name, tempSuffix) {
			if err := os.Remove(filepath.Join(m.outputDir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

func writeSynced(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := out.Write(data); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}
