package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"landscraper/pkg/logger"
	"landscraper/pkg/models"
)

// SchemaVersion is written into every checkpoint file
const SchemaVersion = 1

// State is the persisted extraction progress.
// Failed and completed are kept disjoint.
type State struct {
	Version   int
	Completed map[string]struct{}
	Valid     map[string]struct{}
	Failed    map[string]struct{}
	LastRun   time.Time
}

// fileState is the on-disk JSON layout
type fileState struct {
	Version   int      `json:"version"`
	Completed []string `json:"completed"`
	Valid     []string `json:"valid"`
	Failed    []string `json:"failed"`
	LastRun   string   `json:"last_run,omitempty"`
}

// lastRunLayouts are accepted when reading last_run; older state files
// carry a naive local timestamp.
var lastRunLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// NewState returns an empty state
func NewState() *State {
	return &State{
		Version:   SchemaVersion,
		Completed: make(map[string]struct{}),
		Valid:     make(map[string]struct{}),
		Failed:    make(map[string]struct{}),
	}
}

// AddValid records id as a real region. Idempotent.
func (s *State) AddValid(id models.RegionID) {
	s.Valid[id.Key()] = struct{}{}
}

// AddCompleted records id as downloaded and clears any failure record
func (s *State) AddCompleted(id models.RegionID) {
	s.Completed[id.Key()] = struct{}{}
	delete(s.Failed, id.Key())
}

// AddFailed records a failed download. Completed regions are never marked failed.
// It reports whether the state changed.
func (s *State) AddFailed(id models.RegionID) bool {
	if _, done := s.Completed[id.Key()]; done {
		return false
	}
	if _, already := s.Failed[id.Key()]; already {
		return false
	}
	s.Failed[id.Key()] = struct{}{}
	return true
}

func (s *State) IsValid(id models.RegionID) bool {
	_, ok := s.Valid[id.Key()]
	return ok
}

func (s *State) IsCompleted(id models.RegionID) bool {
	_, ok := s.Completed[id.Key()]
	return ok
}

func (s *State) IsFailed(id models.RegionID) bool {
	_, ok := s.Failed[id.Key()]
	return ok
}

// Pending returns valid regions that are not completed, in ascending order
func (s *State) Pending() []models.RegionID {
	var ids []models.RegionID
	for key := range s.Valid {
		if _, done := s.Completed[key]; done {
			continue
		}
		if id, err := models.ParseRegionID(key); err == nil {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// RetryCandidates returns failed regions that did not succeed in this run
func (s *State) RetryCandidates(succeeded map[models.RegionID]bool) []models.RegionID {
	var ids []models.RegionID
	for key := range s.Failed {
		id, err := models.ParseRegionID(key)
		if err != nil || succeeded[id] {
			continue
		}
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	c := &State{
		Version:   s.Version,
		Completed: make(map[string]struct{}, len(s.Completed)),
		Valid:     make(map[string]struct{}, len(s.Valid)),
		Failed:    make(map[string]struct{}, len(s.Failed)),
		LastRun:   s.LastRun,
	}
	for k := range s.Completed {
		c.Completed[k] = struct{}{}
	}
	for k := range s.Valid {
		c.Valid[k] = struct{}{}
	}
	for k := range s.Failed {
		c.Failed[k] = struct{}{}
	}
	return c
}

// MarshalJSON writes the versioned file layout with sorted ids
func (s *State) MarshalJSON() ([]byte, error) {
	f := fileState{
		Version:   SchemaVersion,
		Completed: sortedKeys(s.Completed),
		Valid:     sortedKeys(s.Valid),
		Failed:    sortedKeys(s.Failed),
	}
	if !s.LastRun.IsZero() {
		f.LastRun = s.LastRun.Format(time.RFC3339)
	}
	return json.Marshal(f)
}

// UnmarshalJSON reads the file layout. Unknown fields are ignored and a
// missing version is read as version 1.
func (s *State) UnmarshalJSON(data []byte) error {
	var f fileState
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Version > SchemaVersion {
		return fmt.Errorf("unsupported checkpoint version %d", f.Version)
	}

	fresh := NewState()
	for _, k := range f.Valid {
		fresh.Valid[k] = struct{}{}
	}
	for _, k := range f.Completed {
		fresh.Completed[k] = struct{}{}
	}
	for _, k := range f.Failed {
		if _, done := fresh.Completed[k]; !done {
			fresh.Failed[k] = struct{}{}
		}
	}
	if f.LastRun != "" {
		for _, layout := range lastRunLayouts {
			if t, err := time.ParseInLocation(layout, f.LastRun, time.Local); err == nil {
				fresh.LastRun = t
				break
			}
		}
	}

	*s = *fresh
	return nil
}

// Manager handles checkpoint file operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
	now            func() time.Time
}

// NewManager creates a checkpoint manager for the given file
func NewManager(path string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		checkpointPath: path,
		logger:         log.WithField("component", "checkpoint"),
		now:            time.Now,
	}
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Load reads the checkpoint. A missing, unreadable or corrupt file yields an
// empty state; corrupt files are preserved next to the original.
func (m *Manager) Load() *State {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.WithError(err).Warn("Failed to read checkpoint, starting fresh")
		}
		return NewState()
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		backup := m.backupCorrupt(data)
		m.logger.WithError(err).WarnWithFields("Checkpoint is corrupt, starting fresh", map[string]interface{}{
			"path":   m.checkpointPath,
			"backup": backup,
		})
		return NewState()
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"path":      m.checkpointPath,
		"valid":     len(state.Valid),
		"completed": len(state.Completed),
		"failed":    len(state.Failed),
		"last_run":  state.LastRun,
	})

	return state
}

// ReadState decodes the checkpoint at path without recovering from errors
// or touching the file system. Missing files yield an os.IsNotExist error.
func ReadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("checkpoint %s is corrupt: %w", path, err)
	}
	return state, nil
}

// Save writes the state atomically and updates its last run time
func (m *Manager) Save(state *State) error {
	state.LastRun = m.now()

	if dir := filepath.Dir(m.checkpointPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"completed": len(state.Completed),
		"valid":     len(state.Valid),
		"failed":    len(state.Failed),
	})

	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// ModTime returns when the checkpoint file was last written
func (m *Manager) ModTime() (time.Time, error) {
	info, err := os.Stat(m.checkpointPath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// backupCorrupt copies unreadable checkpoint bytes aside and returns the backup path
func (m *Manager) backupCorrupt(data []byte) string {
	backupPath := fmt.Sprintf("%s.corrupt-%d", m.checkpointPath, m.now().Unix())
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		m.logger.WithError(err).Warn("Failed to back up corrupt checkpoint")
		return ""
	}
	return backupPath
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

func sortIDs(ids []models.RegionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
