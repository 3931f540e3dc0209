package checkpoint

import (
	"sync"
	"time"

	"landscraper/pkg/logger"
	"landscraper/pkg/models"
)

// Summary is a point-in-time view of the store
type Summary struct {
	Valid     int
	Completed int
	Failed    int
	Pending   []models.RegionID
	FailedIDs []models.RegionID
	LastRun   time.Time
}

// Store is a goroutine-safe checkpoint. Every mutation is written to disk
// before the call returns.
type Store struct {
	mu      sync.Mutex
	state   *State
	manager *Manager
	logger  logger.Logger
}

// Open loads the checkpoint behind manager into a store
func Open(manager *Manager, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		state:   manager.Load(),
		manager: manager,
		logger:  log.WithField("component", "checkpoint"),
	}
}

// MarkValid records a validated region and persists it
func (s *Store) MarkValid(id models.RegionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsValid(id) {
		return
	}
	s.state.AddValid(id)
	s.persist("valid", id)
}

// MarkCompleted records a downloaded region and persists it
func (s *Store) MarkCompleted(id models.RegionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsCompleted(id) {
		return
	}
	s.state.AddCompleted(id)
	s.persist("completed", id)
}

// MarkFailed records a failed download and persists it.
// It is a no-op for completed regions.
func (s *Store) MarkFailed(id models.RegionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.AddFailed(id) {
		return
	}
	s.persist("failed", id)
}

// persist must be called with s.mu held. Save errors are logged only; the
// in-memory state stays authoritative for the rest of the run.
func (s *Store) persist(status string, id models.RegionID) {
	if err := s.manager.Save(s.state); err != nil {
		s.logger.WithError(err).ErrorWithFields("Failed to persist checkpoint", map[string]interface{}{
			"region": id.Key(),
			"status": status,
		})
	}
}

func (s *Store) IsValid(id models.RegionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsValid(id)
}

func (s *Store) IsCompleted(id models.RegionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsCompleted(id)
}

// Pending returns valid, not yet completed regions in ascending order
func (s *Store) Pending() []models.RegionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Pending()
}

// RetryCandidates returns failed regions that did not succeed this run
func (s *Store) RetryCandidates(succeeded map[models.RegionID]bool) []models.RegionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RetryCandidates(succeeded)
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Summary returns counts and id lists for reporting
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summarize(s.state)
}

// Summarize builds a Summary from a detached state
func Summarize(state *State) Summary {
	return summarize(state)
}

func summarize(state *State) Summary {
	return Summary{
		Valid:     len(state.Valid),
		Completed: len(state.Completed),
		Failed:    len(state.Failed),
		Pending:   state.Pending(),
		FailedIDs: state.RetryCandidates(nil),
		LastRun:   state.LastRun,
	}
}
