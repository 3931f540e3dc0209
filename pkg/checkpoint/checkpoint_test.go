package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"landscraper/pkg/logger"
	"landscraper/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	return NewManager(filepath.Join(t.TempDir(), "extraction_state.json"), log), log
}

func TestLoadMissingFile(t *testing.T) {
	mgr, _ := newTestManager(t)

	state := mgr.Load()
	require.NotNil(t, state)
	assert.Empty(t, state.Valid)
	assert.Empty(t, state.Completed)
	assert.Empty(t, state.Failed)
	assert.False(t, mgr.Exists())
}

func TestSaveAndLoad(t *testing.T) {
	mgr, _ := newTestManager(t)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mgr.now = func() time.Time { return fixed }

	state := NewState()
	state.AddValid(10)
	state.AddValid(2)
	state.AddValid(4)
	state.AddCompleted(2)
	state.AddFailed(4)
	require.NoError(t, mgr.Save(state))

	raw, err := os.ReadFile(mgr.Path())
	require.NoError(t, err)

	var onDisk map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, float64(1), onDisk["version"])
	assert.Equal(t, []interface{}{"2", "4", "10"}, onDisk["valid"])
	assert.Equal(t, []interface{}{"2"}, onDisk["completed"])
	assert.Equal(t, []interface{}{"4"}, onDisk["failed"])
	assert.Equal(t, "2025-01-02T03:04:05Z", onDisk["last_run"])

	loaded := mgr.Load()
	assert.True(t, loaded.IsValid(10))
	assert.True(t, loaded.IsCompleted(2))
	assert.True(t, loaded.IsFailed(4))
	assert.True(t, fixed.Equal(loaded.LastRun))
	assert.Equal(t, []models.RegionID{4, 10}, loaded.Pending())

	_, err = os.Stat(mgr.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must not survive a save")
}

func TestLoadCorruptFile(t *testing.T) {
	mgr, log := newTestManager(t)
	mgr.now = func() time.Time { return time.Unix(1700000000, 0) }
	require.NoError(t, os.WriteFile(mgr.Path(), []byte("{not json"), 0644))

	state := mgr.Load()
	require.NotNil(t, state)
	assert.Empty(t, state.Valid)

	backup := mgr.Path() + ".corrupt-1700000000"
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
	assert.True(t, log.HasMessage("Checkpoint is corrupt, starting fresh"))
	assert.Len(t, log.GetMessagesByLevel("WARN"), 1)
}

func TestLoadToleratesLegacyAndUnknownFields(t *testing.T) {
	mgr, _ := newTestManager(t)
	legacy := `{
	  "completed": ["3"],
	  "valid": ["3", "7"],
	  "failed": ["3", "9"],
	  "last_run": "2024-11-05T10:22:33.123456",
	  "notes": "ignored"
	}`
	require.NoError(t, os.WriteFile(mgr.Path(), []byte(legacy), 0644))

	state := mgr.Load()
	assert.Equal(t, SchemaVersion, state.Version)
	assert.True(t, state.IsCompleted(3))
	assert.False(t, state.IsFailed(3), "completed ids are dropped from failed")
	assert.True(t, state.IsFailed(9))
	assert.Equal(t, 2024, state.LastRun.Year())
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, os.WriteFile(mgr.Path(), []byte(`{"version": 99}`), 0644))

	state := mgr.Load()
	assert.Empty(t, state.Valid)
	matches, err := filepath.Glob(mgr.Path() + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestReadStateIsReadOnly(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := ReadState(mgr.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(mgr.Path(), []byte("{not json"), 0644))
	_, err = ReadState(mgr.Path())
	assert.ErrorContains(t, err, "corrupt")
	matches, _ := filepath.Glob(mgr.Path() + ".corrupt-*")
	assert.Empty(t, matches, "no backup is written")

	seed := NewState()
	seed.AddValid(6)
	require.NoError(t, mgr.Save(seed))
	state, err := ReadState(mgr.Path())
	require.NoError(t, err)
	assert.True(t, state.IsValid(6))
}

func TestStateInvariants(t *testing.T) {
	state := NewState()

	state.AddValid(5)
	state.AddValid(5)
	assert.Len(t, state.Valid, 1)

	assert.True(t, state.AddFailed(5))
	assert.False(t, state.AddFailed(5))

	state.AddCompleted(5)
	assert.True(t, state.IsCompleted(5))
	assert.False(t, state.IsFailed(5), "completing clears failure")

	assert.False(t, state.AddFailed(5), "completed regions are never failed")
	assert.False(t, state.IsFailed(5))
}

func TestRetryCandidates(t *testing.T) {
	state := NewState()
	state.AddFailed(8)
	state.AddFailed(3)
	state.AddFailed(5)

	assert.Equal(t, []models.RegionID{3, 5, 8}, state.RetryCandidates(nil))
	assert.Equal(t, []models.RegionID{3, 8}, state.RetryCandidates(map[models.RegionID]bool{5: true}))
}

func TestStorePersistsEveryMutation(t *testing.T) {
	mgr, _ := newTestManager(t)
	store := Open(mgr, logger.NewNopLogger())

	store.MarkValid(2)
	assert.True(t, NewManager(mgr.Path(), logger.NewNopLogger()).Load().IsValid(2))

	store.MarkFailed(2)
	assert.True(t, NewManager(mgr.Path(), logger.NewNopLogger()).Load().IsFailed(2))

	store.MarkCompleted(2)
	reloaded := NewManager(mgr.Path(), logger.NewNopLogger()).Load()
	assert.True(t, reloaded.IsCompleted(2))
	assert.False(t, reloaded.IsFailed(2))

	summary := store.Summary()
	assert.Equal(t, 1, summary.Valid)
	assert.Equal(t, 1, summary.Completed)
	assert.Empty(t, summary.Pending)
}

func TestStoreConcurrentMutations(t *testing.T) {
	mgr, _ := newTestManager(t)
	store := Open(mgr, logger.NewNopLogger())

	for i := 1; i <= 40; i++ {
		store.MarkValid(models.RegionID(i))
	}

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(id models.RegionID) {
			defer wg.Done()
			if id%4 == 0 {
				store.MarkFailed(id)
			} else {
				store.MarkCompleted(id)
			}
		}(models.RegionID(i))
	}
	wg.Wait()

	reloaded := NewManager(mgr.Path(), logger.NewNopLogger()).Load()
	assert.Len(t, reloaded.Completed, 30)
	assert.Len(t, reloaded.Failed, 10)
	assert.Len(t, reloaded.Pending(), 10)
}

func TestStoreSaveFailureIsLogged(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	log := logger.NewTestLogger()
	mgr := NewManager(filepath.Join(blocker, "state.json"), log)
	store := Open(mgr, log)

	store.MarkValid(1)

	assert.True(t, store.IsValid(1), "in-memory state survives save failure")
	assert.True(t, log.HasMessage("Failed to persist checkpoint"))
}

func TestSnapshotIsDetached(t *testing.T) {
	mgr, _ := newTestManager(t)
	store := Open(mgr, logger.NewNopLogger())
	store.MarkValid(1)

	snap := store.Snapshot()
	snap.AddValid(99)

	assert.False(t, store.IsValid(99))
}
