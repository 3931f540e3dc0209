package guard

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "landscraper/pkg/errors"
	"landscraper/pkg/logger"
)

func TestAcquireWritesMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landscraper.lock")
	acquired := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	g := New(path, "run-1", logger.NewNopLogger())
	g.now = func() time.Time { return acquired }
	g.pid = func() int { return 4242 }

	require.NoError(t, g.Acquire())

	m, err := ReadMarker(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, m.PID)
	assert.Equal(t, "run-1", m.RunID)
	assert.True(t, m.AcquiredAt.Equal(acquired))
	assert.Equal(t, 2*time.Hour, m.Age(acquired.Add(2*time.Hour)))
}

func TestAcquireOverwritesExistingMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landscraper.lock")
	require.NoError(t, os.WriteFile(path, []byte("999,1700000000.5"), 0644))

	g := New(path, "run-2", logger.NewNopLogger())
	require.NoError(t, g.Acquire())

	m, err := ReadMarker(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), m.PID)
}

func TestAcquireFailureIsLogged(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	log := logger.NewTestLogger()
	g := New(filepath.Join(blocker, "landscraper.lock"), "run", log)

	assert.Error(t, g.Acquire())
	assert.True(t, log.HasMessage("Failed to create run marker, continuing without exclusion"))

	// Nothing to release
	g.Release()
	assert.False(t, log.HasMessage("Removed run marker on exit"))
}

func TestReleaseRunsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landscraper.lock")
	log := logger.NewTestLogger()
	g := New(path, "run", log)
	require.NoError(t, g.Acquire())

	g.Release()
	_, err := ReadMarker(path)
	assert.ErrorIs(t, err, errs.ErrNoMarker)

	// A marker written by a later run survives a second release
	require.NoError(t, os.WriteFile(path, []byte(`{"pid":7,"acquired_at":"2026-01-01T00:00:00Z"}`), 0644))
	g.Release()
	_, err = ReadMarker(path)
	assert.NoError(t, err)
	assert.Len(t, log.GetMessages(), 2)
}

func TestReadMarker(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		at      time.Time
		err     error
	}{
		{
			name:    "json",
			content: `{"pid":12,"acquired_at":"2026-05-01T08:30:00Z","run_id":"abc","host":"box","extra":true}`,
			pid:     12,
			at:      time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			name:    "legacy text",
			content: "3141,1700000000.25\n",
			pid:     3141,
			at:      time.Unix(1700000000, 250000000).UTC(),
		},
		{name: "garbage", content: "not a marker", err: errs.ErrMalformedMarker},
		{name: "empty", content: "", err: errs.ErrMalformedMarker},
		{name: "bad pid", content: "abc,1700000000", err: errs.ErrMalformedMarker},
		{name: "json without pid", content: `{"acquired_at":"2026-05-01T08:30:00Z"}`, err: errs.ErrMalformedMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lock")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			m, err := ReadMarker(path)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pid, m.PID)
			assert.True(t, tt.at.Equal(m.AcquiredAt), "got %s", m.AcquiredAt)
		})
	}
}

func TestReadMissingMarker(t *testing.T) {
	_, err := ReadMarker(filepath.Join(t.TempDir(), "absent.lock"))
	assert.ErrorIs(t, err, errs.ErrNoMarker)
	assert.NoError(t, RemoveMarker(filepath.Join(t.TempDir(), "absent.lock")))
}

func TestWithSignals(t *testing.T) {
	log := logger.NewTestLogger()
	ctx, cancel := WithSignals(context.Background(), log)
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by SIGTERM")
	}

	require.Eventually(t, func() bool {
		return log.HasMessage("Received signal, shutting down gracefully")
	}, time.Second, 10*time.Millisecond)
	msg, _ := log.Find("Received signal, shutting down gracefully")
	assert.Equal(t, "terminated", msg.Fields["signal"])
}

func TestWithSignalsParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := WithSignals(parent, logger.NewNopLogger())
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation not propagated")
	}
}
