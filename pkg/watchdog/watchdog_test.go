package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"landscraper/pkg/config"
	"landscraper/pkg/logger"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeTable struct {
	pids    []int
	err     error
	pattern string
}

func (f *fakeTable) Find(pattern string) ([]int, error) {
	f.pattern = pattern
	return f.pids, f.err
}

type fakeLauncher struct {
	calls int
	err   error
}

func (f *fakeLauncher) Launch() (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 9000 + f.calls, nil
}

type fixture struct {
	dir      string
	cfg      *config.Config
	table    *fakeTable
	launcher *fakeLauncher
	alive    map[int]bool
	log      *logger.TestLogger
	wd       *Watchdog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	cfg.State.LockFile = filepath.Join(dir, "landscraper.lock")
	cfg.State.CheckpointFile = filepath.Join(dir, "extraction_state.json")
	require.NoError(t, os.MkdirAll(cfg.Logging.Dir, 0755))

	f := &fixture{
		dir:      dir,
		cfg:      cfg,
		table:    &fakeTable{},
		launcher: &fakeLauncher{},
		alive:    map[int]bool{},
		log:      logger.NewTestLogger(),
	}
	f.wd = New(cfg, Options{
		Processes: f.table,
		Alive:     func(pid int) bool { return f.alive[pid] },
		Launcher:  f.launcher,
		Now:       func() time.Time { return testNow },
	}, f.log)
	return f
}

func (f *fixture) writeMarker(t *testing.T, pid int, age time.Duration) {
	t.Helper()
	content := fmt.Sprintf(`{"pid":%d,"acquired_at":"%s"}`, pid, testNow.Add(-age).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(f.cfg.State.LockFile, []byte(content), 0644))
}

func (f *fixture) markerExists() bool {
	_, err := os.Stat(f.cfg.State.LockFile)
	return err == nil
}

func jsonLine(at time.Time, level, msg string) string {
	return fmt.Sprintf(`{"level":"%s","app":"landscraper","time":"%s","message":"%s"}`+"\n", level, at.Format(time.RFC3339), msg)
}

func (f *fixture) writeRunLog(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(f.cfg.Logging.Dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0644))
	return path
}

func (f *fixture) completedLog(t *testing.T) {
	f.writeRunLog(t, "extraction_20260601_090000.log",
		jsonLine(testNow.Add(-3*time.Hour), "info", "Starting region extraction"),
		jsonLine(testNow.Add(-2*time.Hour), "info", "Data extraction completed"),
		jsonLine(testNow.Add(-2*time.Hour), "info", "Total regions processed: 12"),
	)
}

func (f *fixture) checkpointAged(t *testing.T, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.cfg.State.CheckpointFile, []byte(`{"version":1}`), 0644))
	mtime := testNow.Add(-age)
	require.NoError(t, os.Chtimes(f.cfg.State.CheckpointFile, mtime, mtime))
}

func TestRunningProcessMeansHealthy(t *testing.T) {
	f := newFixture(t)
	f.table.pids = []int{77}
	f.writeMarker(t, 5, 20*time.Hour)

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.False(t, restart)
	assert.Equal(t, StepProcess, d.Step)
	assert.Equal(t, "landscraper run", f.table.pattern)
	assert.True(t, f.markerExists(), "marker untouched while a process runs")
}

func TestLiveMarkerOwner(t *testing.T) {
	f := newFixture(t)
	f.writeMarker(t, 55, 20*time.Hour)
	f.alive[55] = true

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.False(t, restart)
	assert.Equal(t, StepMarker, d.Step)
	assert.True(t, f.markerExists())
}

func TestStaleMarkerRestart(t *testing.T) {
	f := newFixture(t)
	f.writeMarker(t, 4321, 13*time.Hour)
	f.completedLog(t)

	d, err := f.wd.Check(context.Background())
	require.NoError(t, err)

	assert.True(t, d.Restart)
	assert.Equal(t, StepStaleMarker, d.Step)
	assert.False(t, f.markerExists(), "stale marker is removed")
	assert.Equal(t, 1, f.launcher.calls)
	assert.True(t, f.log.HasMessage("Found stale run marker"))
	assert.True(t, f.log.HasMessage("Started orchestrator with PID 9001"))
}

func TestLegacyStaleMarker(t *testing.T) {
	f := newFixture(t)
	legacy := fmt.Sprintf("4321,%d.5", testNow.Add(-13*time.Hour).Unix())
	require.NoError(t, os.WriteFile(f.cfg.State.LockFile, []byte(legacy), 0644))

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.True(t, restart)
	assert.Equal(t, StepStaleMarker, d.Step)
}

func TestRecentlyEndedMarkerFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.writeMarker(t, 4321, 2*time.Hour)
	f.completedLog(t)
	f.checkpointAged(t, time.Hour)

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.False(t, restart)
	assert.Equal(t, StepNone, d.Step)
	assert.True(t, f.markerExists())
	assert.True(t, f.log.HasMessage("Run marker exists but process recently ended"))
}

func TestEvaluateLeavesMarker(t *testing.T) {
	f := newFixture(t)
	f.writeMarker(t, 4321, 13*time.Hour)

	d := f.wd.Evaluate(context.Background())

	assert.True(t, d.Restart)
	assert.True(t, f.markerExists())
	assert.Zero(t, f.launcher.calls)
}

func TestLogVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		restart bool
		status  LogStatus
	}{
		{
			name: "completed",
			lines: []string{
				jsonLine(testNow.Add(-5*time.Hour), "info", "Data extraction completed"),
				jsonLine(testNow.Add(-5*time.Hour), "info", "Total regions processed: 3"),
			},
			restart: false,
		},
		{
			name: "fatal log event",
			lines: []string{
				jsonLine(testNow.Add(-time.Minute), "info", "Fetching full region data"),
				jsonLine(testNow.Add(-time.Minute), "fatal", "Orchestrator crashed"),
			},
			restart: true,
			status:  LogCrashed,
		},
		{
			name: "runtime panic",
			lines: []string{
				jsonLine(testNow.Add(-time.Minute), "info", "Fetching full region data"),
				"panic: runtime error: index out of range\n\ngoroutine 7 [running]:\n",
			},
			restart: true,
			status:  LogCrashed,
		},
		{
			name: "killed",
			lines: []string{
				jsonLine(testNow.Add(-time.Minute), "info", "Fetching full region data"),
				"Killed\n",
			},
			restart: true,
			status:  LogCrashed,
		},
		{
			name: "stalled",
			lines: []string{
				jsonLine(testNow.Add(-3*time.Hour), "info", "Starting region extraction"),
				jsonLine(testNow.Add(-2*time.Hour), "info", "Progress"),
			},
			restart: true,
			status:  LogStalled,
		},
		{
			name: "stalled plain text log",
			lines: []string{
				testNow.Add(-2*time.Hour).Local().Format("2006-01-02 15:04:05") + ",123 - INFO - Checking district 9\n",
			},
			restart: true,
			status:  LogStalled,
		},
		{
			name: "in progress",
			lines: []string{
				jsonLine(testNow.Add(-3*time.Hour), "info", "Starting region extraction"),
				jsonLine(testNow.Add(-10*time.Minute), "info", "Progress"),
			},
			restart: false,
		},
		{
			name:    "no timestamps",
			lines:   []string{"starting up\n"},
			restart: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.writeRunLog(t, "extraction_20260601_110000.log", tt.lines...)
			f.checkpointAged(t, time.Hour)

			restart, d := f.wd.ShouldRestart(context.Background())

			assert.Equal(t, tt.restart, restart)
			if tt.restart {
				assert.Equal(t, StepLog, d.Step)
				require.NotNil(t, d.Log)
				assert.Equal(t, tt.status, d.Log.Status)
			}
		})
	}
}

func TestNoLogsRestarts(t *testing.T) {
	f := newFixture(t)

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.True(t, restart)
	assert.Equal(t, StepLog, d.Step)
	assert.Equal(t, LogMissing, d.Log.Status)
}

func TestOnlyNewestLogIsInspected(t *testing.T) {
	f := newFixture(t)
	f.writeRunLog(t, "extraction_20260530_080000.log", "panic: old crash\n")
	f.completedLog(t)
	f.checkpointAged(t, time.Hour)

	restart, _ := f.wd.ShouldRestart(context.Background())
	assert.False(t, restart)
}

func TestStaleCheckpointRestarts(t *testing.T) {
	f := newFixture(t)
	f.completedLog(t)
	f.checkpointAged(t, 25*time.Hour)

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.True(t, restart)
	assert.Equal(t, StepState, d.Step)
}

func TestCrashInStdioLog(t *testing.T) {
	f := newFixture(t)
	f.writeRunLog(t, "extraction_20260601_115000.log",
		jsonLine(testNow.Add(-5*time.Minute), "info", "Fetching full region data"),
	)
	f.checkpointAged(t, time.Hour)

	stdio := "2026-05-30T10:00:00Z launching /usr/bin/landscraper run\nfatal error: old crash\n" +
		"2026-06-01T11:50:00Z launching /usr/bin/landscraper run\nfatal error: concurrent map writes\n"
	require.NoError(t, os.WriteFile(f.wd.StdioPath(), []byte(stdio), 0644))

	restart, d := f.wd.ShouldRestart(context.Background())

	assert.True(t, restart)
	require.NotNil(t, d.Log)
	assert.Equal(t, LogCrashed, d.Log.Status)
	assert.Equal(t, f.wd.StdioPath(), d.Log.Path)
}

func TestOldStdioCrashIgnored(t *testing.T) {
	f := newFixture(t)
	stdio := "2026-05-30T10:00:00Z launching /usr/bin/landscraper run\nfatal error: old crash\n" +
		"2026-06-01T11:50:00Z launching /usr/bin/landscraper run\n"
	require.NoError(t, os.WriteFile(f.wd.StdioPath(), []byte(stdio), 0644))
	f.writeRunLog(t, "extraction_20260601_115000.log",
		jsonLine(testNow.Add(-5*time.Minute), "info", "Fetching full region data"),
	)
	f.checkpointAged(t, time.Hour)

	restart, _ := f.wd.ShouldRestart(context.Background())
	assert.False(t, restart, "only output of the latest launch counts")
}

func TestLaunchFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = errors.New("exec format error")

	d, err := f.wd.Check(context.Background())

	assert.True(t, d.Restart)
	assert.Error(t, err)
	assert.True(t, f.log.HasMessage("Failed to start orchestrator"))
}

func TestStartWithoutLauncher(t *testing.T) {
	wd := New(config.DefaultConfig(), Options{Processes: &fakeTable{}}, logger.NewNopLogger())
	_, err := wd.Start()
	assert.Error(t, err)
}

func TestProcessTableFind(t *testing.T) {
	root := t.TempDir()
	write := func(pid, cmdline string) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, pid), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, pid, "cmdline"), []byte(cmdline), 0644))
	}
	write("101", "/usr/local/bin/landscraper\x00run\x00--config\x00/etc/ls.yaml\x00")
	write("102", "/usr/local/bin/landscraper\x00watchdog\x00")
	write("103", "")
	write("104", "/usr/bin/landscraper\x00--config\x00x.yaml\x00run\x00")
	write("105", "/usr/bin/landscraper\x00status\x00--state-file\x00run.json\x00")
	write("106", "grep\x00landscraper run\x00")
	write("200", "/usr/local/bin/landscraper\x00run\x00")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "self"), 0755))

	table := &procTable{root: root, self: 200}
	pids, err := table.Find("landscraper run")

	require.NoError(t, err)
	assert.Equal(t, []int{101, 104}, pids, "flags may sit between the binary and the subcommand")

	pids, err = table.Find("  ")
	require.NoError(t, err)
	assert.Empty(t, pids)
}

func TestMatchArgs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		words []string
		want  bool
	}{
		{"adjacent", []string{"landscraper", "run"}, []string{"landscraper", "run"}, true},
		{"global flag first", []string{"./landscraper", "--config", "c.yaml", "run"}, []string{"landscraper", "run"}, true},
		{"go run", []string{"go", "run", "./cmd/landscraper", "run"}, []string{"landscraper", "run"}, true},
		{"other subcommand", []string{"landscraper", "watchdog"}, []string{"landscraper", "run"}, false},
		{"wrong order", []string{"run", "landscraper"}, []string{"landscraper", "run"}, false},
		{"substring only", []string{"landscraper-old", "runner"}, []string{"landscraper", "run"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchArgs(tt.args, tt.words))
		})
	}
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
