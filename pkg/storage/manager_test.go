package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRequiresPlaceholder(t *testing.T) {
	_, err := NewManager(t.TempDir(), "fixed.json")
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "region_{id}_full_data.json")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "region_12_full_data.json"), m.ArtifactPath(12))
	assert.Equal(t, filepath.Join(dir, "region_12_full_data.json.partial"), m.ScratchPath(12))
	assert.Equal(t, dir, m.GetOutputDir())
}

func TestWritePretty(t *testing.T) {
	m, err := NewManager(t.TempDir(), "r{id}.json")
	require.NoError(t, err)

	require.NoError(t, m.WriteScratch(5, []byte(`{"type":"FeatureCollection","features":[{"id":12345678901234567}]}`)))
	path, err := m.WritePretty(5, []byte(`{"type":"FeatureCollection","features":[{"id":12345678901234567}]}`))
	require.NoError(t, err)
	m.DiscardScratch(5)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := "{\n    \"type\": \"FeatureCollection\",\n    \"features\": [\n        {\n            \"id\": 12345678901234567\n        }\n    ]\n}\n"
	assert.Equal(t, expected, string(data))
	assert.True(t, m.Exists(5))

	_, err = os.Stat(m.ScratchPath(5))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWritePrettyRejectsInvalidJSON(t *testing.T) {
	m, err := NewManager(t.TempDir(), "r{id}.json")
	require.NoError(t, err)

	_, err = m.WritePretty(1, []byte("<html>"))
	assert.Error(t, err)
	assert.False(t, m.Exists(1))
}

func TestPromoteScratch(t *testing.T) {
	m, err := NewManager(t.TempDir(), "r{id}.json")
	require.NoError(t, err)

	require.NoError(t, m.WriteScratch(3, []byte("not json at all")))
	assert.False(t, m.Exists(3), "scratch data is not an artifact")

	path, err := m.PromoteScratch(3)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not json at all", string(data))
	_, err = os.Stat(m.ScratchPath(3))
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteMissingScratch(t *testing.T) {
	m, err := NewManager(t.TempDir(), "r{id}.json")
	require.NoError(t, err)

	_, err = m.PromoteScratch(8)
	assert.Error(t, err)
}

func TestCleanLeftovers(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "r{id}.json")
	require.NoError(t, err)

	require.NoError(t, m.WriteScratch(1, []byte("a")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r2.json.tmp"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r3.json"), []byte("{}"), 0644))

	removed, err := m.CleanLeftovers()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, m.Exists(3))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	m, err := NewManager(dir, "r{id}.json")
	require.NoError(t, err)

	require.NoError(t, m.EnsureDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	m, err := NewManager(filepath.Join(blocker, "data"), "r{id}.json")
	require.NoError(t, err)
	assert.Error(t, m.EnsureDir())

	// writes fail too, scoped to the region being written
	assert.Error(t, m.WriteScratch(1, []byte("{}")))
}

func TestWriteCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "late")
	m, err := NewManager(dir, "r{id}.json")
	require.NoError(t, err)

	path, err := m.WritePretty(3, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "r3.json"), path)
}
