package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "daemon-settings.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Host, s.Host)
	assert.Equal(t, DefaultSettings().Port, s.Port)
}

func TestLoadReadsPersistedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-settings.json")
	require.NoError(t, Save(path, Settings{Host: "0.0.0.0", Port: 9999, LogLevel: "debug", OperationMode: "drain"}))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 9999, s.Port)
	assert.Equal(t, "drain", s.OperationMode)
}

func TestEnvOverridesFileAndUndoablePrefixWinsOverNRN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-settings.json")
	require.NoError(t, Save(path, Settings{Host: "file-host", Port: 1}))

	t.Setenv("NRN_HOST", "nrn-host")
	t.Setenv("NRN_PORT", "2")
	t.Setenv("UNDOABLE_DAEMON_HOST", "undoable-host")
	t.Setenv("UNDOABLE_DAEMON_PORT", "3")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "undoable-host", s.Host)
	assert.Equal(t, 3, s.Port)
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-settings.json")
	require.NoError(t, Save(path, DefaultSettings()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestDiffFlagsRestartRequiredOnPortChange(t *testing.T) {
	old := DefaultSettings()
	updated := old
	updated.Port = old.Port + 1
	updated.LogLevel = "debug"

	changed, restart := Diff(old, updated)
	assert.ElementsMatch(t, []string{"port", "logLevel"}, changed)
	assert.True(t, restart)
}

func TestDiffNoRestartOnLogLevelOnly(t *testing.T) {
	old := DefaultSettings()
	updated := old
	updated.LogLevel = "debug"

	changed, restart := Diff(old, updated)
	assert.Equal(t, []string{"logLevel"}, changed)
	assert.False(t, restart)
}
