package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	state := &State{
		RunID:          "run-1",
		Status:         "shadowing",
		Phase:          PhasePostStep,
		CompletedSteps: []string{"s1"},
		StepResults: map[string]StepResult{
			"s1": {StepID: "s1", ToolName: "write_file", Success: true},
		},
	}
	require.NoError(t, store.Save(state))
	require.True(t, store.Exists("run-1"))

	loaded, err := store.Load("run-1")
	require.NoError(t, err)
	require.Equal(t, state.Status, loaded.Status)
	require.Equal(t, state.Phase, loaded.Phase)
	require.Equal(t, []string{"s1"}, loaded.CompletedSteps)

	require.NoError(t, store.Remove("run-1"))
	require.False(t, store.Exists("run-1"))
}

func TestLoadMissingReturnsError(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Load("nope")
	require.Error(t, err)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.Save(&State{RunID: "run-2", Status: "planning"}))

	// No temp files should remain after a successful save.
	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestListAll(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.Save(&State{RunID: "a", Status: "planning"}))
	require.NoError(t, store.Save(&State{RunID: "b", Status: "applied"}))

	states, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, states, 2)
}
