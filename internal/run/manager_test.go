package run

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/undoable/undoable/internal/eventbus"
)

func TestCreateAndTransition(t *testing.T) {
	bus := eventbus.New()
	m, err := New(bus, BackendOff, "")
	require.NoError(t, err)

	r, err := m.Create(Spec{Instruction: "do the thing"})
	require.NoError(t, err)
	require.Equal(t, StatusCreated, r.Status)

	r, err = m.UpdateStatus(r.ID, StatusPlanning, "system")
	require.NoError(t, err)
	require.Equal(t, StatusPlanning, r.Status)

	_, err = m.UpdateStatus(r.ID, StatusApplied, "system")
	require.Error(t, err, "created->applied is not a legal edge")
}

func TestTerminalRunRejectsTransitions(t *testing.T) {
	bus := eventbus.New()
	m, err := New(bus, BackendOff, "")
	require.NoError(t, err)

	r, _ := m.Create(Spec{Instruction: "x"})
	m.UpdateStatus(r.ID, StatusPlanning, "s")
	m.UpdateStatus(r.ID, StatusFailed, "s")

	_, err = m.UpdateStatus(r.ID, StatusPlanning, "s")
	require.Error(t, err)
}

func TestPauseResume(t *testing.T) {
	bus := eventbus.New()
	m, err := New(bus, BackendOff, "")
	require.NoError(t, err)

	r, _ := m.Create(Spec{Instruction: "x"})
	m.UpdateStatus(r.ID, StatusPlanning, "s")

	r, err = m.UpdateStatus(r.ID, StatusPaused, "s")
	require.NoError(t, err)
	require.Equal(t, StatusPaused, r.Status)
	require.Equal(t, StatusPlanning, r.PausedFrom)

	r, err = m.UpdateStatus(r.ID, StatusPlanning, "s")
	require.NoError(t, err)
	require.Equal(t, StatusPlanning, r.Status)
}

func TestDeleteRequiresTerminal(t *testing.T) {
	bus := eventbus.New()
	m, err := New(bus, BackendOff, "")
	require.NoError(t, err)

	r, _ := m.Create(Spec{Instruction: "x"})
	require.Error(t, m.Delete(r.ID))

	m.UpdateStatus(r.ID, StatusCancelled, "s")
	require.NoError(t, m.Delete(r.ID))

	_, err = m.GetByID(r.ID)
	require.Error(t, err)
}

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")

	bus := eventbus.New()
	m, err := New(bus, BackendFile, path)
	require.NoError(t, err)
	r, err := m.Create(Spec{Instruction: "persisted"})
	require.NoError(t, err)
	m.UpdateStatus(r.ID, StatusPlanning, "s")
	require.NoError(t, m.Close())

	m2, err := New(bus, BackendFile, path)
	require.NoError(t, err)
	defer m2.Close()

	got, err := m2.GetByID(r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPlanning, got.Status)
}

func TestListByJobID(t *testing.T) {
	bus := eventbus.New()
	m, err := New(bus, BackendOff, "")
	require.NoError(t, err)

	r1, _ := m.Create(Spec{Instruction: "a", JobID: "job-1"})
	m.Create(Spec{Instruction: "b", JobID: "job-2"})

	got := m.ListByJobID("job-1")
	require.Len(t, got, 1)
	require.Equal(t, r1.ID, got[0].ID)
}
