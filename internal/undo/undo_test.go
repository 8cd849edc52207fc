package undo

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undoable/undoable/internal/actionlog"
)

func openLog(t *testing.T) *actionlog.Log {
	t.Helper()
	l, err := actionlog.Open(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestUndoRestoresOverwrittenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o644))

	log := openLog(t)
	id, err := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "file_write", Category: actionlog.CategoryMutate,
		Decision: actionlog.DecisionAutoApproved, Undoable: true,
		UndoData: &actionlog.UndoData{
			Kind: "file-write", Path: path, PreviousExisted: true,
			PreviousContent: base64.StdEncoding.EncodeToString([]byte("old")),
		},
	})
	require.NoError(t, err)
	require.NoError(t, log.Complete(id, actionlog.Result{Output: "ok"}))

	svc := New(log)
	outcomes, err := svc.Undo(context.Background(), Scope{RunID: "r1"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

func TestUndoRestoresPreviouslyEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("new content"), 0o644))

	log := openLog(t)
	id, err := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "file_write", Category: actionlog.CategoryMutate,
		Decision: actionlog.DecisionAutoApproved, Undoable: true,
		UndoData: &actionlog.UndoData{
			Kind: "file-write", Path: path, PreviousExisted: true,
			// The file existed but was empty: PreviousContent is a
			// legitimate empty string, not an unset field.
			PreviousContent: base64.StdEncoding.EncodeToString(nil),
		},
	})
	require.NoError(t, err)
	require.NoError(t, log.Complete(id, actionlog.Result{Output: "ok"}))

	svc := New(log)
	_, err = svc.Undo(context.Background(), Scope{RunID: "r1"})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(got), "undo must restore the empty prior content, not leave the new content in place")
}

func TestUndoDeletesCreatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "created.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	log := openLog(t)
	id, _ := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "file_write", Category: actionlog.CategoryMutate,
		Undoable: true,
		UndoData: &actionlog.UndoData{Kind: "file-write", Path: path, PreviousExisted: false},
	})
	require.NoError(t, log.Complete(id, actionlog.Result{}))

	svc := New(log)
	_, err := svc.Undo(context.Background(), Scope{RunID: "r1"})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUndoRejectsNetworkCategory(t *testing.T) {
	log := openLog(t)
	id, _ := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "http_get", Category: actionlog.CategoryNetwork,
		Undoable: true, UndoData: &actionlog.UndoData{Kind: "network"},
	})
	require.NoError(t, log.Complete(id, actionlog.Result{}))

	svc := New(log)
	outcomes, err := svc.Undo(context.Background(), Scope{RunID: "r1"})
	require.Error(t, err)
	require.Len(t, outcomes, 1)
	assert.Contains(t, outcomes[0].Error, "not undoable")
}

func TestUndoSkipsNonUndoableEntries(t *testing.T) {
	log := openLog(t)
	id, _ := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "read_file", Category: actionlog.CategoryRead, Undoable: false,
	})
	require.NoError(t, log.Complete(id, actionlog.Result{Output: "contents"}))

	svc := New(log)
	outcomes, err := svc.Undo(context.Background(), Scope{RunID: "r1"})
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestUndoHaltsOnFirstErrorAndRecordsPartialSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.txt")
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o644))

	log := openLog(t)
	id1, _ := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "file_write", Category: actionlog.CategoryMutate, Undoable: true,
		UndoData: &actionlog.UndoData{Kind: "file-write", Path: path, PreviousExisted: true, PreviousContent: base64.StdEncoding.EncodeToString([]byte("old"))},
	})
	log.Complete(id1, actionlog.Result{})

	id2, _ := log.Record(actionlog.Spec{
		RunID: "r1", ToolName: "http_post", Category: actionlog.CategoryNetwork, Undoable: true,
		UndoData: &actionlog.UndoData{Kind: "network"},
	})
	log.Complete(id2, actionlog.Result{})

	svc := New(log)
	outcomes, err := svc.Undo(context.Background(), Scope{RunID: "r1"})
	require.Error(t, err, "reverse-chronological order means the network entry is hit first")
	require.Len(t, outcomes, 1)

	got, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(got), "the earlier file-write entry must not have been reversed")
}
