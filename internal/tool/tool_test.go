package tool

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

func TestRegistryRegisterGetList(t *testing.T) {
	r := NewRegistry()
	fw := &FileWrite{WorkingDir: t.TempDir()}

	require.NoError(t, r.Register(fw))
	require.Error(t, r.Register(fw), "duplicate name must fail")

	got, ok := r.Get("file_write")
	require.True(t, ok)
	assert.Equal(t, fw, got)

	assert.Len(t, r.List(), 1)
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Command{})
	require.NoError(t, err, "execute_command has a name")

	r2 := NewRegistry()
	require.Error(t, r2.Register(&nameless{}))
}

type nameless struct{}

func (nameless) Name() string                    { return "" }
func (nameless) Category() actionlog.Category     { return actionlog.CategoryRead }
func (nameless) Reversible() bool                 { return false }
func (nameless) Call(context.Context, map[string]any) (any, *actionlog.UndoData, error) {
	return nil, nil, nil
}

func TestFileWriteCreatesAndUndoesNewFile(t *testing.T) {
	dir := t.TempDir()
	fw := &FileWrite{WorkingDir: dir}

	_, undo, err := fw.Call(context.Background(), map[string]any{
		"path":    "notes/a.txt",
		"content": "hello",
	})
	require.NoError(t, err)
	require.NotNil(t, undo)
	assert.False(t, undo.PreviousExisted)
	assert.Equal(t, "file-write", undo.Kind)

	got, err := os.ReadFile(filepath.Join(dir, "notes/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestFileWriteCapturesPriorContentForOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	fw := &FileWrite{WorkingDir: dir}
	_, undo, err := fw.Call(context.Background(), map[string]any{
		"path":    "existing.txt",
		"content": "new",
	})
	require.NoError(t, err)
	require.True(t, undo.PreviousExisted)

	decoded, err := base64.StdEncoding.DecodeString(undo.PreviousContent)
	require.NoError(t, err)
	assert.Equal(t, "old", string(decoded))
}

func TestFileWriteStagesUnderContextDirWithoutTouchingWorkingDir(t *testing.T) {
	workDir := t.TempDir()
	stagingDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "existing.txt"), []byte("old"), 0o644))

	fw := &FileWrite{WorkingDir: workDir}
	ctx := WithStagingDir(context.Background(), stagingDir)
	_, undo, err := fw.Call(ctx, map[string]any{
		"path":    "existing.txt",
		"content": "new",
	})
	require.NoError(t, err)

	// The real file is untouched; the new content only exists in staging.
	got, err := os.ReadFile(filepath.Join(workDir, "existing.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	staged, err := os.ReadFile(filepath.Join(stagingDir, "existing.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(staged))

	// Undo data still describes the real file's prior state.
	require.True(t, undo.PreviousExisted)
	decoded, err := base64.StdEncoding.DecodeString(undo.PreviousContent)
	require.NoError(t, err)
	assert.Equal(t, "old", string(decoded))
}

func TestFileWriteDoesNotPopulateContentBase64(t *testing.T) {
	fw := &FileWrite{WorkingDir: t.TempDir()}
	_, undo, err := fw.Call(context.Background(), map[string]any{
		"path":    "a.txt",
		"content": "hello",
	})
	require.NoError(t, err)
	assert.Empty(t, undo.ContentBase64, "FileWrite must not repurpose ContentBase64 to hold the new content")
}

func TestFileWriteRejectsTraversal(t *testing.T) {
	fw := &FileWrite{WorkingDir: t.TempDir()}
	_, _, err := fw.Call(context.Background(), map[string]any{
		"path":    "../escape.txt",
		"content": "x",
	})
	require.Error(t, err)
}

func TestFileWriteRejectsAbsolutePath(t *testing.T) {
	fw := &FileWrite{WorkingDir: t.TempDir()}
	_, _, err := fw.Call(context.Background(), map[string]any{
		"path":    "/etc/passwd",
		"content": "x",
	})
	require.Error(t, err)
}

func TestCommandRunsAllowedCommand(t *testing.T) {
	c := &Command{WorkingDir: t.TempDir()}
	result, undo, err := c.Call(context.Background(), map[string]any{
		"command": "echo hi",
	})
	require.NoError(t, err)
	require.Nil(t, undo)

	m := result.(map[string]any)
	assert.Contains(t, m["output"], "hi")
}

func TestCommandRejectsDeniedCommand(t *testing.T) {
	c := &Command{WorkingDir: t.TempDir()}
	_, _, err := c.Call(context.Background(), map[string]any{
		"command": "sudo reboot",
	})
	require.Error(t, err)
}

func TestCommandRejectsDeniedPattern(t *testing.T) {
	c := &Command{WorkingDir: t.TempDir()}
	_, _, err := c.Call(context.Background(), map[string]any{
		"command": "rm -rf /",
	})
	require.Error(t, err)
}

func TestCommandEnforcesAllowList(t *testing.T) {
	c := &Command{
		WorkingDir:      t.TempDir(),
		AllowedCommands: map[string]bool{"echo": true},
	}
	_, _, err := c.Call(context.Background(), map[string]any{
		"command": "cat /etc/hosts",
	})
	require.Error(t, err)
}

func TestCommandIsNotReversible(t *testing.T) {
	c := &Command{}
	assert.False(t, c.Reversible())
	assert.Equal(t, actionlog.CategoryDestructive, c.Category())
}
