// Package undo implements the Undo Service (component C8): reversal
// of Action Log entries in reverse-chronological order, dispatching to
// a category-specific reverser per spec section 4.8.
package undo

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/undoable/undoable/internal/actionlog"
)

// ErrNotUndoable is returned by a reverser for categories spec section
// 4.8 declares non-reversible (network, read).
var ErrNotUndoable = fmt.Errorf("error: not undoable")

// StepOutcome is the result of reversing a single entry.
type StepOutcome struct {
	EntryID string
	ToolName string
	Error   string
}

// Service reverses Action Log entries.
type Service struct {
	log *actionlog.Log
}

// New creates a Service over log.
func New(log *actionlog.Log) *Service {
	return &Service{log: log}
}

// Scope selects which entries Undo processes.
type Scope struct {
	RunID string // empty = all runs
	Last  int    // 0 = unbounded ("all")
}

// Undo walks the Action Log in reverse within scope, reversing every
// undoable entry and halting on the first reversal error (spec section
// 4.8: "Undo halts on the first reversal error and returns the partial
// success vector"). Each successful reversal appends a compensating
// entry of category "compensation" to the log.
func (s *Service) Undo(ctx context.Context, scope Scope) ([]StepOutcome, error) {
	entries := s.log.Reverse(scope.RunID)
	if scope.Last > 0 && scope.Last < len(entries) {
		entries = entries[:scope.Last]
	}

	var outcomes []StepOutcome
	for _, e := range entries {
		if e.CompletedAt == nil || !e.Undoable || e.UndoData == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return outcomes, ctx.Err()
		default:
		}

		if err := s.reverse(e); err != nil {
			outcomes = append(outcomes, StepOutcome{EntryID: e.ID, ToolName: e.ToolName, Error: err.Error()})
			return outcomes, fmt.Errorf("undo: entry %s: %w", e.ID, err)
		}

		outcomes = append(outcomes, StepOutcome{EntryID: e.ID, ToolName: e.ToolName})
		s.recordCompensation(e)
	}
	return outcomes, nil
}

// reverse dispatches on UndoData.Kind, the category-tagged reversal
// payload spec section 4.8's policy table is keyed on — not on
// ActionLogEntry.Category, which only tells the Approval Gate how
// cautious to be and says nothing about how a given entry reverses.
func (s *Service) reverse(e actionlog.Entry) error {
	switch e.UndoData.Kind {
	case "file-write":
		return reverseFileWrite(e.UndoData)
	case "git-commit":
		return reverseGitCommit(e.UndoData)
	case "patch-apply":
		return reversePatchApply(e.UndoData)
	default:
		return ErrNotUndoable
	}
}

// reverseFileWrite implements the file-write reversal policy: delete
// if the file did not previously exist, else restore prior content
// (preferring the binary field when present).
func reverseFileWrite(u *actionlog.UndoData) error {
	if !u.PreviousExisted {
		if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("undo file-write: remove %s: %w", u.Path, err)
		}
		return nil
	}

	// ContentBase64 is reserved for a binary-safe prior-content payload
	// a future adapter might supply in addition to PreviousContent;
	// spec section 4.8 prefers it when present. A previously-empty file
	// (PreviousContent == "") must not fall back to it.
	content := u.PreviousContent
	if u.ContentBase64 != "" {
		content = u.ContentBase64
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return fmt.Errorf("undo file-write: decode prior content: %w", err)
	}
	if err := os.WriteFile(u.Path, data, 0o644); err != nil {
		return fmt.Errorf("undo file-write: restore %s: %w", u.Path, err)
	}
	return nil
}

func reverseGitCommit(u *actionlog.UndoData) error {
	cmd := exec.Command("git", "reset", "--hard", u.PriorRef)
	cmd.Dir = u.WorkingDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("undo git-commit: %w: %s", err, out)
	}
	return nil
}

func reversePatchApply(u *actionlog.UndoData) error {
	cmd := exec.Command("patch", "-R", "-p0")
	cmd.Dir = u.WorkingDir
	cmd.Stdin = strings.NewReader(u.Patch)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("undo patch-apply: %w: %s", err, out)
	}
	return nil
}

func (s *Service) recordCompensation(e actionlog.Entry) {
	id, err := s.log.Record(actionlog.Spec{
		RunID:    e.RunID,
		ToolName: e.ToolName,
		Category: actionlog.CategoryCompensation,
		Decision: actionlog.DecisionAutoApproved,
	})
	if err != nil {
		return
	}
	s.log.Complete(id, actionlog.Result{Output: fmt.Sprintf("reversed entry %s", e.ID)})
}
