// Package actionlog implements the append-only, category-tagged action
// ledger (component C2). Every tool invocation is recorded before it
// runs and completed after, so a crash mid-invocation still leaves an
// entry the Undo Service (internal/undo) can reason about.
package actionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category is the closed set of action categories the Approval Gate
// and Undo Service key their policy on.
type Category string

const (
	CategoryRead        Category = "read"
	CategoryMutate      Category = "mutate"
	CategoryNetwork     Category = "network"
	CategoryDestructive Category = "destructive"
	CategoryCompensation Category = "compensation"
)

// Decision records how the Approval Gate resolved an action.
type Decision string

const (
	DecisionAutoApproved Decision = "auto-approved"
	DecisionUserApproved Decision = "user-approved"
	DecisionDenied       Decision = "denied"
)

// UndoData is a category-tagged reversal payload. Only the fields
// relevant to Category are populated; others are zero.
type UndoData struct {
	Kind string `json:"kind"` // "file-write" | "git-commit" | "patch-apply"

	// file-write
	Path            string `json:"path,omitempty"`
	PreviousExisted bool   `json:"previousExisted,omitempty"`
	PreviousContent string `json:"previousContent,omitempty"`
	ContentBase64   string `json:"contentBase64,omitempty"`

	// git-commit
	WorkingDir string `json:"workingDir,omitempty"`
	PriorRef   string `json:"priorRef,omitempty"`

	// patch-apply
	Patch string `json:"patch,omitempty"`
}

// Result is the outcome envelope recorded by complete.
type Result struct {
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Entry is one append-only ledger record. Once Completed is non-nil an
// entry is immutable (spec section 3, ActionLogEntry invariant).
type Entry struct {
	ID         string     `json:"id"`
	RunID      string     `json:"runId,omitempty"`
	ToolName   string     `json:"toolName"`
	Category   Category   `json:"category"`
	Params     map[string]any `json:"params,omitempty"`
	Decision   Decision   `json:"decision"`
	Undoable   bool       `json:"undoable"`
	UndoData   *UndoData  `json:"undoData,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

// Spec describes a new action before it runs.
type Spec struct {
	RunID    string
	ToolName string
	Category Category
	Params   map[string]any
	Decision Decision
	Undoable bool
	UndoData *UndoData
}

// Log is the append-only, single-writer ledger. A single writer lock
// (spec section 5, "shared resources") serializes all mutations; reads
// operate on an in-memory cache kept current by every write.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	entries map[string]*Entry
	order   []string // insertion order of ids, for reverse-chronological iteration
}

// Open opens (creating if absent) the jsonl ledger at path and
// replays it into memory. Truncated trailing lines are discarded
// (spec section 7, Action Log recovery policy).
func Open(path string) (*Log, error) {
	l := &Log{
		path:    path,
		entries: make(map[string]*Entry),
	}

	if err := l.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("actionlog: open %s: %w", path, err)
	}
	l.file = f
	return l, nil
}

func (l *Log) replay() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("actionlog: read %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Truncated or corrupt line: discard rather than fail the
			// whole load (spec section 7).
			continue
		}
		if _, seen := l.entries[e.ID]; !seen {
			l.order = append(l.order, e.ID)
		}
		cp := e
		l.entries[e.ID] = &cp
	}
	return scanner.Err()
}

// Close flushes and closes the backing file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Record creates a pending entry and persists it before the caller
// runs the tool, satisfying the "record MUST return before the tool
// executes" contract (spec section 4.2).
func (l *Log) Record(spec Spec) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{
		ID:        uuid.NewString(),
		RunID:     spec.RunID,
		ToolName:  spec.ToolName,
		Category:  spec.Category,
		Params:    spec.Params,
		Decision:  spec.Decision,
		Undoable:  spec.Undoable,
		UndoData:  spec.UndoData,
		StartedAt: time.Now(),
	}

	if err := l.append(e); err != nil {
		return "", err
	}

	l.entries[e.ID] = e
	l.order = append(l.order, e.ID)
	return e.ID, nil
}

// SetUndoData attaches undo data discovered only once the tool ran
// (e.g. a file-write's pre-image), appending another snapshot ahead of
// the eventual Complete call. A no-op once the entry is already
// completed, since completed entries are immutable.
func (l *Log) SetUndoData(entryID string, undo *UndoData) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[entryID]
	if !ok {
		return fmt.Errorf("actionlog: set undo data: unknown entry %s", entryID)
	}
	if e.CompletedAt != nil {
		return nil
	}
	e.UndoData = undo
	return l.append(e)
}

// Complete marks entryId as finished. Complete is idempotent: calling
// it twice with the same entryId and an equivalent result is a no-op
// on the second call.
func (l *Log) Complete(entryID string, result Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[entryID]
	if !ok {
		return fmt.Errorf("actionlog: complete: unknown entry %s", entryID)
	}
	if e.CompletedAt != nil {
		// Idempotent: already completed, do not append another record
		// or mutate the immutable entry.
		return nil
	}

	now := time.Now()
	e.CompletedAt = &now
	e.Result = &result

	return l.append(e)
}

// append writes one snapshot of e to the file. Because the same id can
// appear twice (pending, then completed), replay keeps only the last
// snapshot per id — this is what lets the file stay strictly
// append-only while entries still transition from pending to
// completed.
func (l *Log) append(e *Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("actionlog: marshal: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("actionlog: write: %w", err)
	}
	return l.file.Sync()
}

// Get returns a copy of the entry for entryID.
func (l *Log) Get(entryID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[entryID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Reverse returns entries in reverse-chronological order, optionally
// filtered to a single run id (empty = all runs).
func (l *Log) Reverse(runID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		e := l.entries[l.order[i]]
		if e == nil {
			continue
		}
		if runID != "" && e.RunID != runID {
			continue
		}
		out = append(out, *e)
	}
	return out
}
