// Package checkpoint implements the Checkpoint Store (component C4):
// one atomically-written JSON file per run under
// <home>/.undoable/checkpoints/<runId>.json, used to resume a run's
// progress after a daemon restart (the CLI, not this core, drives an
// actual resume — see spec section 4.4).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Phase tags a checkpoint with the point in the run's lifecycle it was
// taken at — finer-grained than the bare run status, generalized from
// the teacher's pre/post-LLM and pre/post-tool checkpoint hooks
// (SPEC_FULL.md "Supplemented features").
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhasePreStep   Phase = "pre-step"
	PhasePostStep  Phase = "post-step"
	PhaseApproval  Phase = "approval"
	PhaseApply     Phase = "apply"
	PhaseUndo      Phase = "undo"
)

// StepResult mirrors the data model's StepResult (spec section 3).
type StepResult struct {
	StepID   string        `json:"stepId"`
	ToolName string        `json:"toolName"`
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// State is the persisted snapshot of a run's progress.
type State struct {
	RunID          string                `json:"runId"`
	Status         string                `json:"status"`
	Phase          Phase                 `json:"phase"`
	CompletedSteps []string              `json:"completedSteps"`
	FailedSteps    []string              `json:"failedSteps"`
	StepResults    map[string]StepResult `json:"stepResults"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
	SavedAt        time.Time             `json:"savedAt"`
}

// Store manages per-run checkpoint files. Checkpoints are per-run, so
// unlike the Action Log there is no cross-run contention (spec
// section 5).
type Store struct {
	dir string
}

// New creates a Store rooted at dir (typically
// <home>/.undoable/checkpoints).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) pathFor(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save atomically writes state: write to a sibling temp file, fsync,
// then rename, so the file is never observed half-written (spec
// section 9, "atomic file writes").
func (s *Store) Save(state *State) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	state.SavedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	final := s.pathFor(state.RunID)
	tmp, err := os.CreateTemp(s.dir, state.RunID+".*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads the checkpoint for runID. Absence is reported via a
// wrapped os.ErrNotExist, never a hard failure (spec section 7,
// "checkpoints: best-effort; absence is not an error" — callers
// decide whether that matters).
func (s *Store) Load(runID string) (*State, error) {
	data, err := os.ReadFile(s.pathFor(runID))
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal %s: %w", runID, err)
	}
	return &state, nil
}

// Exists reports whether a checkpoint file exists for runID.
func (s *Store) Exists(runID string) bool {
	_, err := os.Stat(s.pathFor(runID))
	return err == nil
}

// Remove deletes the checkpoint for runID, if any.
func (s *Store) Remove(runID string) error {
	err := os.Remove(s.pathFor(runID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListAll returns every persisted checkpoint, for the startup
// reconciliation pass (SPEC_FULL.md "Supplemented features").
func (s *Store) ListAll() ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: readdir: %w", err)
	}

	var states []*State
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		runID := entry.Name()[:len(entry.Name())-len(".json")]
		state, err := s.Load(runID)
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}
