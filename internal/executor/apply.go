package executor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/run"
)

// runApply finalises the run: by this point every reachable step has
// already executed (auto-approved during shadow, or on user decision
// during approval_required) and its ActionLogEntry committed, so apply
// commits the staged artefacts those steps produced and advances the
// status (spec section 4.7, "apply" phase contract: "commits
// shadow-produced artefacts (copying files into place, running
// finalisers)").
func (x *Executor) runApply(ctx context.Context, runID string) (*run.Run, error) {
	x.publishPhase(runID, checkpoint.PhaseApply)
	st := x.states.get(runID)

	graph := st.getGraph()
	for _, step := range graph.Steps {
		if _, done := st.getResult(step.ID); !done {
			// A step never reached a terminal outcome (e.g. it depends
			// on a step that is itself still pending forever, which
			// should not happen once runApprovals drains to a fixed
			// point) — surface it as failed rather than silently apply.
			o := &stepOutcome{}
			o.StepID = step.ID
			o.ToolName = step.ToolName
			o.Error = "step never resolved before apply"
			st.setResult(step.ID, o)
		}
	}

	if err := x.commitShadowArtifacts(runID); err != nil {
		return nil, err
	}

	x.saveCheckpoint(runID, checkpoint.PhaseApply, run.StatusApplying, st)
	return x.transition(runID, run.StatusApplied, "executor")
}

// commitShadowArtifacts copies every file staged for runID under
// ShadowDir into WorkspaceDir, preserving relative paths, then removes
// the staging tree. A run whose steps never staged anything (no
// reversible filesystem tool ran, or staging is disabled) is a no-op.
func (x *Executor) commitShadowArtifacts(runID string) error {
	if x.deps.ShadowDir == "" || x.deps.WorkspaceDir == "" {
		return nil
	}

	staging := filepath.Join(x.deps.ShadowDir, runID)
	switch info, err := os.Stat(staging); {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("executor: stat staging dir: %w", err)
	case !info.IsDir():
		return fmt.Errorf("executor: staging path %s is not a directory", staging)
	}

	walkErr := filepath.WalkDir(staging, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dst := filepath.Join(x.deps.WorkspaceDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
	if walkErr != nil {
		return fmt.Errorf("executor: commit shadow artefacts: %w", walkErr)
	}

	return os.RemoveAll(staging)
}
