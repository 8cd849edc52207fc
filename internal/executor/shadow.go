package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/undoable/undoable/internal/actionlog"
	"github.com/undoable/undoable/internal/approval"
	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/plan"
	"github.com/undoable/undoable/internal/run"
	"github.com/undoable/undoable/internal/tool"
)

// runShadow drains every step whose dependencies are already resolved,
// invoking tool adapters for auto-approved categories and marking
// gated ones pending, then advances to shadowed (spec section 4.7,
// "shadow" phase contract).
func (x *Executor) runShadow(ctx context.Context, runID string) (*run.Run, error) {
	x.publishPhase(runID, checkpoint.PhasePreStep)
	st := x.states.get(runID)
	graph := st.getGraph()
	if graph == nil {
		return nil, fmt.Errorf("executor: run %s has no plan graph", runID)
	}

	x.resolveReadySteps(ctx, runID, graph, st)
	x.saveCheckpoint(runID, checkpoint.PhasePostStep, run.StatusShadowing, st)
	return x.transition(runID, run.StatusShadowed, "executor")
}

// resolveReadySteps repeatedly scans the graph for steps whose
// dependencies have all resolved, executing auto-approved ones and
// recording pending ones, until a full pass makes no further progress.
func (x *Executor) resolveReadySteps(ctx context.Context, runID string, graph *plan.Graph, st *runState) {
	for {
		progressed := false
		for _, step := range graph.Steps {
			if _, done := st.getResult(step.ID); done {
				continue
			}

			ready, skipReason := x.dependencyState(step, st)
			if !ready && skipReason == "" {
				continue // still blocked on a pending (undecided) dependency
			}
			progressed = true

			if skipReason != "" {
				o := &stepOutcome{
					StepResult: checkpoint.StepResult{StepID: step.ID, ToolName: step.ToolName, Success: false},
					Skipped:    true,
					SkipReason: skipReason,
				}
				st.setResult(step.ID, o)
				x.publishStepResult(runID, o)
				continue
			}

			x.resolveStep(ctx, runID, step, st)
		}
		if !progressed {
			return
		}
	}
}

// dependencyState reports whether step is ready to run, or the skip
// reason if an ancestor already failed (spec section 4.7: "on an unmet
// failed dependency the step is recorded as skipped with reason
// dependency \"<id>\" failed").
func (x *Executor) dependencyState(step plan.Step, st *runState) (ready bool, skipReason string) {
	for _, dep := range step.DependsOn {
		res, done := st.getResult(dep)
		if !done || res.PendingApproval {
			return false, ""
		}
		if !res.Success {
			return false, fmt.Sprintf("dependency %q failed", dep)
		}
	}
	return true, ""
}

// resolveStep evaluates the approval gate for step and either executes
// it immediately (auto-approved) or parks it pending a user decision.
func (x *Executor) resolveStep(ctx context.Context, runID string, step plan.Step, st *runState) {
	t, ok := x.deps.Tools.Get(step.ToolName)
	if !ok {
		o := &stepOutcome{StepResult: checkpoint.StepResult{
			StepID: step.ID, ToolName: step.ToolName, Success: false,
			Error: fmt.Sprintf("tool %q is not registered", step.ToolName),
		}}
		st.setResult(step.ID, o)
		x.publishStepResult(runID, o)
		return
	}

	decision := approval.Evaluate(t.Category(), x.deps.Mode)
	if decision == approval.DecisionRequireUser {
		o := &stepOutcome{
			StepResult:      checkpoint.StepResult{StepID: step.ID, ToolName: step.ToolName},
			Category:        t.Category(),
			PendingApproval: true,
		}
		st.setResult(step.ID, o)
		return
	}

	x.executeStep(ctx, runID, step, t, st, actionlog.DecisionAutoApproved)
}

// executeStep invokes the tool, recording the action before it runs
// and completing the entry after (spec section 4.2, crash-safety
// contract). Every invocation here happens before apply, so the tool
// is handed a per-run staging directory (spec section 4.7, "shadow":
// "produces artefacts without committing them") rather than its real
// working directory.
func (x *Executor) executeStep(ctx context.Context, runID string, step plan.Step, t toolLike, st *runState, decision actionlog.Decision) {
	if x.deps.ShadowDir != "" {
		ctx = tool.WithStagingDir(ctx, filepath.Join(x.deps.ShadowDir, runID))
	}

	start := time.Now()
	var entryID string
	if x.deps.ActionLog != nil {
		id, err := x.deps.ActionLog.Record(actionlog.Spec{
			RunID:    runID,
			ToolName: step.ToolName,
			Category: t.Category(),
			Params:   step.Params,
			Decision: decision,
			Undoable: t.Reversible(),
		})
		if err != nil {
			x.deps.Logger.Warn("action log record failed", "runId", runID, "step", step.ID, "error", err)
		}
		entryID = id
	}

	output, undo, callErr := t.Call(ctx, step.Params)
	duration := time.Since(start)

	o := &stepOutcome{
		StepResult: checkpoint.StepResult{
			StepID: step.ID, ToolName: step.ToolName,
			Success: callErr == nil, Output: output, Duration: duration,
		},
		Category:    t.Category(),
		ActionLogID: entryID,
	}
	if callErr != nil {
		o.Error = callErr.Error()
	}
	st.setResult(step.ID, o)
	x.publishStepResult(runID, o)

	if x.deps.ActionLog != nil && entryID != "" {
		result := actionlog.Result{Output: output}
		if callErr != nil {
			result.Error = callErr.Error()
		}
		if undo != nil {
			x.recordUndo(entryID, undo)
		}
		if err := x.deps.ActionLog.Complete(entryID, result); err != nil {
			x.deps.Logger.Warn("action log complete failed", "runId", runID, "step", step.ID, "error", err)
		}
	}
}

func (x *Executor) recordUndo(entryID string, undo *actionlog.UndoData) {
	if err := x.deps.ActionLog.SetUndoData(entryID, undo); err != nil {
		x.deps.Logger.Warn("set undo data failed", "entryId", entryID, "error", err)
	}
}

// toolLike is the minimal surface resolveStep/executeStep need from a
// tool.Tool, declared locally to avoid importing tool for its
// interface twice (it is also imported for the Registry type in Deps).
type toolLike interface {
	Category() actionlog.Category
	Reversible() bool
	Call(ctx context.Context, params map[string]any) (any, *actionlog.UndoData, error)
}
