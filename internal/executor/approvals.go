package executor

import (
	"context"

	"github.com/undoable/undoable/internal/actionlog"
	"github.com/undoable/undoable/internal/approval"
	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/plan"
	"github.com/undoable/undoable/internal/run"
)

// runApprovals blocks on every currently-pending step, then drains any
// further wave of steps the decisions unblock, repeating until the DAG
// has no pending steps left (spec section 4.7, "approval_required"
// phase contract; spec section 4.3 for the timeout policy).
func (x *Executor) runApprovals(ctx context.Context, runID string) (*run.Run, error) {
	x.publishPhase(runID, checkpoint.PhaseApproval)
	st := x.states.get(runID)
	graph := st.getGraph()

	for {
		pending := pendingSteps(graph, st)
		if len(pending) == 0 {
			break
		}
		for _, step := range pending {
			x.resolveApproval(ctx, runID, step, st)
		}
		x.resolveReadySteps(ctx, runID, graph, st)
	}

	x.saveCheckpoint(runID, checkpoint.PhaseApproval, run.StatusApprovalRequired, st)
	return x.transition(runID, run.StatusApplying, "executor")
}

func pendingSteps(graph *plan.Graph, st *runState) []plan.Step {
	var out []plan.Step
	for _, step := range graph.Steps {
		if o, ok := st.getResult(step.ID); ok && o.PendingApproval {
			out = append(out, step)
		}
	}
	return out
}

// resolveApproval asks the Prompter for a decision and either executes
// the step or records the denial/timeout as its failure.
func (x *Executor) resolveApproval(ctx context.Context, runID string, step plan.Step, st *runState) {
	t, ok := x.deps.Tools.Get(step.ToolName)
	if !ok {
		return // already failed in resolveStep's tool lookup; unreachable in practice
	}

	if x.deps.Prompter == nil {
		x.denyStep(runID, step, st, t, "no prompter configured")
		return
	}

	approved, err := approval.WaitForApproval(ctx, x.deps.Prompter, runID, step.ID, step.ToolName, step.Params)
	if err != nil {
		x.denyStep(runID, step, st, t, err.Error())
		return
	}
	if !approved {
		x.denyStep(runID, step, st, t, "denied by user")
		return
	}

	x.executeStep(ctx, runID, step, t, st, actionlog.DecisionUserApproved)
}

func (x *Executor) denyStep(runID string, step plan.Step, st *runState, t toolLike, reason string) {
	o := &stepOutcome{
		StepResult: checkpoint.StepResult{StepID: step.ID, ToolName: step.ToolName, Success: false, Error: reason},
		Category:   t.Category(),
	}
	st.setResult(step.ID, o)
	x.publishStepResult(runID, o)

	if x.deps.ActionLog != nil {
		id, err := x.deps.ActionLog.Record(actionlog.Spec{
			RunID: runID, ToolName: step.ToolName, Category: t.Category(),
			Params: step.Params, Decision: actionlog.DecisionDenied,
		})
		if err == nil {
			x.deps.ActionLog.Complete(id, actionlog.Result{Error: reason})
		}
	}
}
