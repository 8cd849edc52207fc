// Package executor implements the Run Executor (component C7): the
// phase orchestrator that drives a single Run through
// plan -> shadow -> apply -> undo, the largest subsystem in the
// daemon's execution substrate.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/undoable/undoable/internal/actionlog"
	"github.com/undoable/undoable/internal/approval"
	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/eventbus"
	"github.com/undoable/undoable/internal/plan"
	"github.com/undoable/undoable/internal/run"
	"github.com/undoable/undoable/internal/tool"
)

// Deps bundles the Executor's collaborators, generalized from the
// teacher's AgentServices abstraction (workflow/types.go) into the set
// this core's phase machine actually needs.
type Deps struct {
	Runs        *run.Manager
	ActionLog   *actionlog.Log
	Checkpoints *checkpoint.Store
	Tools       *tool.Registry
	Bus         *eventbus.Bus
	Prompter    approval.Prompter
	Mode        approval.Mode
	Logger      *slog.Logger

	// ShadowDir is the root a run's shadow-phase tool writes stage
	// under (one subdirectory per run id). WorkspaceDir is the real,
	// committed tree apply copies staged artefacts into (spec section
	// 4.7, "shadow" and "apply" phase contracts). Both empty disables
	// staging: tools write straight through to their own WorkingDir.
	ShadowDir    string
	WorkspaceDir string
}

// Executor drives Runs through the phase machine. A daemon runs many
// Executors' Run calls concurrently, one goroutine per in-flight run;
// the struct itself is shared and safe for concurrent use.
type Executor struct {
	deps   Deps
	states *stateStore

	mu        sync.Mutex
	cancelled map[string]context.CancelFunc
}

// New creates an Executor bound to deps.
func New(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Executor{
		deps:      deps,
		states:    newStateStore(),
		cancelled: make(map[string]context.CancelFunc),
	}
}

// Cancel requests cancellation of runID's in-flight execution. It is a
// no-op if the run is not currently executing in this Executor.
func (x *Executor) Cancel(runID string) {
	x.mu.Lock()
	cancel, ok := x.cancelled[runID]
	x.mu.Unlock()
	if ok {
		cancel()
	}
}

// Run drives runID from its current status toward a terminal state,
// calling producer exactly once (during the plan phase) to obtain the
// PlanGraph. It returns when the run reaches a terminal status, is
// cancelled, or a phase fails unrecoverably.
func (x *Executor) Run(ctx context.Context, runID string, producer plan.PlanProducer) error {
	execCtx, cancel := context.WithCancel(ctx)
	x.mu.Lock()
	x.cancelled[runID] = cancel
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		delete(x.cancelled, runID)
		x.mu.Unlock()
		cancel()
		x.states.delete(runID)
	}()

	log := x.deps.Logger.With("runId", runID)

	for {
		select {
		case <-execCtx.Done():
			x.transition(runID, run.StatusCancelled, "cancel")
			return execCtx.Err()
		default:
		}

		r, err := x.deps.Runs.GetByID(runID)
		if err != nil {
			return err
		}

		switch r.Status {
		case run.StatusCreated:
			_, err = x.transition(runID, run.StatusPlanning, "executor")
		case run.StatusPlanning:
			_, err = x.runPlan(execCtx, runID, producer)
		case run.StatusPlanned:
			_, err = x.transition(runID, run.StatusShadowing, "executor")
		case run.StatusShadowing:
			_, err = x.runShadow(execCtx, runID)
		case run.StatusShadowed:
			_, err = x.resolveApprovalGate(runID)
		case run.StatusApprovalRequired:
			_, err = x.runApprovals(execCtx, runID)
		case run.StatusApplying:
			_, err = x.runApply(execCtx, runID)
		case run.StatusApplied:
			_, err = x.transition(runID, run.StatusCompleted, "executor")
		default:
			log.Debug("executor stopping, run is terminal", "status", r.Status)
			return nil
		}

		if err != nil {
			log.Error("phase failed", "status", r.Status, "error", err)
			x.failRun(runID, err)
			return err
		}
	}
}

func (x *Executor) transition(runID string, to run.Status, actor string) (*run.Run, error) {
	return x.deps.Runs.UpdateStatus(runID, to, actor)
}

func (x *Executor) failRun(runID string, cause error) {
	if _, err := x.deps.Runs.UpdateStatus(runID, run.StatusFailed, "executor"); err != nil {
		x.deps.Logger.Error("failed to mark run failed", "runId", runID, "error", err)
	}
	if x.deps.Bus != nil {
		x.deps.Bus.Publish(eventbus.TopicForRun(runID), eventbus.EventError, map[string]any{
			"runId": runID,
			"error": cause.Error(),
		})
	}
}

func (x *Executor) saveCheckpoint(runID string, phase checkpoint.Phase, status run.Status, st *runState) {
	if x.deps.Checkpoints == nil {
		return
	}
	results := st.checkpointResults()
	completed := make([]string, 0, len(results))
	failed := make([]string, 0)
	for id, r := range results {
		if r.Success {
			completed = append(completed, id)
		} else {
			failed = append(failed, id)
		}
	}
	err := x.deps.Checkpoints.Save(&checkpoint.State{
		RunID:          runID,
		Status:         string(status),
		Phase:          phase,
		CompletedSteps: completed,
		FailedSteps:    failed,
		StepResults:    results,
	})
	if err != nil {
		x.deps.Logger.Warn("checkpoint save failed", "runId", runID, "phase", phase, "error", err)
	}
}

func (x *Executor) publishPhase(runID string, phase checkpoint.Phase) {
	if x.deps.Bus == nil {
		return
	}
	x.deps.Bus.Publish(eventbus.TopicForRun(runID), eventbus.EventPhase, map[string]any{
		"runId": runID,
		"phase": phase,
	})
}

func (x *Executor) publishStepResult(runID string, o *stepOutcome) {
	if x.deps.Bus == nil {
		return
	}
	x.deps.Bus.Publish(eventbus.TopicForRun(runID), eventbus.EventStepResult, map[string]any{
		"runId":   runID,
		"stepId":  o.StepID,
		"success": o.Success,
		"skipped": o.Skipped,
		"reason":  o.SkipReason,
	})
}

// runPlan calls the PlanProducer, validates the resulting graph, and
// advances to planned (spec section 4.7, "plan" phase contract).
func (x *Executor) runPlan(ctx context.Context, runID string, producer plan.PlanProducer) (*run.Run, error) {
	r, err := x.deps.Runs.GetByID(runID)
	if err != nil {
		return nil, err
	}
	x.publishPhase(runID, checkpoint.PhasePlan)

	if producer == nil {
		return nil, errs.Internal("", fmt.Errorf("plan: no PlanProducer configured"))
	}
	graph, err := producer.Plan(r.Instruction, map[string]any{"runId": runID, "agentId": r.AgentID})
	if err != nil {
		return nil, errs.Internal("", fmt.Errorf("plan: %w", err))
	}
	if err := plan.Validate(graph); err != nil {
		return nil, errs.Validationf("plan: %v", err)
	}

	x.states.get(runID).setGraph(graph)
	return x.transition(runID, run.StatusPlanned, "executor")
}

// resolveApprovalGate decides, after shadow execution, whether any
// step is waiting on a user decision (spec section 4.7,
// "approval_required" phase contract).
func (x *Executor) resolveApprovalGate(runID string) (*run.Run, error) {
	st := x.states.get(runID)
	for _, o := range st.snapshot() {
		if o.PendingApproval {
			return x.transition(runID, run.StatusApprovalRequired, "executor")
		}
	}
	return x.transition(runID, run.StatusApplying, "executor")
}
