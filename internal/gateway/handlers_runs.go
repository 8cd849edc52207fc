package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/run"
	"github.com/undoable/undoable/internal/undo"
)

func undoScopeFor(runID string) undo.Scope {
	return undo.Scope{RunID: runID}
}

type createRunRequest struct {
	Instruction string `json:"instruction"`
	AgentID     string `json:"agentId"`
	Owner       string `json:"owner"`
}

func (g *Gateway) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}

	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	created, err := g.deps.Launcher.Launch(r.Context(), req.Instruction, req.AgentID, "")
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	if g.deps.Metrics != nil {
		g.deps.Metrics.RunsCreated.Inc()
	}

	writeJSON(w, http.StatusCreated, created)
}

func (g *Gateway) handleListRuns(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")

	var runs []*run.Run
	if jobID != "" {
		runs = g.deps.Runs.ListByJobID(jobID)
	} else {
		runs = g.deps.Runs.List()
	}
	writeJSON(w, http.StatusOK, runs)
}

func (g *Gateway) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rn, err := g.deps.Runs.GetByID(id)
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

// handleRunAction dispatches the :action path segment of
// POST /runs/:id/:action (spec section 6: pause, resume, cancel,
// apply, undo).
func (g *Gateway) handleRunAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	switch action {
	case "pause":
		g.transitionRun(w, r, id, run.StatusPaused)
	case "cancel":
		g.transitionRun(w, r, id, run.StatusCancelled)
	case "resume":
		g.resumeRun(w, r, id)
	case "apply":
		g.applyRun(w, r, id)
	case "undo":
		g.handleUndoRun(w, r, id)
	default:
		writeError(w, errs.Validationf("unknown run action %q", action))
	}
}

// applyRun re-enters the Executor's phase loop for a run that is
// sitting at a non-terminal status with no goroutine currently driving
// it — the case after a daemon restart, or after a run stalled at
// "shadowed" waiting for an explicit apply decision rather than the
// approval-gate's per-step prompts.
func (g *Gateway) applyRun(w http.ResponseWriter, r *http.Request, id string) {
	rn, err := g.deps.Runs.GetByID(id)
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	if rn.Status.IsTerminal() {
		writeError(w, errs.Conflictf("run %s is terminal, cannot apply", id))
		return
	}

	producer := g.deps.Launcher.PlanFactory(rn.AgentID)
	go func() {
		_ = g.deps.Launcher.Executor.Run(context.Background(), id, producer)
	}()

	writeJSON(w, http.StatusOK, rn)
}

func (g *Gateway) transitionRun(w http.ResponseWriter, r *http.Request, id string, to run.Status) {
	if _, err := g.deps.Runs.UpdateStatus(id, to, "api"); err != nil {
		writeError(w, errs.As(err))
		return
	}
	if to == run.StatusPaused || to == run.StatusCancelled {
		g.cancelExecution(id)
	}
	g.reportRun(w, id)
}

func (g *Gateway) cancelExecution(id string) {
	if g.deps.Launcher != nil && g.deps.Launcher.Executor != nil {
		g.deps.Launcher.Executor.Cancel(id)
	}
}

func (g *Gateway) resumeRun(w http.ResponseWriter, r *http.Request, id string) {
	rn, err := g.deps.Runs.GetByID(id)
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	if rn.Status != run.StatusPaused {
		writeError(w, errs.Conflictf("run %s is not paused", id))
		return
	}

	resumed, err := g.deps.Runs.UpdateStatus(id, rn.PausedFrom, "api")
	if err != nil {
		writeError(w, errs.As(err))
		return
	}

	producer := g.deps.Launcher.PlanFactory(resumed.AgentID)
	go func() {
		_ = g.deps.Launcher.Executor.Run(context.Background(), id, producer)
	}()

	writeJSON(w, http.StatusOK, resumed)
}

func (g *Gateway) handleUndoRun(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := g.deps.Runs.GetByID(id); err != nil {
		writeError(w, errs.As(err))
		return
	}
	if g.deps.Undo == nil {
		writeError(w, errs.Internal("no-undo-service", nil))
		return
	}

	if _, err := g.deps.Runs.UpdateStatus(id, run.StatusUndoing, "api"); err != nil {
		writeError(w, errs.As(err))
		return
	}

	outcomes, err := g.deps.Undo.Undo(r.Context(), undoScopeFor(id))
	if err != nil {
		g.deps.Runs.UpdateStatus(id, run.StatusFailed, "api")
		writeError(w, errs.Internal("undo-failed", err))
		return
	}

	g.deps.Runs.UpdateStatus(id, run.StatusUndone, "api")
	writeJSON(w, http.StatusOK, outcomes)
}

func (g *Gateway) reportRun(w http.ResponseWriter, id string) {
	rn, err := g.deps.Runs.GetByID(id)
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (g *Gateway) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if g.deps.Checkpoints == nil {
		writeError(w, errs.NotFoundf("no checkpoint store configured"))
		return
	}
	state, err := g.deps.Checkpoints.Load(id)
	if err != nil {
		writeError(w, errs.NotFoundf("no checkpoint for run %s", id))
		return
	}
	writeJSON(w, http.StatusOK, state)
}
