package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/swarm"
)

func (g *Gateway) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Workflows == nil {
		writeError(w, errs.Internal("no-workflow-store-configured", nil))
		return
	}

	var wf swarm.Workflow
	if err := decodeJSON(r, &wf); err != nil {
		writeError(w, err)
		return
	}

	created, err := g.deps.Workflows.Create(wf)
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (g *Gateway) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if g.deps.Workflows == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, g.deps.Workflows.List())
}

func (g *Gateway) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if g.deps.Workflows == nil {
		writeError(w, errs.NotFoundf("no workflow store configured"))
		return
	}
	wf, err := g.deps.Workflows.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (g *Gateway) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Workflows == nil {
		writeError(w, errs.NotFoundf("no workflow store configured"))
		return
	}

	var replacement swarm.Workflow
	if err := decodeJSON(r, &replacement); err != nil {
		writeError(w, err)
		return
	}

	wf, err := g.deps.Workflows.Update(chi.URLParam(r, "id"), func(w *swarm.Workflow) {
		replacement.ID = w.ID
		*w = replacement
	})
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (g *Gateway) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Workflows == nil {
		writeError(w, errs.NotFoundf("no workflow store configured"))
		return
	}
	if err := g.deps.Workflows.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, errs.As(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runWorkflowRequest struct {
	AllowConcurrent bool `json:"allowConcurrent"`
	MaxParallel     int  `json:"maxParallel"`
	FailFast        bool `json:"failFast"`
}

func (g *Gateway) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Orchestrator == nil {
		writeError(w, errs.Internal("no-orchestrator-configured", nil))
		return
	}

	var req runWorkflowRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := g.deps.Orchestrator.Start(r.Context(), chi.URLParam(r, "id"), swarm.Options{
		AllowConcurrent: req.AllowConcurrent,
		MaxParallel:     req.MaxParallel,
		FailFast:        req.FailFast,
	})
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (g *Gateway) handleGetOrchestration(w http.ResponseWriter, r *http.Request) {
	if g.deps.Orchestrator == nil {
		writeError(w, errs.NotFoundf("no orchestrator configured"))
		return
	}
	snap, err := g.deps.Orchestrator.Get(chi.URLParam(r, "oid"))
	if err != nil {
		writeError(w, errs.NotFoundf("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
