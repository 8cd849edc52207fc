package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/scheduler"
)

type createJobRequest struct {
	Name           string            `json:"name"`
	Schedule       scheduler.Schedule `json:"schedule"`
	Payload        scheduler.Payload  `json:"payload"`
	DeleteAfterRun bool              `json:"deleteAfterRun"`
	Enabled        bool              `json:"enabled"`
}

func (g *Gateway) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Scheduler == nil {
		writeError(w, errs.Internal("no-scheduler-configured", nil))
		return
	}

	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, errs.Validationf("name is required"))
		return
	}

	job, err := g.deps.Scheduler.Add(req.Name, req.Schedule, req.Payload, req.DeleteAfterRun, req.Enabled)
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (g *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if g.deps.Scheduler == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, g.deps.Scheduler.List())
}

func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if g.deps.Scheduler == nil {
		writeError(w, errs.NotFoundf("no scheduler configured"))
		return
	}
	job, err := g.deps.Scheduler.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type updateJobRequest struct {
	Name           *string             `json:"name"`
	Schedule       *scheduler.Schedule `json:"schedule"`
	Payload        *scheduler.Payload  `json:"payload"`
	DeleteAfterRun *bool               `json:"deleteAfterRun"`
	Enabled        *bool               `json:"enabled"`
}

func (g *Gateway) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Scheduler == nil {
		writeError(w, errs.NotFoundf("no scheduler configured"))
		return
	}

	var req updateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := g.deps.Scheduler.Update(chi.URLParam(r, "id"), func(j *scheduler.Job) {
		if req.Name != nil {
			j.Name = *req.Name
		}
		if req.Schedule != nil {
			j.Schedule = *req.Schedule
		}
		if req.Payload != nil {
			j.Payload = *req.Payload
		}
		if req.DeleteAfterRun != nil {
			j.DeleteAfterRun = *req.DeleteAfterRun
		}
		if req.Enabled != nil {
			j.Enabled = *req.Enabled
		}
	})
	if err != nil {
		writeError(w, errs.As(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (g *Gateway) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := g.requireNormal(); err != nil {
		writeError(w, err)
		return
	}
	if g.deps.Scheduler == nil {
		writeError(w, errs.NotFoundf("no scheduler configured"))
		return
	}
	if err := g.deps.Scheduler.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, errs.As(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
