package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/undoable/undoable/internal/errs"
)

// stepApprovalRequest is the body for the supplemented
// POST /runs/:id/steps/:stepId/approval endpoint (SPEC_FULL.md: the
// Executor blocks on approval.Prompter.RequestApproval, and something
// on the gateway's REST surface has to resolve that block).
type stepApprovalRequest struct {
	Approved bool `json:"approved"`
}

func (g *Gateway) handleStepApproval(w http.ResponseWriter, r *http.Request) {
	if g.approvals == nil {
		writeError(w, errs.Internal("no-approval-broker-configured", nil))
		return
	}

	var req stepApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	runID := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepId")
	if err := g.approvals.Resolve(runID, stepID, req.Approved); err != nil {
		writeError(w, errs.NotFoundf("%v", err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
