package gateway

import (
	"net/http"

	"github.com/undoable/undoable/internal/config"
	"github.com/undoable/undoable/internal/errs"
)

func (g *Gateway) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if g.deps.Settings == nil {
		writeError(w, errs.Internal("no-settings-source", nil))
		return
	}
	writeJSON(w, http.StatusOK, g.deps.Settings())
}

// patchSettingsRequest mirrors daemon-settings.json's editable fields
// (spec section 6, "PATCH /settings/daemon").
type patchSettingsRequest struct {
	Host          *string `json:"host"`
	Port          *int    `json:"port"`
	LogLevel      *string `json:"logLevel"`
	OperationMode *string `json:"operationMode"`
	JWTSecret     *string `json:"jwtSecret"`
}

type patchSettingsResponse struct {
	Settings        config.Settings `json:"settings"`
	Changed         []string        `json:"changed"`
	RestartRequired bool            `json:"restartRequired"`
}

func (g *Gateway) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	if g.deps.Settings == nil || g.deps.SaveSettings == nil {
		writeError(w, errs.Internal("no-settings-source", nil))
		return
	}

	var req patchSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	old := g.deps.Settings()
	updated := old
	if req.Host != nil {
		updated.Host = *req.Host
	}
	if req.Port != nil {
		updated.Port = *req.Port
	}
	if req.LogLevel != nil {
		updated.LogLevel = *req.LogLevel
	}
	if req.OperationMode != nil {
		updated.OperationMode = *req.OperationMode
	}
	if req.JWTSecret != nil {
		updated.JWTSecret = *req.JWTSecret
	}

	changed, restartRequired := config.Diff(old, updated)
	updated.RestartRequired = restartRequired

	if err := g.deps.SaveSettings(updated); err != nil {
		writeError(w, errs.Internal("settings-save-failed", err))
		return
	}

	writeJSON(w, http.StatusOK, patchSettingsResponse{
		Settings: updated, Changed: changed, RestartRequired: restartRequired,
	})
}

type operationResponse struct {
	Mode      OperationMode `json:"mode"`
	Reason    string        `json:"reason,omitempty"`
	UpdatedAt string        `json:"updatedAt"`
}

func (g *Gateway) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	resp := operationResponse{Mode: g.operationMode, Reason: g.operationRsn, UpdatedAt: g.operationAt.Format(rfc3339Milli)}
	g.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

type patchOperationRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

func (g *Gateway) handlePatchOperation(w http.ResponseWriter, r *http.Request) {
	var req patchOperationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	mode := OperationMode(req.Mode)
	switch mode {
	case ModeNormal, ModeDrain, ModePaused:
	default:
		writeError(w, errs.Validationf("unknown operation mode %q", req.Mode))
		return
	}

	g.mu.Lock()
	g.operationMode = mode
	g.operationRsn = req.Reason
	g.operationAt = g.clockNow()
	resp := operationResponse{Mode: g.operationMode, Reason: g.operationRsn, UpdatedAt: g.operationAt.Format(rfc3339Milli)}
	g.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}
