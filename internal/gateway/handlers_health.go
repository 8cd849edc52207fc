package gateway

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptimeSec"`
	Version   string `json:"version,omitempty"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(g.deps.StartedAt).Seconds()),
		Version:   g.deps.Version,
	})
}

type readyResponse struct {
	Ready bool          `json:"ready"`
	Mode  OperationMode `json:"operationMode"`
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	mode, _ := g.mode()
	writeJSON(w, http.StatusOK, readyResponse{Ready: true, Mode: mode})
}
