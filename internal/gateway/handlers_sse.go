package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/eventbus"
)

// sseHeartbeatInterval is how often a comment frame is sent to keep
// idle connections (and the proxies between them) alive (spec section
// 4.10: SSE streams).
const sseHeartbeatInterval = 15 * time.Second

// handleRunEvents streams a run's event-bus topic as SSE, closing the
// connection when the bus delivers a "done" event or the client
// disconnects.
func (g *Gateway) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := g.deps.Runs.GetByID(id); err != nil {
		writeError(w, errs.As(err))
		return
	}
	if g.deps.Bus == nil {
		writeError(w, errs.Internal("no-event-bus-configured", nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.Internal("streaming-unsupported", nil))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := g.deps.Bus.Subscribe(ctx, eventbus.TopicForRun(id))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(":\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type == eventbus.EventDone {
				return
			}
		}
	}
}
