// Package gateway implements the Gateway (component C10): an HTTP
// router exposing the routes in spec section 6, with bearer-token or
// loopback admission, an operation-mode gate, and SSE fan-out over the
// event bus.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/undoable/undoable/internal/actionlog"
	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/config"
	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/eventbus"
	"github.com/undoable/undoable/internal/metrics"
	"github.com/undoable/undoable/internal/run"
	"github.com/undoable/undoable/internal/scheduler"
	"github.com/undoable/undoable/internal/swarm"
	"github.com/undoable/undoable/internal/undo"
)

// rfc3339Milli is the timestamp format used in JSON responses that
// carry an updatedAt field.
const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// OperationMode is the daemon-wide admission policy (spec section
// 4.10).
type OperationMode string

const (
	ModeNormal OperationMode = "normal"
	ModeDrain  OperationMode = "drain"
	ModePaused OperationMode = "paused"
)

// Deps wires every subsystem the Gateway fronts. Launcher and Approvals
// are constructed before the Gateway (see Launcher, ApprovalBroker) so
// the Scheduler and Executor can already depend on them.
type Deps struct {
	Runs         *run.Manager
	Launcher     *Launcher
	Approvals    *ApprovalBroker
	Scheduler    *scheduler.Scheduler
	Workflows    *swarm.WorkflowStore
	Orchestrator *swarm.Orchestrator
	ActionLog    *actionlog.Log
	Checkpoints  *checkpoint.Store
	Undo         *undo.Service
	Bus          *eventbus.Bus
	Metrics      *metrics.Registry
	Settings     func() config.Settings
	SaveSettings func(config.Settings) error
	Token        string
	Logger       *slog.Logger
	StartedAt    time.Time
	Version      string
}

// Gateway is the Gateway (component C10).
type Gateway struct {
	deps   Deps
	token  string
	logger *slog.Logger

	mu            sync.RWMutex
	operationMode OperationMode
	operationRsn  string
	operationAt   time.Time

	approvals *ApprovalBroker
	clockNow  func() time.Time
}

// New builds a Gateway ready to mount on an http.Server.
func New(deps Deps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Gateway{
		deps: deps, token: deps.Token, logger: deps.Logger,
		operationMode: ModeNormal,
		operationAt:   time.Now(),
		approvals:     deps.Approvals,
		clockNow:      time.Now,
	}
}

// Router builds the chi router with the full route table.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.recoverer)
	r.Use(g.metricsMiddleware)
	r.Use(g.authMiddleware)

	r.Get("/health", g.handleHealth)
	r.Get("/ready", g.handleReady)
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics.Handler())
	}

	r.Get("/settings/daemon", g.handleGetSettings)
	r.Patch("/settings/daemon", g.handlePatchSettings)

	r.Get("/control/operation", g.handleGetOperation)
	r.Patch("/control/operation", g.handlePatchOperation)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", g.handleCreateRun)
		r.Get("/", g.handleListRuns)
		r.Get("/{id}", g.handleGetRun)
		r.Get("/{id}/events", g.handleRunEvents)
		r.Get("/{id}/checkpoint", g.handleGetCheckpoint)
		r.Post("/{id}/{action}", g.handleRunAction)
		r.Post("/{id}/steps/{stepId}/approval", g.handleStepApproval)
	})

	r.Route("/scheduler/jobs", func(r chi.Router) {
		r.Get("/", g.handleListJobs)
		r.Post("/", g.handleCreateJob)
		r.Get("/{id}", g.handleGetJob)
		r.Patch("/{id}", g.handleUpdateJob)
		r.Delete("/{id}", g.handleDeleteJob)
	})

	r.Route("/swarm/workflows", func(r chi.Router) {
		r.Get("/", g.handleListWorkflows)
		r.Post("/", g.handleCreateWorkflow)
		r.Get("/{id}", g.handleGetWorkflow)
		r.Patch("/{id}", g.handleUpdateWorkflow)
		r.Delete("/{id}", g.handleDeleteWorkflow)
		r.Post("/{id}/run", g.handleRunWorkflow)
		r.Get("/{id}/orchestrations/{oid}", g.handleGetOrchestration)
	})

	return r
}

// mode returns the current operation mode and reason.
func (g *Gateway) mode() (OperationMode, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operationMode, g.operationRsn
}

// requireNormal rejects write-creating requests unless the operation
// mode is normal (spec section 4.10).
func (g *Gateway) requireNormal() *errs.Error {
	mode, reason := g.mode()
	if mode == ModeNormal {
		return nil
	}
	return errs.Locked("DAEMON_OPERATION_MODE_BLOCK",
		"daemon is not accepting new work in "+string(mode)+" mode",
		reason)
}

func (g *Gateway) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("gateway: panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, errs.Internal("panic", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.admit(r); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if g.deps.Metrics != nil {
			g.deps.Metrics.GatewayRequests.WithLabelValues(routePattern(r), statusClass(sw.status)).Inc()
		}
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// statusWriter captures the response status for metrics, mirroring
// the teacher's own responseWriter wrapper used for HTTP observability
// (and implements http.Flusher so SSE streaming keeps working).
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
