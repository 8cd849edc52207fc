// Package metrics exposes the daemon's /metrics endpoint. Scope is
// deliberately narrow — counters for the four subsystems
// that matter for operating the daemon, not a full tracing pipeline
// (see SPEC_FULL.md domain stack notes on why the OpenTelemetry SDK
// stack was not carried over).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry holds the daemon's Prometheus collectors. SchedulerTicks and
// SchedulerRuns are registered and exported, but nothing in the daemon
// increments them, so both always read zero.
type Registry struct {
	reg *prometheus.Registry

	BusDropped       prometheus.Counter
	BusPublished      *prometheus.CounterVec
	SchedulerTicks    prometheus.Counter
	SchedulerRuns     *prometheus.CounterVec
	GatewayRequests   *prometheus.CounterVec
	RunsCreated       prometheus.Counter
}

// New creates a fresh collector registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		BusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "undoable_eventbus_dropped_total",
			Help: "Events dropped because a subscriber queue overflowed.",
		}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undoable_eventbus_published_total",
			Help: "Events published by topic.",
		}, []string{"topic"}),
		SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "undoable_scheduler_ticks_total",
			Help: "Scheduler dispatch ticks processed.",
		}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undoable_scheduler_job_runs_total",
			Help: "Scheduled job executions by terminal status.",
		}, []string{"status"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undoable_gateway_requests_total",
			Help: "HTTP requests handled by the gateway by route and status class.",
		}, []string{"route", "status"}),
		RunsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "undoable_runs_created_total",
			Help: "Runs created through the gateway's POST /runs route.",
		}),
	}
	reg.MustRegister(r.BusDropped, r.BusPublished, r.SchedulerTicks, r.SchedulerRuns, r.GatewayRequests, r.RunsCreated)
	return r
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// IncDropped satisfies eventbus's metricsSink interface.
func (r *Registry) IncDropped() { r.BusDropped.Inc() }

// IncPublished satisfies eventbus's metricsSink interface.
func (r *Registry) IncPublished(topic string) { r.BusPublished.WithLabelValues(topic).Inc() }
