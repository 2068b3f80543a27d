// Package statusserver exposes an optional, read-only HTTP surface for
// operators: a liveness check, the current session/tick status as JSON,
// and a Prometheus metrics endpoint. It never accepts a mutating request;
// all board mutation happens through the CLI.
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the current snapshot of autopilot state the /status endpoint
// serializes. StatusProvider supplies a fresh one on every request.
type Status struct {
	ActiveTicketID string    `json:"activeTicketId,omitempty"`
	LastTickAt     time.Time `json:"lastTickAt,omitempty"`
	LastOutcome    string    `json:"lastOutcome,omitempty"`
	LockHeld       bool      `json:"lockHeld"`
}

// StatusProvider is implemented by whatever keeps the live autopilot
// state; the server only ever reads through it.
type StatusProvider interface {
	CurrentStatus() Status
}

// Metrics are the gauges/counters the server publishes. Callers update
// them as ticks happen; the server only serves /metrics.
type Metrics struct {
	TicksTotal      prometheus.Counter
	TickOutcomes    *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	InProgressGauge prometheus.Gauge
	LockHeldGauge   prometheus.Gauge
}

// NewMetrics registers a fresh metric set against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kwf_ticks_total",
			Help: "Total number of autopilot ticks run.",
		}),
		TickOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kwf_tick_outcomes_total",
			Help: "Autopilot tick outcomes by kind.",
		}, []string{"outcome"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "kwf_tick_duration_seconds",
			Help: "Wall-clock duration of one autopilot tick.",
		}),
		InProgressGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kwf_inprogress_count",
			Help: "Number of tickets in the in-progress stage as of the last tick.",
		}),
		LockHeldGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kwf_lock_held",
			Help: "1 when the autopilot lock is currently held, 0 otherwise.",
		}),
	}
	registry.MustRegister(m.TicksTotal, m.TickOutcomes, m.TickDuration, m.InProgressGauge, m.LockHeldGauge)
	return m
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds a chi router exposing /healthz, /status, and /metrics, CORS'd
// for any origin since this surface is read-only and carries no secrets.
func New(addr string, provider StatusProvider, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(provider.CurrentStatus())
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: r}}
}

// ListenAndServe blocks serving until the server errors or is shut down.
// http.ErrServerClosed is swallowed, matching net/http's own convention for
// a clean Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
