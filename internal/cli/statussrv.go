package cli

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clawban/kanban-workflow/internal/statusserver"
)

// statusHolder is the StatusProvider the optional status server reads
// through. It is updated once per tick and is safe for concurrent reads
// while the server is serving a single autopilot-tick/cron-dispatch
// invocation.
type statusHolder struct {
	mu     sync.Mutex
	status statusserver.Status
}

func (h *statusHolder) CurrentStatus() statusserver.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *statusHolder) set(s statusserver.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

// statusServerHandle bundles the running server with the holder/metrics
// runTick reports into, and the stop func deferred by the caller.
type statusServerHandle struct {
	holder  *statusHolder
	metrics *statusserver.Metrics
	stop    func()
}

// maybeStartStatusServer starts the read-only status server when addr is
// non-empty. When addr is empty it returns a handle whose holder/metrics
// are still safe to report into (they simply have no reader), so callers
// never need to nil-check.
func maybeStartStatusServer(addr string) (*statusServerHandle, error) {
	registry := prometheus.NewRegistry()
	holder := &statusHolder{}
	metrics := statusserver.NewMetrics(registry)

	if addr == "" {
		return &statusServerHandle{holder: holder, metrics: metrics, stop: func() {}}, nil
	}

	srv := statusserver.New(addr, holder, registry)
	go func() { _ = srv.ListenAndServe() }()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}

	return &statusServerHandle{holder: holder, metrics: metrics, stop: stop}, nil
}
