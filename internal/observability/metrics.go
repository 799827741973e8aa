// Package observability — metrics.go
//
// Prometheus metrics for cogosd.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: the configured address (loopback by default).
//
// Metric naming convention: cogos_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for cogosd.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Orchestrator ───────────────────────────────────────────────────

	TasksSubmittedTotal prometheus.Counter
	TasksCompletedTotal prometheus.Counter
	TasksFailedTotal    prometheus.Counter
	TasksStolenTotal    prometheus.Counter
	QueueDepth          prometheus.Gauge

	// ─── Reflex engine ──────────────────────────────────────────────────

	FrameDurationSeconds prometheus.Histogram
	RaysDispatchedTotal  prometheus.Counter

	// ─── GPU adapter ────────────────────────────────────────────────────

	GPUDispatchesTotal *prometheus.CounterVec // labels: outcome (complete, partial)

	// ─── Genome / batch runner ──────────────────────────────────────────

	MutationsExecutedTotal prometheus.Counter
	MutationsPassedTotal   prometheus.Counter

	// ─── Regression detector ────────────────────────────────────────────

	RegressionsDetectedTotal prometheus.Counter

	// ─── Live patcher ───────────────────────────────────────────────────

	PatchesAppliedTotal    prometheus.Counter
	PatchesRolledBackTotal prometheus.Counter

	// ─── Dream controller ───────────────────────────────────────────────

	DreamSessionsTotal prometheus.Counter
	DreamCyclesTotal   prometheus.Counter

	// ─── Daemon ──────────────────────────────────────────────────────────

	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all cogosd Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TasksSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "orchestrator", Name: "tasks_submitted_total",
			Help: "Total tasks submitted to the orchestrator.",
		}),
		TasksCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "orchestrator", Name: "tasks_completed_total",
			Help: "Total tasks completed successfully.",
		}),
		TasksFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "orchestrator", Name: "tasks_failed_total",
			Help: "Total tasks that failed execution.",
		}),
		TasksStolenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "orchestrator", Name: "tasks_stolen_total",
			Help: "Total tasks completed via a work-steal rather than a local pop.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cogos", Subsystem: "orchestrator", Name: "queue_depth",
			Help: "Current pending task count.",
		}),

		FrameDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cogos", Subsystem: "reflex", Name: "frame_duration_seconds",
			Help:    "Megakernel frame loop iteration duration.",
			Buckets: prometheus.DefBuckets,
		}),
		RaysDispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "reflex", Name: "rays_dispatched_total",
			Help: "Total logic rays dispatched for execution.",
		}),

		GPUDispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "gpu", Name: "dispatches_total",
			Help: "Total GPU dispatch batches, by outcome.",
		}, []string{"outcome"}),

		MutationsExecutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "genome", Name: "mutations_executed_total",
			Help: "Total mutation candidates executed.",
		}),
		MutationsPassedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "genome", Name: "mutations_passed_total",
			Help: "Total mutation candidates that passed verification.",
		}),

		RegressionsDetectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "regression", Name: "detected_total",
			Help: "Total performance regressions detected.",
		}),

		PatchesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "patcher", Name: "applied_total",
			Help: "Total live patches applied.",
		}),
		PatchesRolledBackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "patcher", Name: "rolledback_total",
			Help: "Total live patches rolled back.",
		}),

		DreamSessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "dream", Name: "sessions_total",
			Help: "Total dream sessions started.",
		}),
		DreamCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cogos", Subsystem: "dream", Name: "cycles_total",
			Help: "Total dream mutation cycles completed.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cogos", Subsystem: "daemon", Name: "uptime_seconds",
			Help: "Seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.TasksSubmittedTotal,
		m.TasksCompletedTotal,
		m.TasksFailedTotal,
		m.TasksStolenTotal,
		m.QueueDepth,
		m.FrameDurationSeconds,
		m.RaysDispatchedTotal,
		m.GPUDispatchesTotal,
		m.MutationsExecutedTotal,
		m.MutationsPassedTotal,
		m.RegressionsDetectedTotal,
		m.PatchesAppliedTotal,
		m.PatchesRolledBackTotal,
		m.DreamSessionsTotal,
		m.DreamCyclesTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
