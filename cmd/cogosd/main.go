// Package main — cmd/cogosd/main.go
//
// cogosd entrypoint: wires the two-tier task execution fabric (Task
// Orchestrator + Reflex Engine) and the self-optimization loop (genome,
// batch runner, regression detector, live patcher, dream controller)
// together: load config, build logger, open audit store, start metrics,
// start engines, block on signal, graceful shutdown.
//
// On BoltDB open failure or config validation failure: exit 1
// immediately (no partial state). Library code never calls os.Exit;
// only this file does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cogos-project/cogos-core/contrib"
	"github.com/cogos-project/cogos-core/internal/audit"
	"github.com/cogos-project/cogos-core/internal/batchrun"
	"github.com/cogos-project/cogos-core/internal/config"
	"github.com/cogos-project/cogos-core/internal/dream"
	"github.com/cogos-project/cogos-core/internal/entropy"
	"github.com/cogos-project/cogos-core/internal/genome"
	"github.com/cogos-project/cogos-core/internal/gpu"
	"github.com/cogos-project/cogos-core/internal/observability"
	"github.com/cogos-project/cogos-core/internal/orchestrator"
	"github.com/cogos-project/cogos-core/internal/patcher"
	"github.com/cogos-project/cogos-core/internal/reflex"
	"github.com/cogos-project/cogos-core/internal/regression"
	"github.com/cogos-project/cogos-core/internal/task"
)

func main() {
	configPath := flag.String("config", "/etc/cogos/config.yaml", "Path to config.yaml")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cogosd %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("cogosd starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, err := audit.Open(cfg.Audit.DBPath, cfg.Audit.RetentionDays)
	if err != nil {
		log.Fatal("audit ledger open failed", zap.Error(err), zap.String("path", cfg.Audit.DBPath))
	}
	defer ledger.Close() //nolint:errcheck
	log.Info("audit ledger opened", zap.String("path", cfg.Audit.DBPath))

	if pruned, err := ledger.PruneOldEvents(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Task execution fabric ──────────────────────────────────────────────
	registry := task.NewRegistry()
	monitor := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())

	orch := orchestrator.New(orchestrator.Config{
		WorkerCount:    cfg.Orchestrator.WorkerCount,
		MaxQueueSize:   cfg.Orchestrator.MaxQueueSize,
		StealBatchSize: cfg.Orchestrator.StealBatchSize,
		PollInterval:   cfg.Orchestrator.PollInterval,
	}, registry, monitor, orchestrator.NewDeterministicExecutor(), log)

	go orch.Start(ctx)
	go sampleOrchestratorStats(ctx, orch, metrics)
	log.Info("task orchestrator started", zap.Int("workers", cfg.Orchestrator.WorkerCount))

	var gpuPipeline gpu.Pipeline = gpu.NullPipeline{}
	if cfg.GPU.Simulated {
		gpuPipeline = &gpu.SimPipeline{}
	}
	adapter := gpu.NewAdapter(gpuPipeline, cfg.GPU.WorkgroupSize, cfg.GPU.MaxDispatches, cfg.GPU.IterationBudget)

	engine := reflex.New(reflex.Config{
		WorkerThreads:   cfg.Reflex.WorkerThreads,
		TargetFrameTime: time.Duration(cfg.Reflex.TargetFrameTimeUS) * time.Microsecond,
		PerFrameLimit:   cfg.Reflex.PerFrameLimit,
	}, orch, registry, monitor, adapter, log)
	engine.OnFrame(func(fs reflex.FrameStats) { recordFrameStats(metrics, fs) })

	go func() {
		if err := engine.Run(ctx); err != nil {
			log.Error("reflex engine stopped", zap.Error(err))
		}
	}()
	log.Info("reflex engine started")

	// ── Self-optimization loop ─────────────────────────────────────────────
	tables := genome.NewTables()
	batcher := genome.NewAdaptiveBatcher(genome.BatcherConfig{Min: cfg.Genome.MinBatchSize, Max: cfg.Genome.MaxBatchSize})
	oracle := contrib.NewDeterministicOracle()
	detector := regression.NewDetector(cfg.Regression.EMAAlpha, cfg.Regression.BaseThreshold)
	patch := patcher.New(ledger, cfg.NodeID, log)
	for i := uint64(0); i < 4; i++ {
		patch.RegisterPatchPoint(patcher.PatchPoint{ID: i, Safety: patcher.SafetyAlwaysSafe})
	}
	dreamCtl := dream.NewController()
	dreamCtl.SetEnabled(cfg.Dream.Enabled)

	runner := batchrun.NewRunner(oracle, tables, cfg.Genome.MaxConcurrent, cfg.NodeID, func() float64 {
		return detector.Baseline().Throughput
	})

	loop := &evolutionLoop{
		tables:   tables,
		batcher:  batcher,
		runner:   runner,
		detector: detector,
		patcher:  patch,
		dream:    dreamCtl,
		metrics:  metrics,
		nodeID:   cfg.NodeID,
		log:      log,
	}
	go loop.run(ctx)
	log.Info("self-optimization loop started")

	// SIGHUP re-reads and re-validates the config file only; the loaded
	// values are not applied, and running components keep their startup
	// settings.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — re-validating config...")
			if _, err := config.Load(*configPath); err != nil {
				log.Error("config re-validation failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config file valid; running components keep their startup settings")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	orch.Shutdown()
	log.Info("cogosd shutdown complete")
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
