// Package config provides configuration loading, validation, and
// defaults for the cogos daemon.
//
// Configuration file: /etc/cogos/config.yaml (default)
// Schema version: 1
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., alpha in [0,1], weights >= 0).
//   - File paths must be absolute.
//   - Invalid config on startup: the daemon refuses to start (fatal error).

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for cogosd.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this cogos instance in audit entries and metrics.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	// Orchestrator configures the task orchestrator and CPU worker pool.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Reflex configures the megakernel frame loop.
	Reflex ReflexConfig `yaml:"reflex"`

	// GPU configures the dispatch adapter.
	GPU GPUConfig `yaml:"gpu"`

	// Genome configures the mutation generator and batch runner.
	Genome GenomeConfig `yaml:"genome"`

	// Regression configures the performance regression detector.
	Regression RegressionConfig `yaml:"regression"`

	// Patcher configures the live patch applier.
	Patcher PatcherConfig `yaml:"patcher"`

	// Dream configures the idle self-optimization controller.
	Dream DreamConfig `yaml:"dream"`

	// Audit configures the BoltDB-backed patch/dream ledger.
	Audit AuditConfig `yaml:"audit"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// OrchestratorConfig holds task orchestrator parameters.
type OrchestratorConfig struct {
	// WorkerCount is the size of the CPU worker pool. Default: 4.
	WorkerCount int `yaml:"worker_count"`

	// MaxQueueSize is the back-pressure cutoff on pending tasks. Default: 10000.
	MaxQueueSize int `yaml:"max_queue_size"`

	// StealBatchSize is how many rays a steal takes from a victim at once.
	// Default: 8.
	StealBatchSize int `yaml:"steal_batch_size"`

	// PollInterval is the idle backoff between scheduling passes. Default: 1ms.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ReflexConfig holds megakernel frame loop parameters.
type ReflexConfig struct {
	// WorkerThreads is the number of CPU-simulation fallback threads.
	// Default: 4.
	WorkerThreads int `yaml:"worker_threads"`

	// TargetFrameTimeUS is the target frame budget in microseconds.
	// Default: 16000 (60Hz).
	TargetFrameTimeUS int64 `yaml:"target_frame_time_us"`

	// MaxQueueSize caps rays drained per frame source pass. Default: 4096.
	MaxQueueSize int `yaml:"max_queue_size"`

	// PerFrameLimit is how many rays are drained into worker queues each
	// frame. Default: 512.
	PerFrameLimit int `yaml:"per_frame_limit"`
}

// GPUConfig holds GPU dispatch adapter parameters.
type GPUConfig struct {
	// IterationBudget is the per-dispatch iteration budget written into the
	// dispatch header. Default: 64.
	IterationBudget uint32 `yaml:"iteration_budget"`

	// MaxDispatches bounds the re-dispatch watchdog loop per batch.
	// Default: 4.
	MaxDispatches int `yaml:"max_dispatches"`

	// WorkgroupSize is the GPU workgroup size used to compute dispatch
	// counts. Default: 256.
	WorkgroupSize int `yaml:"workgroup_size"`

	// Simulated selects the CPU-simulation pipeline instead of a real GPU
	// backend. Default: true (no GPU backend ships in this module).
	Simulated bool `yaml:"simulated"`
}

// GenomeConfig holds mutation generator and batch runner parameters
//.
type GenomeConfig struct {
	// MinBatchSize / MaxBatchSize bound the adaptive batcher. Defaults: 1, 32.
	MinBatchSize int `yaml:"min_batch_size"`
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxConcurrent bounds concurrent mutation execution within a batch.
	// Default: 8.
	MaxConcurrent int `yaml:"max_concurrent"`

	// HotspotRankStep is the increment applied to a patch point's hotspot
	// rank each time it is selected. Default: 10.
	HotspotRankStep int `yaml:"hotspot_rank_step"`

	// HotspotRankCap bounds the hotspot rank. Default: 1000.
	HotspotRankCap int `yaml:"hotspot_rank_cap"`
}

// RegressionConfig holds performance regression detector parameters
//.
type RegressionConfig struct {
	// EMAAlpha is the baseline smoothing factor. Default: 0.3.
	EMAAlpha float64 `yaml:"ema_alpha"`

	// HistorySize is the rolling throughput history length. Default: 100.
	HistorySize int `yaml:"history_size"`

	// BaseThreshold is the base percent-change significance threshold
	// before adaptive scaling. Default: 2.0.
	BaseThreshold float64 `yaml:"base_threshold"`
}

// PatcherConfig holds live patch applier parameters.
type PatcherConfig struct {
	// MaxPending bounds queued-but-unapplied patches. Default: 50.
	MaxPending int `yaml:"max_pending"`

	// HealthCheckBufferSize is the circular health-check buffer length.
	// Default: 50.
	HealthCheckBufferSize int `yaml:"health_check_buffer_size"`

	// RollbackFailureThreshold is the health-check kind bound: failed
	// checks of a kind below it flag a patch for rollback. Default: 3.
	// The patcher uses its own built-in bound of 3 and does not read this
	// field.
	RollbackFailureThreshold int `yaml:"rollback_failure_threshold"`
}

// DreamConfig holds the idle self-optimization controller parameters
//.
type DreamConfig struct {
	// Enabled gates whether dream sessions may start at all. Default: true.
	Enabled bool `yaml:"enabled"`

	// TimeBudgetMS is the default per-session time budget. Default: 60000.
	TimeBudgetMS int64 `yaml:"time_budget_ms"`

	// MemoryBudgetKB is the default per-session memory budget. Default: 102400.
	MemoryBudgetKB int64 `yaml:"memory_budget_kb"`
}

// AuditConfig holds the BoltDB-backed patch/dream ledger parameters.
type AuditConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	// Default: /var/lib/cogos/audit.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the ledger retention period. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// DefaultDBPath is the default audit ledger location.
const DefaultDBPath = "/var/lib/cogos/audit.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Orchestrator: OrchestratorConfig{
			WorkerCount:    4,
			MaxQueueSize:   10000,
			StealBatchSize: 8,
			PollInterval:   time.Millisecond,
		},
		Reflex: ReflexConfig{
			WorkerThreads:     4,
			TargetFrameTimeUS: 16000,
			MaxQueueSize:      4096,
			PerFrameLimit:     512,
		},
		GPU: GPUConfig{
			IterationBudget: 64,
			MaxDispatches:   4,
			WorkgroupSize:   256,
			Simulated:       true,
		},
		Genome: GenomeConfig{
			MinBatchSize:    1,
			MaxBatchSize:    32,
			MaxConcurrent:   8,
			HotspotRankStep: 10,
			HotspotRankCap:  1000,
		},
		Regression: RegressionConfig{
			EMAAlpha:      0.3,
			HistorySize:   100,
			BaseThreshold: 2.0,
		},
		Patcher: PatcherConfig{
			MaxPending:               50,
			HealthCheckBufferSize:    50,
			RollbackFailureThreshold: 3,
		},
		Dream: DreamConfig{
			Enabled:        true,
			TimeBudgetMS:   60000,
			MemoryBudgetKB: 102400,
		},
		Audit: AuditConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a single
// error aggregating every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Orchestrator.WorkerCount < 1 || cfg.Orchestrator.WorkerCount > 256 {
		errs = append(errs, fmt.Sprintf("orchestrator.worker_count must be in [1, 256], got %d", cfg.Orchestrator.WorkerCount))
	}
	if cfg.Orchestrator.MaxQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("orchestrator.max_queue_size must be >= 1, got %d", cfg.Orchestrator.MaxQueueSize))
	}
	if cfg.Reflex.WorkerThreads < 1 {
		errs = append(errs, fmt.Sprintf("reflex.worker_threads must be >= 1, got %d", cfg.Reflex.WorkerThreads))
	}
	if cfg.Reflex.TargetFrameTimeUS < 1 {
		errs = append(errs, fmt.Sprintf("reflex.target_frame_time_us must be >= 1, got %d", cfg.Reflex.TargetFrameTimeUS))
	}
	if cfg.Reflex.PerFrameLimit < 1 {
		errs = append(errs, fmt.Sprintf("reflex.per_frame_limit must be >= 1, got %d", cfg.Reflex.PerFrameLimit))
	}
	if cfg.GPU.IterationBudget < 1 {
		errs = append(errs, fmt.Sprintf("gpu.iteration_budget must be >= 1, got %d", cfg.GPU.IterationBudget))
	}
	if cfg.GPU.MaxDispatches < 1 {
		errs = append(errs, fmt.Sprintf("gpu.max_dispatches must be >= 1, got %d", cfg.GPU.MaxDispatches))
	}
	if cfg.GPU.WorkgroupSize < 1 {
		errs = append(errs, fmt.Sprintf("gpu.workgroup_size must be >= 1, got %d", cfg.GPU.WorkgroupSize))
	}
	if cfg.Genome.MinBatchSize < 1 || cfg.Genome.MinBatchSize > cfg.Genome.MaxBatchSize {
		errs = append(errs, fmt.Sprintf("genome.min_batch_size must be in [1, max_batch_size], got %d", cfg.Genome.MinBatchSize))
	}
	if cfg.Genome.MaxBatchSize > 32 {
		errs = append(errs, fmt.Sprintf("genome.max_batch_size must be <= 32, got %d", cfg.Genome.MaxBatchSize))
	}
	if cfg.Genome.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("genome.max_concurrent must be >= 1, got %d", cfg.Genome.MaxConcurrent))
	}
	if cfg.Regression.EMAAlpha < 0.0 || cfg.Regression.EMAAlpha > 1.0 {
		errs = append(errs, fmt.Sprintf("regression.ema_alpha must be in [0.0, 1.0], got %f", cfg.Regression.EMAAlpha))
	}
	if cfg.Regression.HistorySize < 1 {
		errs = append(errs, fmt.Sprintf("regression.history_size must be >= 1, got %d", cfg.Regression.HistorySize))
	}
	if cfg.Patcher.MaxPending < 1 {
		errs = append(errs, fmt.Sprintf("patcher.max_pending must be >= 1, got %d", cfg.Patcher.MaxPending))
	}
	if cfg.Patcher.HealthCheckBufferSize < 1 {
		errs = append(errs, fmt.Sprintf("patcher.health_check_buffer_size must be >= 1, got %d", cfg.Patcher.HealthCheckBufferSize))
	}
	if cfg.Dream.TimeBudgetMS < 0 {
		errs = append(errs, fmt.Sprintf("dream.time_budget_ms must be >= 0, got %d", cfg.Dream.TimeBudgetMS))
	}
	if cfg.Dream.MemoryBudgetKB < 0 {
		errs = append(errs, fmt.Sprintf("dream.memory_budget_kb must be >= 0, got %d", cfg.Dream.MemoryBudgetKB))
	}
	if cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.db_path must not be empty")
	} else if !filepath.IsAbs(cfg.Audit.DBPath) {
		errs = append(errs, fmt.Sprintf("audit.db_path must be absolute, got %q", cfg.Audit.DBPath))
	}
	if cfg.Audit.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("audit.retention_days must be >= 1, got %d", cfg.Audit.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
