// Package main — cmd/cogos-bench/main.go
//
// cogos-bench measures submit-to-complete latency and throughput for the
// Task Orchestrator: an iteration-loop-plus-CSV-output measurement tool
// using runtime.LockOSThread and time.Since for wall-clock timing, built
// as a submit/poll-until-complete latency probe against an in-process
// orchestrator instance.
//
// Output CSV columns: iteration, latency_us, failed.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/cogos-project/cogos-core/internal/entropy"
	"github.com/cogos-project/cogos-core/internal/observability"
	"github.com/cogos-project/cogos-core/internal/orchestrator"
	"github.com/cogos-project/cogos-core/internal/task"
)

func main() {
	iterations := flag.Int("iterations", 1000, "Number of tasks to submit and measure")
	workers := flag.Int("workers", 4, "Orchestrator worker pool size")
	outputFile := flag.String("output", "cogos_bench_latency.csv", "Output CSV file path")
	pollInterval := flag.Duration("poll-interval", 200*time.Microsecond, "Completion poll interval")
	timeout := flag.Duration("timeout", 2*time.Second, "Per-task completion timeout")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "failed"})

	registry := task.NewRegistry()
	monitor := entropy.NewMonitor(entropy.DefaultCapacity, entropy.DefaultThresholds())
	orch := orchestrator.New(orchestrator.Config{
		WorkerCount:    *workers,
		MaxQueueSize:   *iterations + 1,
		StealBatchSize: 8,
		PollInterval:   time.Millisecond,
	}, registry, monitor, orchestrator.NewDeterministicExecutor(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout**iterations+10*time.Second)
	defer cancel()
	go orch.Start(ctx)
	defer orch.Shutdown()

	samples := make([]float64, 0, *iterations)
	var failures int

	for i := 0; i < *iterations; i++ {
		start := time.Now()
		id, err := orch.Submit(task.Task{Payload: task.Payload{Kind: task.PayloadCompute}})
		if err != nil {
			_ = w.Write([]string{fmt.Sprint(i), "0", "true"})
			failures++
			continue
		}

		failed := !waitForCompletion(orch, id, *pollInterval, *timeout)
		latency := time.Since(start)
		latencyUs := float64(latency.Microseconds())
		samples = append(samples, latencyUs)
		if failed {
			failures++
		}
		_ = w.Write([]string{fmt.Sprint(i), fmt.Sprintf("%.0f", latencyUs), fmt.Sprint(failed)})
	}

	pct := observability.ComputePercentiles(samples)
	throughput := 0.0
	if len(samples) > 0 {
		totalSeconds := sumSeconds(samples)
		if totalSeconds > 0 {
			throughput = float64(len(samples)) / totalSeconds
		}
	}

	fmt.Printf("cogos-bench: submit-to-complete latency (%d iterations, %d workers)\n", *iterations, *workers)
	fmt.Printf("  failures: %d/%d\n", failures, *iterations)
	fmt.Printf("  p50: %.0fus  p95: %.0fus  p99: %.0fus\n", pct.P50, pct.P95, pct.P99)
	fmt.Printf("  approx throughput: %.1f tasks/sec\n", throughput)
	fmt.Printf("  output: %s\n", *outputFile)
}

func waitForCompletion(orch *orchestrator.Orchestrator, id task.ID, poll, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, ok := orch.Status(id)
		if ok && st.Kind.IsTerminal() {
			return st.Kind == task.StatusCompleted
		}
		time.Sleep(poll)
	}
	return false
}

func sumSeconds(samplesUs []float64) float64 {
	var totalUs float64
	for _, s := range samplesUs {
		totalUs += s
	}
	return totalUs / 1_000_000
}
