// Package batchrun — batchrun.go
//
// Batch Runner: executes a batch of at most 32 mutation
// candidates honoring 16-bit intra-batch dependency bitmasks, bounded by
// a max_concurrent semaphore implemented as a buffered-channel token
// pool.

package batchrun

import (
	"context"
	"sync"
	"time"

	"github.com/cogos-project/cogos-core/contrib"
	"github.com/cogos-project/cogos-core/internal/genome"
)

// MaxBatchMutations is the hard cap on mutations per batch.
const MaxBatchMutations = 32

// Status is the closed set of batch lifecycle states.
type Status uint8

const (
	StatusQueued Status = iota
	StatusPreparing
	StatusExecuting
	StatusComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusPreparing:
		return "preparing"
	case StatusExecuting:
		return "executing"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MutationResult is the recorded outcome of one mutation trial.
type MutationResult struct {
	MutationID     uint32
	Passed         bool
	ImprovementPct float64
	DurationMS     int64
	ActualMemoryKB int64
}

// Batch is a bounded set of mutation candidates queued for trial.
type Batch struct {
	ID         uint64
	Mutations  []genome.Candidate
	Status     Status
	Results    map[uint32]MutationResult
	baselineOK bool
}

// NewBatch creates a batch, truncating to MaxBatchMutations if necessary.
func NewBatch(id uint64, mutations []genome.Candidate) *Batch {
	if len(mutations) > MaxBatchMutations {
		mutations = mutations[:MaxBatchMutations]
	}
	return &Batch{ID: id, Mutations: mutations, Status: StatusQueued, Results: make(map[uint32]MutationResult)}
}

// BaselineFn measures the current baseline throughput a mutation's
// improvement is computed against (typically internal/regression's
// current baseline).
type BaselineFn func() float64

// Runner executes batches against a FitnessOracle, bounded by
// max_concurrent and honoring dependency bitmasks.
type Runner struct {
	oracle        contrib.FitnessOracle
	tables        *genome.Tables
	maxConcurrent int
	testID        string
	baseline      BaselineFn
}

// NewRunner creates a Runner. testID is passed to the oracle's
// run_benchmark contract.
func NewRunner(oracle contrib.FitnessOracle, tables *genome.Tables, maxConcurrent int, testID string, baseline BaselineFn) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{oracle: oracle, tables: tables, maxConcurrent: maxConcurrent, testID: testID, baseline: baseline}
}

// Execute runs every mutation in the batch exactly once, respecting
// dependency bitmasks (a mutation may start only once every dependency
// index within the batch has a recorded result), bounded concurrency via
// a buffered-channel semaphore.
func (r *Runner) Execute(ctx context.Context, b *Batch) {
	b.Status = StatusPreparing
	n := len(b.Mutations)
	if n == 0 {
		b.Status = StatusComplete
		return
	}

	var mu sync.Mutex
	done := make([]bool, n)
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup

	b.Status = StatusExecuting

	for i := range b.Mutations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			mu.Lock()
			for !dependenciesMet(b.Mutations[i].DependencyMask, done) {
				cond.Wait()
			}
			mu.Unlock()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				done[i] = true
				cond.Broadcast()
				mu.Unlock()
				return
			}
			result := r.runOne(b.Mutations[i])
			<-sem

			mu.Lock()
			b.Results[b.Mutations[i].MutationID] = result
			done[i] = true
			cond.Broadcast()
			mu.Unlock()

			r.tables.RecordOutcome(b.Mutations[i].MutationType, result.Passed)
		}(i)
	}

	wg.Wait()

	failures := 0
	for _, res := range b.Results {
		if !res.Passed {
			failures++
		}
	}
	if failures == n && n > 0 {
		b.Status = StatusFailed
	} else {
		b.Status = StatusComplete
	}
}

// dependenciesMet reports whether every bit set in mask refers to an
// index whose result has already been recorded.
func dependenciesMet(mask uint16, done []bool) bool {
	for i := 0; i < len(done) && i < 16; i++ {
		if mask&(1<<uint(i)) != 0 && !done[i] {
			return false
		}
	}
	return true
}

func (r *Runner) runOne(c genome.Candidate) MutationResult {
	start := time.Now()
	res, err := r.oracle.RunBenchmark(contrib.BenchmarkRequest{TestID: r.testID, CodeSize: int(c.EstMemoryKB) * 1024})
	elapsed := time.Since(start)

	if err != nil {
		return MutationResult{MutationID: c.MutationID, Passed: false, DurationMS: elapsed.Milliseconds()}
	}

	var improvement float64
	if r.baseline != nil {
		if base := r.baseline(); base > 0 {
			improvement = (res.ThroughputOpsPerSec - base) / base * 100
		}
	}

	return MutationResult{
		MutationID:     c.MutationID,
		Passed:         improvement > 0,
		ImprovementPct: improvement,
		DurationMS:     elapsed.Milliseconds(),
		ActualMemoryKB: res.MemoryUsedKB,
	}
}
