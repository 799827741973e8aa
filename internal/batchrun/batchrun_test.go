package batchrun_test

import (
	"context"
	"testing"

	"github.com/cogos-project/cogos-core/contrib"
	"github.com/cogos-project/cogos-core/internal/batchrun"
	"github.com/cogos-project/cogos-core/internal/genome"
)

func TestRunner_HonorsDependencyChain(t *testing.T) {
	tables := genome.NewTables()
	oracle := contrib.NewDeterministicOracle()
	runner := batchrun.NewRunner(oracle, tables, 4, "dep-chain", func() float64 { return 100 })

	// m1 -> m2 -> {m3, m4}: m2 depends on m1 (bit 0), m3 and m4 depend on m2 (bit 1).
	mutations := []genome.Candidate{
		{MutationID: 1, PatchPointID: 1},
		{MutationID: 2, PatchPointID: 2, DependencyMask: 1 << 0},
		{MutationID: 3, PatchPointID: 3, DependencyMask: 1 << 1},
		{MutationID: 4, PatchPointID: 4, DependencyMask: 1 << 1},
	}
	batch := batchrun.NewBatch(1, mutations)
	runner.Execute(context.Background(), batch)

	if batch.Status != batchrun.StatusComplete && batch.Status != batchrun.StatusFailed {
		t.Fatalf("expected a terminal batch status, got %v", batch.Status)
	}
	if len(batch.Results) != len(mutations) {
		t.Fatalf("expected a result for every mutation, got %d of %d", len(batch.Results), len(mutations))
	}
}

func TestRunner_TruncatesOversizedBatch(t *testing.T) {
	mutations := make([]genome.Candidate, 40)
	for i := range mutations {
		mutations[i] = genome.Candidate{MutationID: uint32(i + 1)}
	}
	batch := batchrun.NewBatch(1, mutations)
	if len(batch.Mutations) != batchrun.MaxBatchMutations {
		t.Fatalf("expected truncation to %d mutations, got %d", batchrun.MaxBatchMutations, len(batch.Mutations))
	}
}

func TestRunner_EmptyBatchCompletesImmediately(t *testing.T) {
	tables := genome.NewTables()
	oracle := contrib.NewDeterministicOracle()
	runner := batchrun.NewRunner(oracle, tables, 2, "empty", nil)
	batch := batchrun.NewBatch(1, nil)
	runner.Execute(context.Background(), batch)
	if batch.Status != batchrun.StatusComplete {
		t.Fatalf("expected empty batch to complete, got %v", batch.Status)
	}
}
