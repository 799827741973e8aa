package task_test

import (
	"testing"
	"time"

	"github.com/cogos-project/cogos-core/internal/task"
)

func TestRegistry_CompleteIsWriteOnce(t *testing.T) {
	r := task.NewRegistry()
	tk := &task.Task{ID: 1, CreatedAt: time.Now()}
	r.Put(tk)

	if _, ok := r.Complete(1, time.Now()); !ok {
		t.Fatal("expected first Complete to succeed")
	}
	if _, ok := r.Complete(1, time.Now()); ok {
		t.Fatal("expected second Complete to be rejected (write-once terminal status)")
	}

	st, ok := r.Status(1)
	if !ok || st.Kind != task.StatusCompleted {
		t.Fatalf("expected StatusCompleted, got %+v", st)
	}
}

func TestRegistry_FailAfterCompleteRejected(t *testing.T) {
	r := task.NewRegistry()
	tk := &task.Task{ID: 2, CreatedAt: time.Now()}
	r.Put(tk)
	r.Complete(2, time.Now())

	if r.Fail(2, "boom") {
		t.Fatal("expected Fail on terminal entry to be rejected")
	}
}

func TestRegistry_LatencyMonotonic(t *testing.T) {
	r := task.NewRegistry()
	created := time.Now()
	tk := &task.Task{ID: 3, CreatedAt: created}
	r.Put(tk)

	d, ok := r.Complete(3, created.Add(5*time.Millisecond))
	if !ok {
		t.Fatal("expected Complete to succeed")
	}
	if d < 0 {
		t.Fatalf("expected non-negative duration, got %v", d)
	}
}

func TestRegistry_SnapshotConservation(t *testing.T) {
	r := task.NewRegistry()
	for i := task.ID(1); i <= 10; i++ {
		r.Put(&task.Task{ID: i, CreatedAt: time.Now()})
	}
	for i := task.ID(1); i <= 6; i++ {
		r.Complete(i, time.Now())
	}
	r.Fail(7, "err")

	snap := r.Snapshot()
	if snap.Submitted != 10 {
		t.Fatalf("expected submitted=10, got %d", snap.Submitted)
	}
	if snap.Completed != 6 {
		t.Fatalf("expected completed=6, got %d", snap.Completed)
	}
	if snap.Failed != 1 {
		t.Fatalf("expected failed=1, got %d", snap.Failed)
	}
	if snap.Pending != 3 {
		t.Fatalf("expected pending=3, got %d", snap.Pending)
	}
}

func TestRegistry_DrainCompletions(t *testing.T) {
	r := task.NewRegistry()
	r.Put(&task.Task{ID: 1, CreatedAt: time.Now()})
	r.Put(&task.Task{ID: 2, CreatedAt: time.Now()})
	r.Complete(1, time.Now())
	r.Fail(2, "nope")

	got := r.DrainCompletions(10)
	if len(got) != 2 {
		t.Fatalf("expected 2 drained completions, got %d", len(got))
	}
	if _, ok := r.Get(1); ok {
		t.Fatal("expected drained entry to be removed from registry")
	}
}
