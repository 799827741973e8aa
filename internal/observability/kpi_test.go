package observability

import (
	"testing"
	"time"
)

func TestKPITable_PrevCurrentMinMax(t *testing.T) {
	tab := NewKPITable()
	tab.Record(KPIThroughput, 10)
	tab.Record(KPIThroughput, 25)
	tab.Record(KPIThroughput, 5)

	snap := tab.Snapshot()[KPIThroughput]
	if snap.Current != 5 || snap.Prev != 25 {
		t.Fatalf("expected current=5 prev=25, got current=%v prev=%v", snap.Current, snap.Prev)
	}
	if snap.Min != 5 || snap.Max != 25 {
		t.Fatalf("expected min=5 max=25, got min=%v max=%v", snap.Min, snap.Max)
	}
}

func TestEventTrace_WrapsAtCapacity(t *testing.T) {
	trace := NewEventTrace()
	for i := 0; i < eventTraceCapacity+10; i++ {
		trace.Record("test", "msg", time.Now())
	}
	snap := trace.Snapshot()
	if len(snap) != eventTraceCapacity {
		t.Fatalf("expected %d events, got %d", eventTraceCapacity, len(snap))
	}
}

func TestComputePercentiles_Monotonic(t *testing.T) {
	samples := make([]float64, 64)
	for i := range samples {
		samples[i] = float64(i)
	}
	p := ComputePercentiles(samples)
	if !(p.P50 <= p.P95 && p.P95 <= p.P99) {
		t.Fatalf("expected p50 <= p95 <= p99, got %+v", p)
	}
}
