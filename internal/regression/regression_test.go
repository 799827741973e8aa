package regression

import "testing"

func TestDetector_RollbackOnSignificantDrop(t *testing.T) {
	d := NewDetector(0.3, 2.0)

	// Seed a stable baseline around 1000 with a fixed std_dev of 50, then
	// feed a 1000 -> 940 throughput drop.
	d.baseline = Baseline{Throughput: 1000, Latency: 10, Memory: 512, StdDev: 50}
	d.initialized = true

	result := d.Observe(Sample{Throughput: 940, Latency: 10, Memory: 512}, 0, 0)

	if !result.Detected {
		t.Fatalf("expected a 6%% drop against a 2%% base threshold to be detected: %+v", result)
	}
	if !result.Significant {
		t.Fatalf("expected z-score to clear the significance bar: %+v", result)
	}
	if !result.RollbackDecision {
		t.Fatalf("expected rollback decision on a detected+significant regression: %+v", result)
	}
	if result.Confidence <= 0 {
		t.Fatalf("expected positive confidence, got %f", result.Confidence)
	}
}

func TestDetector_NoRegressionOnImprovement(t *testing.T) {
	d := NewDetector(0.3, 2.0)
	d.baseline = Baseline{Throughput: 1000, Latency: 10, Memory: 512, StdDev: 50}
	d.initialized = true

	result := d.Observe(Sample{Throughput: 1100, Latency: 9, Memory: 500}, 0, 0)

	if result.Detected || result.RollbackDecision {
		t.Fatalf("expected no regression on an improvement, got %+v", result)
	}
}

func TestDetector_TrendRegressionAfterSustainedDecline(t *testing.T) {
	d := NewDetector(0.3, 2.0)
	d.baseline = Baseline{Throughput: 1000, Latency: 10, Memory: 512, StdDev: 50}
	d.initialized = true

	// Small, individually-insignificant drops (below the 2% base
	// threshold) that nonetheless sit below baseline for 7+ of 10 samples.
	var last Result
	for i := 0; i < 10; i++ {
		throughput := 995.0
		if i%4 == 0 {
			throughput = 1005
		}
		last = d.Observe(Sample{Throughput: throughput, Latency: 10, Memory: 512}, 0, 0)
	}

	if !last.TrendRegression {
		t.Fatalf("expected trend regression after 10 samples with >=7 below baseline, got %+v", last)
	}
	if !last.RollbackDecision {
		t.Fatalf("expected rollback decision driven by trend alone, got %+v", last)
	}
}

func TestDetector_AdaptiveThresholdWidensUnderLoad(t *testing.T) {
	d := NewDetector(0.3, 2.0)
	low := d.adaptiveThreshold(0, 0)
	high := d.adaptiveThreshold(200, 500)
	if high <= low {
		t.Fatalf("expected threshold to widen under load and variation: low=%f high=%f", low, high)
	}
}

func TestPValueFor_MonotonicBuckets(t *testing.T) {
	cases := []struct {
		z    float64
		want float64
	}{
		{0.5, 1.0},
		{1.5, 0.317},
		{2.5, 0.045},
		{3.5, 0.003},
	}
	for _, c := range cases {
		if got := pValueFor(c.z); got != c.want {
			t.Fatalf("pValueFor(%f) = %f, want %f", c.z, got, c.want)
		}
	}
}
