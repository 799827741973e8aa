// Package genome — batcher.go
//
// AdaptiveBatcher tracks an EMA of recent success-rate and
// average-improvement using the standard update
// new = 0.7*sample + 0.3*old, applied to two tracked quantities instead
// of one.

package genome

import "sync"

const emaWeight = 0.7

// BatcherConfig bounds the adaptive batch size.
type BatcherConfig struct {
	Min int
	Max int
}

// AdaptiveBatcher adjusts batch size based on recent trial outcomes
//. Safe for concurrent use.
type AdaptiveBatcher struct {
	mu sync.Mutex

	cfg  BatcherConfig
	size int

	successRateEMA float64
	improvementEMA float64
	hasSample      bool
}

// NewAdaptiveBatcher creates a batcher starting at cfg.Min.
func NewAdaptiveBatcher(cfg BatcherConfig) *AdaptiveBatcher {
	if cfg.Min < 1 {
		cfg.Min = 1
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	return &AdaptiveBatcher{cfg: cfg, size: cfg.Min}
}

// Size returns the current batch size.
func (b *AdaptiveBatcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Observe feeds in one batch's results: successRate and
// averageImprovement are both in [0, 1] (i.e. already normalized
// percentages). Rules:
//   - success > 70% AND improvement > 5% -> size += 1 (cap Max)
//   - success < 30% -> size -= 1 (floor Min)
//   - else hold
func (b *AdaptiveBatcher) Observe(successRate, averageImprovement float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasSample {
		b.successRateEMA = successRate
		b.improvementEMA = averageImprovement
		b.hasSample = true
	} else {
		b.successRateEMA = emaWeight*successRate + (1-emaWeight)*b.successRateEMA
		b.improvementEMA = emaWeight*averageImprovement + (1-emaWeight)*b.improvementEMA
	}

	switch {
	case b.successRateEMA > 0.70 && b.improvementEMA > 0.05:
		if b.size < b.cfg.Max {
			b.size++
		}
	case b.successRateEMA < 0.30:
		if b.size > b.cfg.Min {
			b.size--
		}
	}
}

// SuccessRateEMA and ImprovementEMA expose the current smoothed values
// (for metrics and tests).
func (b *AdaptiveBatcher) SuccessRateEMA() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successRateEMA
}

func (b *AdaptiveBatcher) ImprovementEMA() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.improvementEMA
}
