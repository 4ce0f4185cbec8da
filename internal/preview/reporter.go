package preview

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ThrottledReporter forwards reports to a Reporter at a bounded rate and
// drops the excess.
type ThrottledReporter struct {
	next    Reporter
	limiter *rate.Limiter
	metrics *Metrics
	dropped atomic.Uint64
}

// NewThrottledReporter allows limit reports per second with the given
// burst. A non-positive limit disables throttling.
func NewThrottledReporter(next Reporter, limit rate.Limit, burst int, metrics *Metrics) *ThrottledReporter {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledReporter{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
	}
}

// Report has the Reporter signature.
func (t *ThrottledReporter) Report(message string) {
	if t.next == nil {
		return
	}
	if !t.limiter.Allow() {
		t.dropped.Add(1)
		t.metrics.recordDropped()
		return
	}
	t.next(message)
}

// Dropped returns how many reports were discarded.
func (t *ThrottledReporter) Dropped() uint64 {
	return t.dropped.Load()
}
