package enforcement

import (
	"sync"
	"time"
)

const (
	// outcomeRingCap bounds the per-endpoint outcome history.
	outcomeRingCap = 1000
	// errorRateWindow is the trailing window over which the error rate is
	// computed.
	errorRateWindow = 5 * time.Minute
	// errorRateMinSamples is the minimum number of in-window outcomes
	// required before an error rate is considered meaningful.
	errorRateMinSamples = 10
)

type outcome struct {
	timestamp time.Time
	success   bool
}

// outcomeTracker keeps a bounded ring of response outcomes per endpoint and
// derives a trailing error rate from it.
type outcomeTracker struct {
	mu    sync.Mutex
	rings map[string][]outcome
}

func newOutcomeTracker() *outcomeTracker {
	return &outcomeTracker{rings: make(map[string][]outcome)}
}

// Record appends an outcome, evicting the oldest entry once the ring is
// full.
func (t *outcomeTracker) Record(endpoint string, ts time.Time, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ring := t.rings[endpoint]
	if len(ring) >= outcomeRingCap {
		ring = ring[1:]
	}
	t.rings[endpoint] = append(ring, outcome{timestamp: ts, success: success})
}

// ErrorRate returns the failure fraction across outcomes inside the
// trailing window. ok is false when fewer than errorRateMinSamples
// outcomes fall inside the window.
func (t *outcomeTracker) ErrorRate(endpoint string, now time.Time) (rate float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-errorRateWindow)
	var total, failed int
	for _, o := range t.rings[endpoint] {
		if o.timestamp.Before(cutoff) {
			continue
		}
		total++
		if !o.success {
			failed++
		}
	}

	if total < errorRateMinSamples {
		return 0, false
	}
	return float64(failed) / float64(total), true
}
