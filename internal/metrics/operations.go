package metrics

import (
	"sync"
	"time"
)

// OperationMetrics holds the per-endpoint delivery counters. Instances are
// mutated only through the Collector's locked methods and live for the
// process lifetime.
type OperationMetrics struct {
	Endpoint            string    `json:"endpoint"`
	TotalAttempts       int64     `json:"total_attempts"`
	SuccessfulAttempts  int64     `json:"successful_attempts"`
	FailedAttempts      int64     `json:"failed_attempts"`
	RetryAttempts       int64     `json:"retry_attempts"`
	FallbackInvocations int64     `json:"fallback_invocations"`
	TotalRetrySteps     int64     `json:"total_retry_steps"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
}

// SuccessRate returns the fraction of attempts that succeeded.
func (m OperationMetrics) SuccessRate() float64 {
	if m.TotalAttempts == 0 {
		return 0
	}
	return float64(m.SuccessfulAttempts) / float64(m.TotalAttempts)
}

// FallbackRate returns the fraction of attempts that invoked a fallback.
func (m OperationMetrics) FallbackRate() float64 {
	if m.TotalAttempts == 0 {
		return 0
	}
	return float64(m.FallbackInvocations) / float64(m.TotalAttempts)
}

// AverageRetries returns the mean number of retry steps per attempt that
// failed or retried.
func (m OperationMetrics) AverageRetries() float64 {
	denom := m.FailedAttempts + m.RetryAttempts
	if denom == 0 {
		return 0
	}
	return float64(m.TotalRetrySteps) / float64(denom)
}

// Collector is the thread-safe store of per-endpoint operation metrics.
type Collector struct {
	mu  sync.RWMutex
	ops map[string]*OperationMetrics
	now func() time.Time
}

// NewCollector creates an empty operation metrics collector.
func NewCollector() *Collector {
	return &Collector{
		ops: make(map[string]*OperationMetrics),
		now: time.Now,
	}
}

func (c *Collector) get(endpoint string) *OperationMetrics {
	m, ok := c.ops[endpoint]
	if !ok {
		m = &OperationMetrics{Endpoint: endpoint}
		c.ops[endpoint] = m
	}
	return m
}

// RecordAttempt increments the attempt counter for an endpoint.
func (c *Collector) RecordAttempt(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(endpoint).TotalAttempts++
}

// RecordSuccess increments the success counter for an endpoint.
func (c *Collector) RecordSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(endpoint).SuccessfulAttempts++
}

// RecordFailure increments the failure counter and remembers the error.
func (c *Collector) RecordFailure(endpoint, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(endpoint)
	m.FailedAttempts++
	m.LastError = errMsg
	m.LastErrorAt = c.now()
}

// RecordRetry counts one retried attempt carrying the given number of
// retry steps.
func (c *Collector) RecordRetry(endpoint string, steps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(endpoint)
	m.RetryAttempts++
	m.TotalRetrySteps += int64(steps)
}

// RecordFallback increments the fallback invocation counter.
func (c *Collector) RecordFallback(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(endpoint).FallbackInvocations++
}

// Snapshot returns a copy of the metrics for an endpoint. The second return
// reports whether the endpoint has any recorded metrics.
func (c *Collector) Snapshot(endpoint string) (OperationMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.ops[endpoint]
	if !ok {
		return OperationMetrics{}, false
	}
	return *m, true
}

// Endpoints returns all endpoints with recorded metrics.
func (c *Collector) Endpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	endpoints := make([]string, 0, len(c.ops))
	for endpoint := range c.ops {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// Reset clears metrics for an endpoint and reports whether any existed.
func (c *Collector) Reset(endpoint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ops[endpoint]
	delete(c.ops, endpoint)
	return ok
}
